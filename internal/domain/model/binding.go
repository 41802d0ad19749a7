package model

import (
	"time"

	"emby-entitlement-bot/internal/domain"
)

type BindingState string

const (
	BindingStateActive   BindingState = "active"
	BindingStateDisabled BindingState = "disabled"
	BindingStateDeleted  BindingState = "deleted" // terminal
)

// GrantEvent records one entitlement grant. The history is append-only.
type GrantEvent struct {
	At    time.Time `json:"at"`
	Days  int       `json:"days"`
	Code  string    `json:"code"`
	Actor string    `json:"actor"` // "register" | "self" | "admin"
}

// AccountBinding links a Telegram identity to a provisioned Emby account and
// its entitlement clock. ExpiresAt is the single source of truth for remaining
// entitlement; days left are always recomputed from it, never stored.
type AccountBinding struct {
	TelegramID   int64
	Username     string // Telegram display name, mutable
	EmbyUserID   string // immutable once set
	EmbyUsername string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	State        BindingState
	DisabledAt   *time.Time
	History      []GrantEvent
}

// NewAccountBinding creates an active binding expiring grantDays from now.
func NewAccountBinding(tgID int64, username, embyUserID, embyUsername, code string, grantDays int, now time.Time) (*AccountBinding, error) {
	if tgID == 0 || embyUserID == "" || embyUsername == "" || grantDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &AccountBinding{
		TelegramID:   tgID,
		Username:     username,
		EmbyUserID:   embyUserID,
		EmbyUsername: embyUsername,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(grantDays) * 24 * time.Hour),
		State:        BindingStateActive,
		History: []GrantEvent{
			{At: now, Days: grantDays, Code: code, Actor: "register"},
		},
	}, nil
}

// Expired reports whether the entitlement clock has run out.
func (b *AccountBinding) Expired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

// DaysLeft returns the remaining entitlement in whole days, rounded up.
// A binding expiring in 1 hour still has 1 day left; an expired one has 0 or less.
func (b *AccountBinding) DaysLeft(now time.Time) int {
	until := b.ExpiresAt.Sub(now)
	days := int(until / (24 * time.Hour))
	if until%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Extend applies the renewal rule: a fresh expiry is computed from whichever
// of now / the old expiry is later, so renewing early extends from the prior
// expiry and renewing after expiry restarts from now. It appends a history
// event and returns the expiry that was in effect before the extension.
func (b *AccountBinding) Extend(days int, code, actor string, now time.Time) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, domain.ErrInvalidArgument
	}
	if b.State == BindingStateDeleted {
		return time.Time{}, domain.ErrBindingDeleted
	}
	old := b.ExpiresAt
	base := b.ExpiresAt
	if base.Before(now) {
		base = now
	}
	b.ExpiresAt = base.Add(time.Duration(days) * 24 * time.Hour)
	b.History = append(b.History, GrantEvent{At: now, Days: days, Code: code, Actor: actor})
	return old, nil
}

// Disable marks the binding disabled at the given instant.
func (b *AccountBinding) Disable(now time.Time) {
	b.State = BindingStateDisabled
	b.DisabledAt = &now
}

// Reactivate clears the disabled marker after a successful re-enable.
func (b *AccountBinding) Reactivate() {
	b.State = BindingStateActive
	b.DisabledAt = nil
}
