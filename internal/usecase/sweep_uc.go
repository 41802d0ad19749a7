package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/domain/ports/adapter"
	"emby-entitlement-bot/internal/domain/ports/repository"
	"emby-entitlement-bot/internal/infra/logging"
)

// Compile-time check
var _ SweepUseCase = (*sweepUC)(nil)

// SweepStats summarizes one sweep run.
type SweepStats struct {
	At       time.Time
	Scanned  int
	Warned   int
	Disabled int
	Deleted  int
	Failed   int
	// States counts every stored binding by state, audit records included.
	States map[string]int
}

// SweepUseCase drives the time-based state machine: expiry warnings,
// disable-on-expiry, and delete-after-grace. One binding's failure never
// aborts the scan for the rest; gateway failures are retried next run.
type SweepUseCase interface {
	// Sweep evaluates every non-deleted binding. prev is the previous run's
	// instant; warning thresholds fire when their crossing falls inside
	// (prev, now]. Returns the stats of this run; callers feed stats.At back
	// in as the next prev.
	Sweep(ctx context.Context, prev time.Time) (SweepStats, error)
}

type sweepUC struct {
	bindings repository.BindingRepository
	gateway  adapter.ProvisioningGateway
	notifier adapter.Notifier
	locks    *KeyedMutex
	warnDays []int
	grace    time.Duration
	log      *zerolog.Logger
	now      func() time.Time
}

func NewSweepUseCase(
	bindings repository.BindingRepository,
	gateway adapter.ProvisioningGateway,
	notifier adapter.Notifier,
	locks *KeyedMutex,
	warnDays []int,
	gracePeriod time.Duration,
	logger *zerolog.Logger,
) *sweepUC {
	l := logger.With().Str("component", "SweepUC").Logger()
	return &sweepUC{
		bindings: bindings,
		gateway:  gateway,
		notifier: notifier,
		locks:    locks,
		warnDays: warnDays,
		grace:    gracePeriod,
		log:      &l,
		now:      time.Now,
	}
}

func (u *sweepUC) Sweep(ctx context.Context, prev time.Time) (SweepStats, error) {
	defer logging.TraceDuration(u.log, "SweepUC.Sweep")()
	now := u.now()
	stats := SweepStats{At: now, States: map[string]int{}}

	all, err := u.bindings.ListAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("scan bindings: %w", err)
	}

	for _, snapshot := range all {
		stats.States[string(snapshot.State)]++
		if snapshot.State == model.BindingStateDeleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			// Shutdown mid-scan: stop cleanly between bindings, never inside
			// a transition.
			return stats, err
		}
		stats.Scanned++
		if err := u.sweepOne(ctx, snapshot.TelegramID, prev, now, &stats); err != nil {
			stats.Failed++
			u.log.Error().Err(err).Int64("tg_id", snapshot.TelegramID).Msg("sweep failed for binding")
		}
	}

	u.log.Info().
		Int("scanned", stats.Scanned).
		Int("warned", stats.Warned).
		Int("disabled", stats.Disabled).
		Int("deleted", stats.Deleted).
		Int("failed", stats.Failed).
		Msg("sweep finished")
	return stats, nil
}

// sweepOne evaluates a single binding under its key lock. Notifications are
// sent after the lock is released; only the gateway call needed for the
// transition itself happens under the lock.
func (u *sweepUC) sweepOne(ctx context.Context, tgID int64, prev, now time.Time, stats *SweepStats) error {
	var pending []string

	err := func() error {
		unlock := u.locks.Lock(tgID)
		defer unlock()

		// Re-read under the lock: a concurrent renewal may have moved the
		// expiry past now since the scan snapshot was taken.
		b, err := u.bindings.Find(ctx, tgID)
		if err != nil {
			return fmt.Errorf("find binding: %w", err)
		}

		switch b.State {
		case model.BindingStateActive:
			if b.Expired(now) {
				if err := u.gateway.Disable(ctx, b.EmbyUserID); err != nil {
					// Stays active; retried next sweep.
					return fmt.Errorf("%w: disable account: %v", domain.ErrProvisioningFailed, err)
				}
				b.Disable(now)
				if err := u.bindings.Save(ctx, b); err != nil {
					return fmt.Errorf("%w: save binding: %v", domain.ErrPersistenceFailed, err)
				}
				stats.Disabled++
				pending = append(pending, disabledMessage(b))
				return nil
			}
			if d, ok := u.warnThreshold(b, prev, now); ok {
				stats.Warned++
				pending = append(pending, warningMessage(b, d))
			}

		case model.BindingStateDisabled:
			if !b.Expired(now) {
				// A renewal extended the clock but the gateway re-enable did
				// not go through at the time; recover here.
				if err := u.gateway.Enable(ctx, b.EmbyUserID); err != nil {
					return fmt.Errorf("%w: enable account: %v", domain.ErrProvisioningFailed, err)
				}
				b.Reactivate()
				if err := u.bindings.Save(ctx, b); err != nil {
					return fmt.Errorf("%w: save binding: %v", domain.ErrPersistenceFailed, err)
				}
				return nil
			}
			if b.DisabledAt != nil && now.Sub(*b.DisabledAt) >= u.grace {
				if err := u.gateway.Delete(ctx, b.EmbyUserID); err != nil {
					// Stays disabled; retried next sweep.
					return fmt.Errorf("%w: delete account: %v", domain.ErrProvisioningFailed, err)
				}
				b.State = model.BindingStateDeleted
				if err := u.bindings.Save(ctx, b); err != nil {
					return fmt.Errorf("%w: save binding: %v", domain.ErrPersistenceFailed, err)
				}
				stats.Deleted++
				pending = append(pending, deletedMessage(b))
			}
		}
		return nil
	}()
	if err != nil {
		return err
	}

	for _, text := range pending {
		if err := u.notifier.Send(ctx, tgID, text); err != nil {
			// Fire-and-forget: a lost notification never blocks a transition.
			u.log.Warn().Err(err).Int64("tg_id", tgID).Msg("sweep notification failed")
		}
	}
	return nil
}

// warnThreshold returns the most urgent warning threshold whose crossing
// instant (expiresAt - d days) falls inside (prev, now]. Bucketing against the
// previous run means a threshold is never missed between sweeps and never
// fired twice, regardless of sweep granularity.
func (u *sweepUC) warnThreshold(b *model.AccountBinding, prev, now time.Time) (int, bool) {
	best := 0
	found := false
	for _, d := range u.warnDays {
		if d <= 0 {
			continue
		}
		crossing := b.ExpiresAt.Add(-time.Duration(d) * 24 * time.Hour)
		if crossing.After(prev) && !crossing.After(now) {
			if !found || d < best {
				best = d
				found = true
			}
		}
	}
	return best, found
}

func warningMessage(b *model.AccountBinding, daysLeft int) string {
	return fmt.Sprintf(
		"⚠️ Account expiry reminder\n\n"+
			"Your account is about to expire:\n"+
			"Username: %s\n"+
			"Expires: %s\n"+
			"Days left: %d\n\n"+
			"💡 To renew:\n"+
			"1. Ask an admin for a renew code\n"+
			"2. Send /renew <code>",
		b.EmbyUsername, b.ExpiresAt.Format("2006-01-02"), daysLeft,
	)
}

func disabledMessage(b *model.AccountBinding) string {
	return fmt.Sprintf(
		"⛔ Your account has expired and was disabled.\n\n"+
			"Username: %s\n"+
			"Expired: %s\n\n"+
			"Renew with /renew <code> to restore access before it is removed.",
		b.EmbyUsername, b.ExpiresAt.Format("2006-01-02"),
	)
}

func deletedMessage(b *model.AccountBinding) string {
	return fmt.Sprintf(
		"🗑 Your account %s was removed after the grace period.\n"+
			"Register again with /register <code> if you want a new one.",
		b.EmbyUsername,
	)
}
