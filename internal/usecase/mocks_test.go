//go:build !integration

package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memCodeRepo is a small in-memory implementation used by unit tests.
type memCodeRepo struct {
	mu      sync.Mutex
	store   map[string]*model.RedemptionCode // map by code token
	saveErr error                            // used by tests to simulate save failures
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{store: make(map[string]*model.RedemptionCode)}
}

func (m *memCodeRepo) Save(ctx context.Context, code *model.RedemptionCode) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *code
	m.store[code.Code] = &cp
	return nil
}

func (m *memCodeRepo) FindByCode(ctx context.Context, token string) (*model.RedemptionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCodeRepo) MarkRedeemed(ctx context.Context, token string, by int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[token]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.Redeemed {
		return false, nil
	}
	c.Redeemed = true
	c.RedeemedBy = &by
	c.RedeemedAt = &at
	return true, nil
}

func (m *memCodeRepo) List(ctx context.Context, unusedOnly bool) ([]*model.RedemptionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RedemptionCode
	for _, c := range m.store {
		if unusedOnly && c.Redeemed {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// memBindingRepo is an in-memory binding store keyed by Telegram ID.
type memBindingRepo struct {
	mu      sync.Mutex
	store   map[int64]*model.AccountBinding
	saveErr error
}

func newMemBindingRepo() *memBindingRepo {
	return &memBindingRepo{store: make(map[int64]*model.AccountBinding)}
}

func copyBinding(b *model.AccountBinding) *model.AccountBinding {
	cp := *b
	if b.DisabledAt != nil {
		at := *b.DisabledAt
		cp.DisabledAt = &at
	}
	cp.History = append([]model.GrantEvent(nil), b.History...)
	return &cp
}

func (m *memBindingRepo) Find(ctx context.Context, tgID int64) (*model.AccountBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[tgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyBinding(b), nil
}

func (m *memBindingRepo) FindByEmbyUsername(ctx context.Context, name string) (*model.AccountBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.store {
		if b.EmbyUsername == name {
			return copyBinding(b), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memBindingRepo) Save(ctx context.Context, b *model.AccountBinding) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[b.TelegramID] = copyBinding(b)
	return nil
}

func (m *memBindingRepo) Delete(ctx context.Context, tgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, tgID)
	return nil
}

func (m *memBindingRepo) ListAll(ctx context.Context) ([]*model.AccountBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.AccountBinding, 0, len(m.store))
	for _, b := range m.store {
		out = append(out, copyBinding(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TelegramID < out[j].TelegramID })
	return out, nil
}

// fakeGateway records provisioning calls and can be told to fail per method.
type fakeGateway struct {
	mu sync.Mutex

	CreateFunc  func(ctx context.Context, username, password string) (string, error)
	DisableFunc func(ctx context.Context, accountID string) error
	EnableFunc  func(ctx context.Context, accountID string) error
	DeleteFunc  func(ctx context.Context, accountID string) error

	created  []string
	disabled []string
	enabled  []string
	deleted  []string
}

func newFakeGateway() *fakeGateway { return &fakeGateway{} }

func (g *fakeGateway) Create(ctx context.Context, username, password string) (string, error) {
	if g.CreateFunc != nil {
		return g.CreateFunc(ctx, username, password)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("emby-%s", username)
	g.created = append(g.created, id)
	return id, nil
}

func (g *fakeGateway) Disable(ctx context.Context, accountID string) error {
	if g.DisableFunc != nil {
		return g.DisableFunc(ctx, accountID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled = append(g.disabled, accountID)
	return nil
}

func (g *fakeGateway) Enable(ctx context.Context, accountID string) error {
	if g.EnableFunc != nil {
		return g.EnableFunc(ctx, accountID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = append(g.enabled, accountID)
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, accountID string) error {
	if g.DeleteFunc != nil {
		return g.DeleteFunc(ctx, accountID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, accountID)
	return nil
}

func (g *fakeGateway) deleteCount(accountID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, id := range g.deleted {
		if id == accountID {
			n++
		}
	}
	return n
}

// fakeNotifier records every message sent.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	To   int64
	Text string
}

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{} }

func (n *fakeNotifier) Send(ctx context.Context, tgID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: tgID, Text: text})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) countFor(tgID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.To == tgID {
			c++
		}
	}
	return c
}
