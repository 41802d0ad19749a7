package usecase

import (
	"context"
	"errors"
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
var _ BindingUseCase = (*bindingUC)(nil)

// RegistrationResult carries everything the transport needs to answer a
// successful registration. The password is never persisted.
type RegistrationResult struct {
	Binding  *model.AccountBinding
	Password string
}

// RenewalResult describes one applied grant.
type RenewalResult struct {
	Binding     *model.AccountBinding
	OldExpires  time.Time
	Days        int
	Reactivated bool
}

// BindingUseCase is the command-handler core: every operation validates its
// preconditions, serializes on the binding key, mutates, and persists before
// returning. Admin-only operations check the admin set before any mutation.
type BindingUseCase interface {
	Register(ctx context.Context, tgID int64, username, code string) (*RegistrationResult, error)
	Renew(ctx context.Context, tgID int64, code string) (*RenewalResult, error)
	AdminRenew(ctx context.Context, adminID int64, embyUsername string, days int) (*RenewalResult, error)
	AdminDelete(ctx context.Context, adminID int64, embyUsername string) (*model.AccountBinding, error)
	Info(ctx context.Context, tgID int64) (*model.AccountBinding, error)
	// List returns all non-deleted bindings for admin inspection.
	List(ctx context.Context) ([]*model.AccountBinding, error)
	// Purge removes a deleted binding's audit record entirely.
	Purge(ctx context.Context, adminID, tgID int64) error
	IsAdmin(tgID int64) bool
}

type bindingUC struct {
	bindings repository.BindingRepository
	codes    CodeUseCase
	gateway  adapter.ProvisioningGateway
	locks    *KeyedMutex
	admins   map[int64]struct{}
	log      *zerolog.Logger
	now      func() time.Time
}

func NewBindingUseCase(
	bindings repository.BindingRepository,
	codes CodeUseCase,
	gateway adapter.ProvisioningGateway,
	locks *KeyedMutex,
	adminIDs []int64,
	logger *zerolog.Logger,
) *bindingUC {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	l := logger.With().Str("component", "BindingUC").Logger()
	return &bindingUC{
		bindings: bindings,
		codes:    codes,
		gateway:  gateway,
		locks:    locks,
		admins:   admins,
		log:      &l,
		now:      time.Now,
	}
}

func (u *bindingUC) IsAdmin(tgID int64) bool {
	_, ok := u.admins[tgID]
	return ok
}

// Register redeems a register code, provisions the account, and only then
// creates the binding. The code stays spent even when provisioning fails, so
// a failed attempt can never be replayed into a double grant.
func (u *bindingUC) Register(ctx context.Context, tgID int64, username, token string) (*RegistrationResult, error) {
	defer logging.TraceDuration(u.log, "BindingUC.Register")()
	unlock := u.locks.Lock(tgID)
	defer unlock()

	existing, err := u.bindings.Find(ctx, tgID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find binding: %w", err)
	}
	if existing != nil && existing.State != model.BindingStateDeleted {
		return nil, domain.ErrBindingAlreadyExists
	}

	code, err := u.codes.Redeem(ctx, token, model.CodeKindRegister, tgID)
	if err != nil {
		return nil, err
	}

	embyUsername := fmt.Sprintf("user_%d", tgID)
	password, err := generatePassword()
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}

	accountID, err := u.gateway.Create(ctx, embyUsername, password)
	if err != nil {
		// Deliberate asymmetry: the code was spent on the attempt.
		u.log.Error().Err(err).Int64("tg_id", tgID).Msg("provisioning failed during register")
		return nil, fmt.Errorf("%w: create account: %v", domain.ErrProvisioningFailed, err)
	}

	binding, err := model.NewAccountBinding(tgID, username, accountID, embyUsername, code.Code, code.GrantDays, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.bindings.Save(ctx, binding); err != nil {
		// The provisioned account is now orphaned; operators can reconcile it
		// from the gateway side, the engine must not ack an unpersisted binding.
		u.log.Error().Err(err).Int64("tg_id", tgID).Str("account_id", accountID).Msg("persist failed after provisioning")
		return nil, fmt.Errorf("%w: save binding: %v", domain.ErrPersistenceFailed, err)
	}

	u.log.Info().Int64("tg_id", tgID).Str("emby_user", embyUsername).Time("expires_at", binding.ExpiresAt).Msg("registered")
	return &RegistrationResult{Binding: binding, Password: password}, nil
}

// Renew redeems a renew code for the caller's own binding. A disabled binding
// is re-enabled at the gateway and returned to the active state.
func (u *bindingUC) Renew(ctx context.Context, tgID int64, token string) (*RenewalResult, error) {
	defer logging.TraceDuration(u.log, "BindingUC.Renew")()
	unlock := u.locks.Lock(tgID)
	defer unlock()

	binding, err := u.findCurrent(ctx, tgID)
	if err != nil {
		return nil, err
	}

	code, err := u.codes.Redeem(ctx, token, model.CodeKindRenew, tgID)
	if err != nil {
		return nil, err
	}
	return u.applyGrant(ctx, binding, code.GrantDays, code.Code, "self")
}

// AdminRenew grants days directly, skipping code redemption.
func (u *bindingUC) AdminRenew(ctx context.Context, adminID int64, embyUsername string, days int) (*RenewalResult, error) {
	if !u.IsAdmin(adminID) {
		return nil, domain.ErrNotAuthorized
	}
	if days <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	target, err := u.bindings.FindByEmbyUsername(ctx, embyUsername)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrBindingNotFound
		}
		return nil, fmt.Errorf("find binding: %w", err)
	}

	unlock := u.locks.Lock(target.TelegramID)
	defer unlock()

	binding, err := u.findCurrent(ctx, target.TelegramID)
	if err != nil {
		return nil, err
	}
	return u.applyGrant(ctx, binding, days, "", "admin")
}

// AdminDelete deprovisions the account and marks the binding deleted. The
// record is kept for audit; it is excluded from listing and sweeping.
func (u *bindingUC) AdminDelete(ctx context.Context, adminID int64, embyUsername string) (*model.AccountBinding, error) {
	if !u.IsAdmin(adminID) {
		return nil, domain.ErrNotAuthorized
	}

	target, err := u.bindings.FindByEmbyUsername(ctx, embyUsername)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrBindingNotFound
		}
		return nil, fmt.Errorf("find binding: %w", err)
	}

	unlock := u.locks.Lock(target.TelegramID)
	defer unlock()

	binding, err := u.findCurrent(ctx, target.TelegramID)
	if err != nil {
		return nil, err
	}

	if err := u.gateway.Delete(ctx, binding.EmbyUserID); err != nil {
		return nil, fmt.Errorf("%w: delete account: %v", domain.ErrProvisioningFailed, err)
	}
	binding.State = model.BindingStateDeleted
	if err := u.bindings.Save(ctx, binding); err != nil {
		return nil, fmt.Errorf("%w: save binding: %v", domain.ErrPersistenceFailed, err)
	}

	u.log.Info().Int64("tg_id", binding.TelegramID).Str("emby_user", embyUsername).Msg("binding deleted by admin")
	return binding, nil
}

func (u *bindingUC) Info(ctx context.Context, tgID int64) (*model.AccountBinding, error) {
	return u.findCurrent(ctx, tgID)
}

func (u *bindingUC) List(ctx context.Context) ([]*model.AccountBinding, error) {
	all, err := u.bindings.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.State != model.BindingStateDeleted {
			out = append(out, b)
		}
	}
	return out, nil
}

func (u *bindingUC) Purge(ctx context.Context, adminID, tgID int64) error {
	if !u.IsAdmin(adminID) {
		return domain.ErrNotAuthorized
	}

	unlock := u.locks.Lock(tgID)
	defer unlock()

	binding, err := u.bindings.Find(ctx, tgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrBindingNotFound
		}
		return fmt.Errorf("find binding: %w", err)
	}
	if binding.State != model.BindingStateDeleted {
		return domain.ErrInvalidArgument
	}
	if err := u.bindings.Delete(ctx, tgID); err != nil {
		return fmt.Errorf("%w: delete binding: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

// findCurrent loads a binding and hides deleted records behind the proper
// domain errors.
func (u *bindingUC) findCurrent(ctx context.Context, tgID int64) (*model.AccountBinding, error) {
	binding, err := u.bindings.Find(ctx, tgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrBindingNotFound
		}
		return nil, fmt.Errorf("find binding: %w", err)
	}
	if binding.State == model.BindingStateDeleted {
		return nil, domain.ErrBindingNotFound
	}
	return binding, nil
}

// applyGrant extends the entitlement clock under the already-held key lock,
// re-enabling the gateway account first when the binding is disabled.
func (u *bindingUC) applyGrant(ctx context.Context, binding *model.AccountBinding, days int, code, actor string) (*RenewalResult, error) {
	reactivated := false
	if binding.State == model.BindingStateDisabled {
		if err := u.gateway.Enable(ctx, binding.EmbyUserID); err != nil {
			return nil, fmt.Errorf("%w: enable account: %v", domain.ErrProvisioningFailed, err)
		}
		binding.Reactivate()
		reactivated = true
	}

	old, err := binding.Extend(days, code, actor, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.bindings.Save(ctx, binding); err != nil {
		return nil, fmt.Errorf("%w: save binding: %v", domain.ErrPersistenceFailed, err)
	}

	u.log.Info().
		Int64("tg_id", binding.TelegramID).
		Str("actor", actor).
		Int("days", days).
		Time("expires_at", binding.ExpiresAt).
		Msg("entitlement extended")
	return &RenewalResult{Binding: binding, OldExpires: old, Days: days, Reactivated: reactivated}, nil
}
