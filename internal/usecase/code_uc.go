package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/domain/ports/repository"
)

// Compile-time check
var _ CodeUseCase = (*codeUC)(nil)

// CodeUseCase is the redemption code registry: it issues single-use codes and
// spends them. A code is spent on the redemption attempt; downstream failures
// never un-redeem it, which prevents retry-driven double-grants.
type CodeUseCase interface {
	Issue(ctx context.Context, kind model.CodeKind, grantDays int) (*model.RedemptionCode, error)
	// Redeem spends the code on behalf of `by`. It fails with ErrCodeNotFound,
	// ErrCodeKindMismatch or ErrCodeAlreadyUsed; exactly one of two concurrent
	// redemptions of the same code succeeds.
	Redeem(ctx context.Context, code string, kind model.CodeKind, by int64) (*model.RedemptionCode, error)
	List(ctx context.Context, unusedOnly bool) ([]*model.RedemptionCode, error)
}

type codeUC struct {
	codes repository.CodeRepository
	log   *zerolog.Logger
	now   func() time.Time
}

func NewCodeUseCase(codes repository.CodeRepository, logger *zerolog.Logger) *codeUC {
	l := logger.With().Str("component", "CodeUC").Logger()
	return &codeUC{codes: codes, log: &l, now: time.Now}
}

func (u *codeUC) Issue(ctx context.Context, kind model.CodeKind, grantDays int) (*model.RedemptionCode, error) {
	if grantDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if kind != model.CodeKindRegister && kind != model.CodeKindRenew {
		return nil, domain.ErrInvalidArgument
	}

	// A generated token can collide with an existing one; the unique
	// constraint reports it and we draw again.
	for attempt := 0; attempt < 3; attempt++ {
		token, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		code := &model.RedemptionCode{
			ID:        uuid.NewString(),
			Code:      token,
			Kind:      kind,
			GrantDays: grantDays,
			CreatedAt: u.now(),
		}
		if err := u.codes.Save(ctx, code); err != nil {
			if errors.Is(err, domain.ErrCodeCollision) {
				continue
			}
			return nil, fmt.Errorf("%w: save code: %v", domain.ErrPersistenceFailed, err)
		}
		u.log.Info().Str("kind", string(kind)).Int("days", grantDays).Msg("code issued")
		return code, nil
	}
	return nil, fmt.Errorf("%w: save code: too many collisions", domain.ErrPersistenceFailed)
}

func (u *codeUC) Redeem(ctx context.Context, token string, kind model.CodeKind, by int64) (*model.RedemptionCode, error) {
	code, err := u.codes.FindByCode(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, fmt.Errorf("find code: %w", err)
	}
	if code.Kind != kind {
		return nil, domain.ErrCodeKindMismatch
	}
	if code.Redeemed {
		return nil, domain.ErrCodeAlreadyUsed
	}

	at := u.now()
	ok, err := u.codes.MarkRedeemed(ctx, token, by, at)
	if err != nil {
		return nil, fmt.Errorf("%w: mark redeemed: %v", domain.ErrPersistenceFailed, err)
	}
	if !ok {
		// Lost the race against a concurrent redemption.
		return nil, domain.ErrCodeAlreadyUsed
	}

	code.Redeemed = true
	code.RedeemedBy = &by
	code.RedeemedAt = &at
	u.log.Info().Str("kind", string(code.Kind)).Int64("by", by).Msg("code redeemed")
	return code, nil
}

func (u *codeUC) List(ctx context.Context, unusedOnly bool) ([]*model.RedemptionCode, error) {
	return u.codes.List(ctx, unusedOnly)
}
