package repository

import (
	"context"
	"time"

	"emby-entitlement-bot/internal/domain/model"
)

// CodeRepository is the port for the redemption code registry.
type CodeRepository interface {
	// Save creates a new code.
	Save(ctx context.Context, code *model.RedemptionCode) error
	// FindByCode returns a code by its token, redeemed or not.
	FindByCode(ctx context.Context, code string) (*model.RedemptionCode, error)
	// MarkRedeemed flips a code to redeemed if and only if it is still unused.
	// Returns false when a concurrent redemption won; exactly one caller ever
	// observes true for a given code.
	MarkRedeemed(ctx context.Context, code string, by int64, at time.Time) (bool, error)
	// List returns all codes; unusedOnly restricts to unredeemed ones.
	List(ctx context.Context, unusedOnly bool) ([]*model.RedemptionCode, error)
}
