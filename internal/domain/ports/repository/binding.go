package repository

import (
	"context"

	"emby-entitlement-bot/internal/domain/model"
)

// BindingRepository is the port for account bindings. All mutating operations
// on a single binding are serialized by the use-case layer; implementations
// must make each Save durable before returning (write-then-ack).
type BindingRepository interface {
	Find(ctx context.Context, telegramID int64) (*model.AccountBinding, error)
	FindByEmbyUsername(ctx context.Context, embyUsername string) (*model.AccountBinding, error)
	// Save creates or overwrites the binding record, including its history.
	Save(ctx context.Context, binding *model.AccountBinding) error
	// Delete removes the record entirely. Lifecycle deletion keeps the record
	// with state=deleted for audit; Delete is only for purging those.
	Delete(ctx context.Context, telegramID int64) error
	// ListAll returns a stable snapshot of every binding, deleted ones included.
	ListAll(ctx context.Context) ([]*model.AccountBinding, error)
}
