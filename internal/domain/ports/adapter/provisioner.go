package adapter

import "context"

// ProvisioningGateway is the port to the external system that owns the managed
// media-server accounts. Failures are retryable from the engine's point of
// view; the gateway implementation owns its own timeouts.
type ProvisioningGateway interface {
	// Create provisions an account and returns its external ID. The
	// implementation may copy permissions from a configured template account.
	Create(ctx context.Context, username, password string) (string, error)
	Disable(ctx context.Context, accountID string) error
	Enable(ctx context.Context, accountID string) error
	Delete(ctx context.Context, accountID string) error
}
