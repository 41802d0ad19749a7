package adapter

import "context"

// Notifier delivers a text message to a Telegram identity. Send failures are
// logged by callers and never block a state transition.
type Notifier interface {
	Send(ctx context.Context, telegramID int64, text string) error
}
