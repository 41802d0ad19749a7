package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/domain/ports/adapter"
	"emby-entitlement-bot/internal/infra/metrics"
	"emby-entitlement-bot/internal/usecase"
)

// Sweeper drives the periodic expiry sweep. It remembers the instant of the
// previous completed run so warning thresholds crossed in between are not
// missed and not repeated.
type Sweeper struct {
	interval     time.Duration
	sweepUC      usecase.SweepUseCase
	notifier     adapter.Notifier
	notifyAdmins []int64
	log          *zerolog.Logger

	lastRun time.Time
}

func NewSweeper(interval time.Duration, sweepUC usecase.SweepUseCase, notifier adapter.Notifier, notifyAdmins []int64, logger *zerolog.Logger) *Sweeper {
	swLog := logger.With().Str("component", "Sweeper").Logger()
	return &Sweeper{
		interval:     interval,
		sweepUC:      sweepUC,
		notifier:     notifier,
		notifyAdmins: notifyAdmins,
		log:          &swLog,
	}
}

func (w *Sweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry sweeper")
	w.lastRun = time.Now()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *Sweeper) sweepOnce(ctx context.Context) {
	started := time.Now()
	stats, err := w.sweepUC.Sweep(ctx, w.lastRun)
	if err != nil {
		w.log.Error().Err(err).Msg("sweep failed")
		return
	}
	w.lastRun = stats.At

	metrics.ObserveSweep(time.Since(started).Seconds(),
		stats.Warned, stats.Disabled, stats.Deleted, stats.Failed)
	metrics.SetBindingsByState(stats.States)

	if stats.Warned+stats.Disabled+stats.Deleted+stats.Failed > 0 {
		w.log.Info().
			Int("scanned", stats.Scanned).
			Int("warned", stats.Warned).
			Int("disabled", stats.Disabled).
			Int("deleted", stats.Deleted).
			Int("failed", stats.Failed).
			Msg("sweep finished")
		w.notifySummary(ctx, stats)
	}
}

func (w *Sweeper) notifySummary(ctx context.Context, stats usecase.SweepStats) {
	if w.notifier == nil || len(w.notifyAdmins) == 0 {
		return
	}
	if stats.Disabled == 0 && stats.Deleted == 0 && stats.Failed == 0 {
		return
	}
	text := fmt.Sprintf(
		"🧹 Expiry sweep: %d disabled, %d deleted, %d failed (of %d scanned).",
		stats.Disabled, stats.Deleted, stats.Failed, stats.Scanned)
	for _, adminID := range w.notifyAdmins {
		if err := w.notifier.Send(ctx, adminID, text); err != nil {
			w.log.Warn().Err(err).Int64("admin_id", adminID).Msg("failed to notify admin")
		}
	}
}
