// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emby-entitlement-bot/internal/config"
	"emby-entitlement-bot/internal/infra/db/postgres"
	"emby-entitlement-bot/internal/infra/emby"
	"emby-entitlement-bot/internal/infra/logging"
	"emby-entitlement-bot/internal/infra/metrics"
	red "emby-entitlement-bot/internal/infra/redis"
	"emby-entitlement-bot/internal/infra/sched"
	tele "emby-entitlement-bot/internal/infra/telegram"
	"emby-entitlement-bot/internal/infra/web"
	"emby-entitlement-bot/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, verbose)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("schema")
	}

	// ---- Redis (optional, rate limiting only) ----
	var rateLimiter *red.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		rateLimiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set, command rate limiting disabled")
	}

	// ---- Repositories ----
	codeRepo := postgres.NewCodeRepo(pool)
	bindingRepo := postgres.NewBindingRepo(pool)

	// ---- Gateway ----
	gateway := emby.NewClient(&cfg.Emby, logger)

	// ---- Use cases ----
	locks := usecase.NewKeyedMutex()
	codeUC := usecase.NewCodeUseCase(codeRepo, logger)
	bindingUC := usecase.NewBindingUseCase(bindingRepo, codeUC, gateway, locks, cfg.Bot.AdminIDs, logger)

	// ---- Telegram ----
	bot, err := tele.NewBot(&cfg.Bot, cfg.Emby.Host, bindingUC, codeUC, rateLimiter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram")
	}
	go func() {
		if err := bot.StartPolling(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("telegram polling stopped")
		}
	}()

	// ---- Expiry sweeper ----
	sweepUC := usecase.NewSweepUseCase(bindingRepo, gateway, bot, locks,
		cfg.Sweep.WarnDays, cfg.GracePeriod(), logger)
	var notifyAdmins []int64
	if cfg.Sweep.NotifyAdmins {
		notifyAdmins = cfg.Bot.AdminIDs
	}
	sweeper := sched.NewSweeper(cfg.Sweep.Interval, sweepUC, bot, notifyAdmins, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- Admin API ----
	var apiActor int64
	if len(cfg.Bot.AdminIDs) > 0 {
		apiActor = cfg.Bot.AdminIDs[0]
	}
	apiServer := web.NewServer(&cfg.AdminAPI, bindingUC, codeUC, apiActor, logger)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin API server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	bot.StopPolling()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin API shutdown")
	}
}
