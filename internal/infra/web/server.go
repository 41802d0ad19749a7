package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/config"
	"emby-entitlement-bot/internal/usecase"
)

// Server exposes the admin HTTP API next to the bot: inspection and code
// management for operators, plus the health and metrics endpoints.
type Server struct {
	cfg      *config.AdminAPIConfig
	bindings usecase.BindingUseCase
	codes    usecase.CodeUseCase
	auth     *AuthManager
	// actorID is the admin identity attributed to mutations done over the API.
	actorID int64
	log     *zerolog.Logger

	httpServer *http.Server
}

func NewServer(
	cfg *config.AdminAPIConfig,
	bindings usecase.BindingUseCase,
	codes usecase.CodeUseCase,
	actorID int64,
	logger *zerolog.Logger,
) *Server {
	webLog := logger.With().Str("component", "AdminAPI").Logger()
	return &Server{
		cfg:      cfg,
		bindings: bindings,
		codes:    codes,
		auth:     NewAuthManager(cfg.JWTSecret, cfg.SessionTTL),
		actorID:  actorID,
		log:      &webLog,
	}
}

func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/bindings", s.handleListBindings)
			r.Delete("/bindings/{telegramID}", s.handlePurgeBinding)
			r.Get("/codes", s.handleListCodes)
			r.Post("/codes", s.handleIssueCodes)
		})
	})
	return r
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Routes(),
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("admin API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireAdmin rejects requests without a valid session token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
