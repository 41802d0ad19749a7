package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
)

type bindingDTO struct {
	TelegramID   int64              `json:"telegram_id"`
	Username     string             `json:"username"`
	EmbyUserID   string             `json:"emby_user_id"`
	EmbyUsername string             `json:"emby_username"`
	State        string             `json:"state"`
	CreatedAt    time.Time          `json:"created_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
	DaysLeft     int                `json:"days_left"`
	History      []model.GrantEvent `json:"history"`
}

type codeDTO struct {
	Code       string     `json:"code"`
	Kind       string     `json:"kind"`
	GrantDays  int        `json:"grant_days"`
	Redeemed   bool       `json:"redeemed"`
	CreatedAt  time.Time  `json:"created_at"`
	RedeemedBy *int64     `json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

func toBindingDTO(b *model.AccountBinding, now time.Time) bindingDTO {
	return bindingDTO{
		TelegramID:   b.TelegramID,
		Username:     b.Username,
		EmbyUserID:   b.EmbyUserID,
		EmbyUsername: b.EmbyUsername,
		State:        string(b.State),
		CreatedAt:    b.CreatedAt,
		ExpiresAt:    b.ExpiresAt,
		DaysLeft:     b.DaysLeft(now),
		History:      b.History,
	}
}

func toCodeDTO(c *model.RedemptionCode) codeDTO {
	return codeDTO{
		Code:       c.Code,
		Kind:       string(c.Kind),
		GrantDays:  c.GrantDays,
		Redeemed:   c.Redeemed,
		CreatedAt:  c.CreatedAt,
		RedeemedBy: c.RedeemedBy,
		RedeemedAt: c.RedeemedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.cfg.Secret == "" ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.cfg.Secret)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to mint session token")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.bindings.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	now := time.Now()
	out := make([]bindingDTO, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, toBindingDTO(b, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePurgeBinding(w http.ResponseWriter, r *http.Request) {
	tgID, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil {
		http.Error(w, "Bad telegram id", http.StatusBadRequest)
		return
	}
	if err := s.bindings.Purge(r.Context(), s.actorID, tgID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	unusedOnly := r.URL.Query().Get("unused") == "true"
	codes, err := s.codes.List(r.Context(), unusedOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]codeDTO, 0, len(codes))
	for _, c := range codes {
		out = append(out, toCodeDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIssueCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind  string `json:"kind"`
		Days  int    `json:"days"`
		Count int    `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 1 || req.Count > 100 {
		http.Error(w, "Count out of range", http.StatusBadRequest)
		return
	}

	out := make([]codeDTO, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		code, err := s.codes.Issue(r.Context(), model.CodeKind(req.Kind), req.Days)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, toCodeDTO(code))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Invalid argument", http.StatusBadRequest)
	case errors.Is(err, domain.ErrBindingNotFound), errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotAuthorized):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		s.log.Error().Err(err).Msg("admin API internal error")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
