//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/config"
	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/usecase"
)

type stubBindings struct {
	list  []*model.AccountBinding
	purged []int64
}

func (s *stubBindings) Register(ctx context.Context, tgID int64, username, code string) (*usecase.RegistrationResult, error) {
	return nil, domain.ErrInvalidArgument
}

func (s *stubBindings) Renew(ctx context.Context, tgID int64, code string) (*usecase.RenewalResult, error) {
	return nil, domain.ErrInvalidArgument
}

func (s *stubBindings) AdminRenew(ctx context.Context, adminID int64, embyUsername string, days int) (*usecase.RenewalResult, error) {
	return nil, domain.ErrInvalidArgument
}

func (s *stubBindings) AdminDelete(ctx context.Context, adminID int64, embyUsername string) (*model.AccountBinding, error) {
	return nil, domain.ErrInvalidArgument
}

func (s *stubBindings) Info(ctx context.Context, tgID int64) (*model.AccountBinding, error) {
	return nil, domain.ErrBindingNotFound
}

func (s *stubBindings) List(ctx context.Context) ([]*model.AccountBinding, error) {
	return s.list, nil
}

func (s *stubBindings) Purge(ctx context.Context, adminID, tgID int64) error {
	for _, b := range s.list {
		if b.TelegramID == tgID {
			s.purged = append(s.purged, tgID)
			return nil
		}
	}
	return domain.ErrBindingNotFound
}

func (s *stubBindings) IsAdmin(tgID int64) bool { return tgID == 900 }

type stubCodes struct {
	issued []*model.RedemptionCode
}

func (s *stubCodes) Issue(ctx context.Context, kind model.CodeKind, grantDays int) (*model.RedemptionCode, error) {
	if kind != model.CodeKindRegister && kind != model.CodeKindRenew {
		return nil, domain.ErrInvalidArgument
	}
	if grantDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	c := &model.RedemptionCode{Code: "AAAA-BBBB-CCCC", Kind: kind, GrantDays: grantDays, CreatedAt: time.Now()}
	s.issued = append(s.issued, c)
	return c, nil
}

func (s *stubCodes) Redeem(ctx context.Context, code string, kind model.CodeKind, by int64) (*model.RedemptionCode, error) {
	return nil, domain.ErrCodeNotFound
}

func (s *stubCodes) List(ctx context.Context, unusedOnly bool) ([]*model.RedemptionCode, error) {
	if unusedOnly {
		var out []*model.RedemptionCode
		for _, c := range s.issued {
			if !c.Redeemed {
				out = append(out, c)
			}
		}
		return out, nil
	}
	return s.issued, nil
}

func newTestServer(bindings *stubBindings, codes *stubCodes) *Server {
	log := zerolog.Nop()
	return NewServer(&config.AdminAPIConfig{
		Port:       9000,
		Secret:     "super-secret",
		JWTSecret:  "jwt-secret",
		SessionTTL: 30 * time.Minute,
	}, bindings, codes, 900, &log)
}

func obtainToken(t *testing.T, srv *Server) string {
	t.Helper()
	body := bytes.NewBufferString(`{"secret":"super-secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return resp["token"]
}

func TestSession(t *testing.T) {
	srv := newTestServer(&stubBindings{}, &stubCodes{})

	t.Run("wrong secret is rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"secret":"nope"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session", body)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("valid secret yields a working token", func(t *testing.T) {
		token := obtainToken(t, srv)
		if token == "" {
			t.Fatal("empty token")
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bindings", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("protected routes reject missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bindings", nil)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestListBindings(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b1, _ := model.NewAccountBinding(42, "alice", "emby-1", "user_42", "X", 30, now)
	srv := newTestServer(&stubBindings{list: []*model.AccountBinding{b1}}, &stubCodes{})
	token := obtainToken(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bindings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []bindingDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].EmbyUsername != "user_42" || out[0].State != "active" {
		t.Errorf("out = %+v", out)
	}
}

func TestIssueCodes(t *testing.T) {
	codes := &stubCodes{}
	srv := newTestServer(&stubBindings{}, codes)
	token := obtainToken(t, srv)

	t.Run("batch create", func(t *testing.T) {
		body := bytes.NewBufferString(`{"kind":"renew","days":7,"count":3}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/codes", body)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d", rec.Code)
		}
		if len(codes.issued) != 3 {
			t.Errorf("issued = %d, want 3", len(codes.issued))
		}
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"kind":"lifetime","days":7}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/codes", body)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("list filters unused", func(t *testing.T) {
		codes.issued[0].Redeemed = true
		req := httptest.NewRequest(http.MethodGet, "/api/v1/codes?unused=true", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		var out []codeDTO
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("unused = %d, want 2", len(out))
		}
	})
}

func TestPurgeBinding(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b1, _ := model.NewAccountBinding(42, "alice", "emby-1", "user_42", "X", 30, now)
	b1.State = model.BindingStateDeleted
	bindings := &stubBindings{list: []*model.AccountBinding{b1}}
	srv := newTestServer(bindings, &stubCodes{})
	token := obtainToken(t, srv)

	t.Run("purges existing audit record", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/bindings/42", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
		if len(bindings.purged) != 1 || bindings.purged[0] != 42 {
			t.Errorf("purged = %v", bindings.purged)
		}
	})

	t.Run("unknown binding is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/bindings/777", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
