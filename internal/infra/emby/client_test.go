//go:build !integration

package emby

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := zerolog.Nop()
	c := NewClient(&config.EmbyConfig{
		Host:           srv.URL,
		APIKey:         "test-key",
		TemplateUserID: "tpl-1",
		Timeout:        2 * time.Second,
	}, &log)
	return c, srv
}

func TestClient_Create(t *testing.T) {
	var (
		gotToken    string
		passwordSet bool
		policySet   map[string]any
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /emby/Users/New", func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Emby-Token")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["Name"] != "user_42" {
			t.Errorf("Name = %v, want user_42", body["Name"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Id": "abc123", "Name": "user_42"})
	})
	mux.HandleFunc("POST /emby/Users/abc123/Password", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["NewPw"] == "" {
			t.Error("empty NewPw")
		}
		passwordSet = true
	})
	mux.HandleFunc("GET /emby/Users/tpl-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Id": "tpl-1",
			"Policy": map[string]any{
				"EnableAllFolders": true,
				"IsDisabled":       true,
			},
		})
	})
	mux.HandleFunc("POST /emby/Users/abc123/Policy", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&policySet)
	})

	c, _ := newTestClient(t, mux)
	id, err := c.Create(context.Background(), "user_42", "s3cret-pass")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "abc123" {
		t.Errorf("id = %q, want abc123", id)
	}
	if gotToken != "test-key" {
		t.Errorf("token header = %q", gotToken)
	}
	if !passwordSet {
		t.Error("password was not set")
	}
	if policySet["EnableAllFolders"] != true {
		t.Errorf("template policy not copied: %v", policySet)
	}
	if _, ok := policySet["IsDisabled"]; ok {
		t.Error("IsDisabled leaked from template policy")
	}
}

func TestClient_CreateSurvivesTemplateFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /emby/Users/New", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Id": "abc123"})
	})
	mux.HandleFunc("POST /emby/Users/abc123/Password", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /emby/Users/tpl-1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	c, _ := newTestClient(t, mux)
	id, err := c.Create(context.Background(), "user_7", "pw")
	if err != nil {
		t.Fatalf("Create should tolerate template policy failure, got %v", err)
	}
	if id != "abc123" {
		t.Errorf("id = %q", id)
	}
}

func TestClient_DisableEnable(t *testing.T) {
	current := map[string]any{"EnableAllFolders": true, "IsDisabled": false}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /emby/Users/abc123", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Id": "abc123", "Policy": current})
	})
	mux.HandleFunc("POST /emby/Users/abc123/Policy", func(w http.ResponseWriter, r *http.Request) {
		var policy map[string]any
		_ = json.NewDecoder(r.Body).Decode(&policy)
		current = policy
	})

	c, _ := newTestClient(t, mux)
	if err := c.Disable(context.Background(), "abc123"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if current["IsDisabled"] != true {
		t.Errorf("after Disable, IsDisabled = %v", current["IsDisabled"])
	}
	if current["EnableAllFolders"] != true {
		t.Error("Disable dropped unrelated policy fields")
	}

	if err := c.Enable(context.Background(), "abc123"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if current["IsDisabled"] != false {
		t.Errorf("after Enable, IsDisabled = %v", current["IsDisabled"])
	}
}

func TestClient_DeleteErrorsOnBadStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /emby/Users/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	})

	c, _ := newTestClient(t, mux)
	if err := c.Delete(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404 delete")
	}
}
