package emby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/config"
	"emby-entitlement-bot/internal/domain/ports/adapter"
)

// Ensure interface compliance:
var _ adapter.ProvisioningGateway = (*Client)(nil)

// Client provisions media server accounts over the Emby REST API.
// All requests authenticate with the server API key.
type Client struct {
	baseURL        string
	apiKey         string
	templateUserID string
	httpClient     *http.Client
	log            *zerolog.Logger
}

func NewClient(cfg *config.EmbyConfig, logger *zerolog.Logger) *Client {
	embyLog := logger.With().Str("component", "EmbyClient").Logger()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.Host, "/"),
		apiKey:         cfg.APIKey,
		templateUserID: cfg.TemplateUserID,
		httpClient:     &http.Client{Timeout: timeout},
		log:            &embyLog,
	}
}

type embyUser struct {
	ID     string         `json:"Id"`
	Name   string         `json:"Name"`
	Policy map[string]any `json:"Policy"`
}

// Create makes a new server account, sets its password, and copies the access
// policy from the configured template user so new accounts inherit library
// permissions. Returns the new account's server-side ID.
func (c *Client) Create(ctx context.Context, username, password string) (string, error) {
	var created embyUser
	if err := c.do(ctx, http.MethodPost, "/emby/Users/New",
		map[string]any{"Name": username}, &created); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create user: empty id in response")
	}

	if err := c.do(ctx, http.MethodPost, "/emby/Users/"+created.ID+"/Password",
		map[string]any{"NewPw": password}, nil); err != nil {
		return "", fmt.Errorf("set password: %w", err)
	}

	if c.templateUserID != "" {
		if err := c.copyTemplatePolicy(ctx, created.ID); err != nil {
			c.log.Warn().Err(err).Str("user_id", created.ID).
				Msg("could not copy template policy, account keeps server defaults")
		}
	}

	return created.ID, nil
}

func (c *Client) Disable(ctx context.Context, embyUserID string) error {
	return c.setDisabled(ctx, embyUserID, true)
}

func (c *Client) Enable(ctx context.Context, embyUserID string) error {
	return c.setDisabled(ctx, embyUserID, false)
}

func (c *Client) Delete(ctx context.Context, embyUserID string) error {
	if err := c.do(ctx, http.MethodDelete, "/emby/Users/"+embyUserID, nil, nil); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// setDisabled flips IsDisabled on the account's policy. Emby replaces the
// whole policy object on POST, so the current one is fetched first.
func (c *Client) setDisabled(ctx context.Context, embyUserID string, disabled bool) error {
	var user embyUser
	if err := c.do(ctx, http.MethodGet, "/emby/Users/"+embyUserID, nil, &user); err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	policy := user.Policy
	if policy == nil {
		policy = map[string]any{}
	}
	policy["IsDisabled"] = disabled
	if err := c.do(ctx, http.MethodPost, "/emby/Users/"+embyUserID+"/Policy", policy, nil); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return nil
}

func (c *Client) copyTemplatePolicy(ctx context.Context, embyUserID string) error {
	var tpl embyUser
	if err := c.do(ctx, http.MethodGet, "/emby/Users/"+c.templateUserID, nil, &tpl); err != nil {
		return fmt.Errorf("fetch template user: %w", err)
	}
	if tpl.Policy == nil {
		return fmt.Errorf("template user %s has no policy", c.templateUserID)
	}
	delete(tpl.Policy, "IsDisabled")
	if err := c.do(ctx, http.MethodPost, "/emby/Users/"+embyUserID+"/Policy", tpl.Policy, nil); err != nil {
		return fmt.Errorf("apply template policy: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
