package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/remnashop/remnashop/internal/pkg/env"
)

// ErrUserNotFound is returned when the panel has no account for the key.
var ErrUserNotFound = errors.New("panel: user not found")

// RemoteState is the panel's view of one user's entitlements. It is what a
// GET returns and what an apply pushes as the absolute desired state;
// partial updates are never sent.
type RemoteState struct {
	UserKey      string     `json:"user_key"`
	Enabled      bool       `json:"enabled"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	TrafficLimit int64      `json:"traffic_limit"` // bytes, 0 = unlimited
	TrafficUsed  int64      `json:"traffic_used"`  // bytes, panel-authoritative
	DeviceLimit  int        `json:"device_limit"`
	Squads       []string   `json:"squads"`
}

// Client talks to the VPN panel's management API.
type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a panel client from PANEL_API_URL and
// PANEL_API_TOKEN.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(env.GetEnv("PANEL_API_URL", "")), "/"),
		Token:   strings.TrimSpace(env.GetEnv("PANEL_API_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetEntitlements reads the current remote state for a user.
func (c *Client) GetEntitlements(ctx context.Context, userKey string) (*RemoteState, error) {
	if strings.TrimSpace(userKey) == "" {
		return nil, errors.New("panel: user key is required")
	}

	body, status, err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userKey), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("panel: get entitlements failed: status=%d body=%s", status, string(body))
	}

	var out RemoteState
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.UserKey) == "" {
		out.UserKey = userKey
	}
	return &out, nil
}

// ApplyEntitlements pushes the absolute desired state for a user. The panel
// replaces its record wholesale, so a replayed apply converges to the same
// remote state.
func (c *Client) ApplyEntitlements(ctx context.Context, desired *RemoteState) error {
	if desired == nil || strings.TrimSpace(desired.UserKey) == "" {
		return errors.New("panel: desired state with user key is required")
	}

	payload, err := json.Marshal(desired)
	if err != nil {
		return err
	}

	body, status, err := c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(desired.UserKey), payload)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrUserNotFound
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("panel: apply entitlements failed: status=%d body=%s", status, string(body))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, 0, errors.New("PANEL_API_URL is not configured")
	}
	if strings.TrimSpace(c.Token) == "" {
		return nil, 0, errors.New("PANEL_API_TOKEN is not configured")
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body, resp.StatusCode, nil
}
