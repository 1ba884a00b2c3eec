// Package host talks to the automation host (a Home Assistant compatible
// instance): a REST client for service calls and state reads, and a
// WebSocket listener that feeds host events into the engine.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nodalink/nodalink/common/retry"
)

// Client is a REST client for the host API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   retry.Config
}

// NewClient creates a client for the host at baseURL authenticating with the
// given long-lived access token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// CallService invokes domain.service against entityID. Service calls are not
// retried: a timed-out call may still have run, and lights flicking twice is
// worse than a missed press.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error {
	payload := map[string]any{"entity_id": entityID}
	for k, v := range data {
		if k == "entity_id" {
			continue
		}
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode service call: %w", err)
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", domain, service, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s.%s: host returned %d: %s", domain, service, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// EntityState returns the current state string of an entity. Reads are
// idempotent, so transient failures are retried with backoff.
func (c *Client) EntityState(ctx context.Context, entityID string) (string, error) {
	var state string
	err := retry.Do(ctx, c.retry, func() error {
		s, err := c.readState(ctx, entityID)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	return state, err
}

func (c *Client) readState(ctx context.Context, entityID string) (string, error) {
	url := c.baseURL + "/api/states/" + entityID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build state request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("read state %s: %w", entityID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("entity %s not found", entityID)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("read state %s: host returned %d", entityID, resp.StatusCode)
	}

	var payload struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode state %s: %w", entityID, err)
	}
	return payload.State, nil
}
