// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ctlplaneclient is the HTTP client the drain and reconciler use to
// talk to the control plane (C5). It speaks the wire contract of §6: JSON
// bodies, no authentication, one request per call.
package ctlplaneclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"warden.sh/warden/internal/ebpf/types"
)

// Client is a thin HTTP client bound to one control-plane base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. baseURL is the scheme://host:port prefix from the
// daemon's [api_server] config section.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListRules fetches the full ruleset for layer, per
// GET /firewall-rule/list/{layer}.
func (c *Client) ListRules(ctx context.Context, layer uint8) ([]types.Rule, error) {
	url := fmt.Sprintf("%s/firewall-rule/list/%d", c.baseURL, layer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rules: unexpected status %s", resp.Status)
	}

	var rules []types.Rule
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return nil, fmt.Errorf("decode rule list: %w", err)
	}
	return rules, nil
}

// PostFirewallLog sends a single audit record, per
// POST /firewall-log/create.
func (c *Client) PostFirewallLog(ctx context.Context, log types.FirewallLogData) error {
	return c.postJSON(ctx, "/firewall-log/create", log)
}

// PostCommandExecution sends a single exec-audit record, per
// POST /command-execution/log.
func (c *Client) PostCommandExecution(ctx context.Context, cmd types.CommandExecutionRequestForm) error {
	return c.postJSON(ctx, "/command-execution/log", cmd)
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post %s: unexpected status %s", path, resp.Status)
	}
	return nil
}
