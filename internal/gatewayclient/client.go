// Package gatewayclient is the kiosk's HTTP client for the gateway's
// northbound API: heartbeat and command-queue polling (spec §6).
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lockergrid/core/internal/queue"
)

const (
	defaultTimeout        = 10 * time.Second
	dialTimeout           = 3 * time.Second
	responseHeaderTimeout = 5 * time.Second
)

// newHTTPClient returns a hardened client tuned for short-lived polling
// requests against a LAN gateway.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       30 * time.Second,
			ResponseHeaderTimeout: responseHeaderTimeout,
		},
	}
}

// Register completes the one-time enrollment handshake against
// baseURL's unauthenticated /provisioning/register endpoint, exchanging
// a provisioning token for a kiosk id and registration secret.
func Register(ctx context.Context, baseURL, token, hardwareID, version string) (kioskID, secret string, err error) {
	body, _ := json.Marshal(map[string]string{
		"token": token, "hardware_id": hardwareID, "version": version,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/provisioning/register", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("gatewayclient: register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("gatewayclient: register: status %d", resp.StatusCode)
	}
	var out struct {
		KioskID             string `json:"kiosk_id"`
		RegistrationSecret string `json:"registration_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("gatewayclient: decode register response: %w", err)
	}
	return out.KioskID, out.RegistrationSecret, nil
}

// Client calls the gateway's kiosk-authenticated endpoints.
type Client struct {
	baseURL    string
	kioskID    string
	hardwareID string
	secret     string
	httpc      *http.Client
}

func New(baseURL, kioskID, hardwareID, secret string) *Client {
	return &Client{baseURL: baseURL, kioskID: kioskID, hardwareID: hardwareID, secret: secret, httpc: newHTTPClient()}
}

func (c *Client) authenticated(req *http.Request) {
	req.Header.Set("X-Kiosk-Id", c.kioskID)
	req.Header.Set("X-Hardware-Id", c.hardwareID)
	req.Header.Set("X-Kiosk-Secret", c.secret)
}

// HeartbeatResult mirrors the gateway's /heartbeat response body.
type HeartbeatResult struct {
	ConfigHash      string `json:"config_hash"`
	CommandsPending int    `json:"commands_pending"`
	StoredHash      string `json:"stored_hash"`
}

func (c *Client) Heartbeat(ctx context.Context, version, configHash string, restarted bool, reason string) (HeartbeatResult, error) {
	body, _ := json.Marshal(map[string]any{
		"kiosk_id": c.kioskID, "version": version, "config_hash": configHash,
		"restarted": restarted, "reason": reason,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return HeartbeatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authenticated(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return HeartbeatResult{}, fmt.Errorf("gatewayclient: heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HeartbeatResult{}, fmt.Errorf("gatewayclient: heartbeat: status %d", resp.StatusCode)
	}
	var out HeartbeatResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return HeartbeatResult{}, fmt.Errorf("gatewayclient: decode heartbeat response: %w", err)
	}
	return out, nil
}

// PollCommands asks the gateway for up to maxBatch pending commands
// addressed to this kiosk. The gateway answers at once, with an empty
// list when none are due; the request is not held open for new commands.
func (c *Client) PollCommands(ctx context.Context, maxBatch int) ([]queue.Command, error) {
	url := fmt.Sprintf("%s/commands?kiosk_id=%s&max=%d", c.baseURL, c.kioskID, maxBatch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authenticated(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gatewayclient: poll commands: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gatewayclient: poll commands: status %d", resp.StatusCode)
	}
	var cmds []queue.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("gatewayclient: decode commands: %w", err)
	}
	return cmds, nil
}

func (c *Client) CompleteCommand(ctx context.Context, commandID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/commands/"+commandID+"/complete", nil)
	if err != nil {
		return err
	}
	c.authenticated(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gatewayclient: complete command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gatewayclient: complete command: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) FailCommand(ctx context.Context, commandID, reason string) error {
	body, _ := json.Marshal(map[string]string{"error": reason})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/commands/"+commandID+"/fail", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authenticated(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gatewayclient: fail command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gatewayclient: fail command: status %d", resp.StatusCode)
	}
	return nil
}
