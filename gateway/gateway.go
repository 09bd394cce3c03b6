// Package gateway holds the HTTP implementations of the engine's
// collaborator interfaces: profile persistence and one-time code
// delivery, both fronted by external services.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicsetu/civicauth"
)

const defaultTimeout = 10 * time.Second

// ProfileStore persists registration profiles by POSTing them to the
// backend's /api/save-user endpoint.
type ProfileStore struct {
	baseURL string
	client  *http.Client
}

// NewProfileStore points the store at the backend base URL.
func NewProfileStore(baseURL string, client *http.Client) *ProfileStore {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &ProfileStore{
		baseURL: baseURL,
		client:  client,
	}
}

// SaveProfile implements civicauth.ProfileStore.
func (p *ProfileStore) SaveProfile(ctx context.Context, profile civicauth.Profile) error {
	body, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("profile encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/save-user", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("profile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("profile save: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("profile save: %s", upstreamError(resp))
	}

	return nil
}

// CodeSender delivers one-time codes by POSTing to the delivery
// gateway's /send-otp endpoint with the channel in the type field.
type CodeSender struct {
	baseURL string
	client  *http.Client
}

// NewCodeSender points the sender at the delivery gateway base URL.
func NewCodeSender(baseURL string, client *http.Client) *CodeSender {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &CodeSender{
		baseURL: baseURL,
		client:  client,
	}
}

type sendOTPRequest struct {
	Type    string `json:"type"`
	Contact string `json:"contact"`
	OTP     string `json:"otp"`
}

// Send implements civicauth.CodeSender.
func (c *CodeSender) Send(ctx context.Context, channel civicauth.Channel, contact, code string) error {
	body, err := json.Marshal(sendOTPRequest{
		Type:    channel.String(),
		Contact: contact,
		OTP:     code,
	})
	if err != nil {
		return fmt.Errorf("otp encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-otp", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("otp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("otp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("otp send: %s", upstreamError(resp))
	}

	return nil
}

// upstreamError extracts the {error} text a failed gateway reply
// carries, falling back to the HTTP status.
func upstreamError(resp *http.Response) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return resp.Status
}
