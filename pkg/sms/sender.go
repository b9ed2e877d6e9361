// Package sms sends text messages through the SMS gateway (Taqnyat-compatible).
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers a message to a single recipient.
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

// Client is the HTTP Sender implementation.
type Client struct {
	baseURL string
	apiKey  string
	sender  string // registered sender name
	http    *http.Client
}

// NewClient creates an SMS gateway client.
func NewClient(baseURL, apiKey, sender string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		sender:  sender,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers body to phone. The call is bounded by the client timeout; a
// failure is reported to the caller, never swallowed.
func (c *Client) Send(ctx context.Context, phone, body string) error {
	payload, err := json.Marshal(map[string]any{
		"recipients": []string{phone},
		"body":       body,
		"sender":     c.sender,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// LogSender logs instead of sending. Used when no SMS API key is configured so
// that development environments still complete the issuance flow.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, phone, body string) error {
	log.Info().Str("phone", phone).Str("body", body).Msg("sms delivery skipped (no API key configured)")
	return nil
}
