package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the HTTP Gateway implementation (Moyasar-compatible invoice API).
// Every call carries a bounded timeout; on timeout the operation fails fast and
// the caller may retry, reconciliation being idempotent.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewClient creates a gateway client authenticated with the secret API key.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateInvoice creates a hosted invoice at the gateway.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The gateway authenticates with the secret key as basic-auth username.
	httpReq.SetBasicAuth(c.secretKey, "")

	return c.do(httpReq)
}

// FetchInvoice returns the authoritative state of an invoice.
func (c *Client) FetchInvoice(ctx context.Context, id string) (*Invoice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/invoices/"+id, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.secretKey, "")

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (*Invoice, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, raw)
	}

	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	inv.Raw = raw
	return &inv, nil
}
