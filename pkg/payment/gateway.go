// Package payment talks to the hosted-invoice payment gateway. Only the fields
// the reconciliation engine reads and writes are modeled; everything else rides
// along in the raw payload.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoice statuses as reported by the gateway.
const (
	StatusInitiated = "initiated"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
)

// Metadata is the opaque blob embedded at invoice creation. The gateway is
// expected to echo it back on confirmation, but polls have been observed to
// return it incomplete — reconciliation must not rely on it alone.
type Metadata struct {
	UserID       string `json:"user_id,omitempty"`
	PlanID       string `json:"plan_id,omitempty"`
	PlanName     string `json:"plan_name,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
}

// Complete reports whether the echoed metadata is enough to resolve the owner.
func (m Metadata) Complete() bool {
	return m.UserID != "" && m.PlanID != ""
}

// Invoice is the gateway's view of a payment. Raw holds the unparsed response
// body and is persisted as the intent's gateway_metadata.
type Invoice struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	URL      string   `json:"url"`
	Metadata Metadata `json:"metadata"`
	Source   *Source  `json:"source,omitempty"`

	Raw []byte `json:"-"`
}

// Source describes the payment instrument on a paid invoice.
type Source struct {
	Type    string `json:"type"`
	Company string `json:"company,omitempty"`
	Number  string `json:"number,omitempty"`
}

// CreateInvoiceRequest is the input for creating a hosted invoice.
type CreateInvoiceRequest struct {
	Amount      int64    `json:"amount"` // minor units (halalas)
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	CallbackURL string   `json:"callback_url"`
	Metadata    Metadata `json:"metadata"`
}

// Gateway defines the operations the engine needs from the payment provider.
type Gateway interface {
	// CreateInvoice creates a hosted payment page and returns its identifier and URL.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	// FetchInvoice returns the authoritative current state of an invoice.
	FetchInvoice(ctx context.Context, id string) (*Invoice, error)
}

// MockGateway is an in-memory implementation for development and tests.
type MockGateway struct {
	invoices map[string]*Invoice
	nextID   int
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{invoices: make(map[string]*Invoice)}
}

func (g *MockGateway) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	g.nextID++
	inv := &Invoice{
		ID:       fmt.Sprintf("mock_inv_%04d", g.nextID),
		Status:   StatusInitiated,
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: req.Metadata,
	}
	inv.URL = "https://example.com/pay/" + inv.ID
	inv.Raw, _ = json.Marshal(inv)
	g.invoices[inv.ID] = inv
	return inv, nil
}

func (g *MockGateway) FetchInvoice(ctx context.Context, id string) (*Invoice, error) {
	inv, ok := g.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s not found", id)
	}
	return inv, nil
}

// SetPaid marks a mock invoice paid, simulating the hosted-page completion.
func (g *MockGateway) SetPaid(id string) {
	if inv, ok := g.invoices[id]; ok {
		inv.Status = StatusPaid
		inv.Raw, _ = json.Marshal(inv)
	}
}
