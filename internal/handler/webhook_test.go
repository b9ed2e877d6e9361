package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/internal/service"
	"github.com/baitalqudrat/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tiny in-memory implementations of the service's store interfaces, enough to
// drive reconciliation end to end through the HTTP layer.

type stubUsers map[string]*domain.User

func (s stubUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return s[id], nil
}

func (s stubUsers) FindByPhone(ctx context.Context, phone string) (*domain.User, error) {
	for _, u := range s {
		if u.Phone == phone {
			return u, nil
		}
	}
	return nil, nil
}

func (s stubUsers) MarkPhoneVerified(ctx context.Context, id string) error { return nil }

type stubIntents struct {
	rows  map[string]*domain.PaymentIntent
	users stubUsers
}

func (s *stubIntents) Create(ctx context.Context, p *domain.PaymentIntent) error {
	s.rows[p.ExternalID] = p
	return nil
}

func (s *stubIntents) FindByExternalID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return s.rows[id], nil
}

func (s *stubIntents) FindLatestPendingByUser(ctx context.Context, userID string) (*domain.PaymentIntent, error) {
	for _, p := range s.rows {
		if p.UserID == userID && p.Status == domain.IntentPending {
			return p, nil
		}
	}
	return nil, nil
}

func (s *stubIntents) SearchRecentByMetadata(ctx context.Context, id string, limit int) ([]*domain.PaymentIntent, error) {
	return nil, nil
}

func (s *stubIntents) MarkFailed(ctx context.Context, id string, metadata []byte) (bool, error) {
	p, ok := s.rows[id]
	if !ok || p.Status != domain.IntentPending {
		return false, nil
	}
	p.Status = domain.IntentFailed
	return true, nil
}

func (s *stubIntents) ApplyPaid(ctx context.Context, id string, metadata []byte, userID, tier string, durationDays int) (bool, time.Time, error) {
	p, ok := s.rows[id]
	if !ok || p.Status != domain.IntentPending {
		return false, time.Time{}, nil
	}
	y, m, d := time.Now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	var expiresOn time.Time
	if u, ok := s.users[userID]; ok {
		expiresOn = u.Subscription.NextExpiry(today, durationDays)
		e := expiresOn
		u.Subscription = domain.SubscriptionState{Tier: tier, Status: domain.SubActive, ExpiresOn: &e}
	}
	p.Status = domain.IntentPaid
	p.AppliedTier = tier
	e := expiresOn
	p.AppliedExpiresOn = &e
	return true, expiresOn, nil
}

type stubGateway struct {
	invoices map[string]*payment.Invoice
	fetchErr error
}

func (g *stubGateway) CreateInvoice(ctx context.Context, req payment.CreateInvoiceRequest) (*payment.Invoice, error) {
	return nil, nil
}

func (g *stubGateway) FetchInvoice(ctx context.Context, id string) (*payment.Invoice, error) {
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if inv, ok := g.invoices[id]; ok {
		return inv, nil
	}
	return nil, context.Canceled
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *stubIntents, stubUsers, *stubGateway) {
	t.Helper()
	users := stubUsers{"u1": {ID: "u1", Phone: "966512345678"}}
	intents := &stubIntents{
		rows: map[string]*domain.PaymentIntent{
			"inv_1": {
				ExternalID: "inv_1",
				UserID:     "u1",
				PlanID:     "premium-monthly",
				Status:     domain.IntentPending,
			},
		},
		users: users,
	}
	gw := &stubGateway{invoices: map[string]*payment.Invoice{
		"inv_1": {
			ID:       "inv_1",
			Status:   payment.StatusPaid,
			Amount:   19900,
			Currency: "SAR",
			Metadata: payment.Metadata{UserID: "u1", PlanID: "premium-monthly", DurationDays: 30},
			Raw:      []byte(`{"id":"inv_1"}`),
		},
	}}

	svc := service.NewReconciliationService(intents, users, gw, "https://app.example/payment/success")
	return NewWebhookHandler(svc), intents, users, gw
}

func postWebhook(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandlePayment(rec, req)
	return rec
}

func TestWebhookEventEnvelope(t *testing.T) {
	h, intents, users, _ := newWebhookFixture(t)

	rec := postWebhook(h, `{"type":"invoice_paid","data":{"id":"inv_1","status":"paid"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)

	assert.Equal(t, domain.IntentPaid, intents.rows["inv_1"].Status)
	assert.Equal(t, domain.SubActive, users["u1"].Subscription.Status)
	assert.Equal(t, domain.TierPremium, users["u1"].Subscription.Tier)
}

func TestWebhookFlatPayload(t *testing.T) {
	h, intents, _, _ := newWebhookFixture(t)

	rec := postWebhook(h, `{"id":"inv_1","status":"paid"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.IntentPaid, intents.rows["inv_1"].Status)
}

func TestWebhookIgnoresPushedStatus(t *testing.T) {
	h, intents, users, gw := newWebhookFixture(t)
	gw.invoices["inv_1"].Status = payment.StatusInitiated

	// The payload claims paid but the gateway says otherwise; nothing moves.
	rec := postWebhook(h, `{"id":"inv_1","status":"paid"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
	assert.Equal(t, domain.IntentPending, intents.rows["inv_1"].Status)
	assert.Equal(t, "", users["u1"].Subscription.Status)
}

func TestWebhookMissingID(t *testing.T) {
	h, _, _, _ := newWebhookFixture(t)

	rec := postWebhook(h, `{"type":"invoice_paid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookInvalidJSON(t *testing.T) {
	h, _, _, _ := newWebhookFixture(t)

	rec := postWebhook(h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAcknowledgesOrphan(t *testing.T) {
	h, _, _, gw := newWebhookFixture(t)
	gw.invoices["pay_mystery"] = &payment.Invoice{
		ID:     "pay_mystery",
		Status: payment.StatusPaid,
		Amount: 19900,
		Raw:    []byte(`{"id":"pay_mystery"}`),
	}

	// Redelivery cannot fix an orphan, so the gateway gets a 200 and stops.
	rec := postWebhook(h, `{"data":{"id":"pay_mystery"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orphaned")
}

func TestWebhookKeepsErrorStatusForRetry(t *testing.T) {
	h, intents, _, gw := newWebhookFixture(t)
	gw.fetchErr = context.DeadlineExceeded

	rec := postWebhook(h, `{"data":{"id":"inv_1"}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.IntentPending, intents.rows["inv_1"].Status)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	h, intents, users, _ := newWebhookFixture(t)

	rec := postWebhook(h, `{"data":{"id":"inv_1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	first := *users["u1"].Subscription.ExpiresOn

	rec = postWebhook(h, `{"data":{"id":"inv_1"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)
	assert.Equal(t, domain.IntentPaid, intents.rows["inv_1"].Status)
	assert.Equal(t, first, *users["u1"].Subscription.ExpiresOn, "a redelivered webhook must not extend the subscription again")
}
