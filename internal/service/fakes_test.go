package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/pkg/payment"
)

// In-memory stand-ins for the repositories, mirroring the conditional-write
// semantics of the SQL layer.

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

func newMemUsers(users ...*domain.User) *memUsers {
	m := &memUsers{byID: make(map[string]*domain.User)}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

// Reads return copies, as row scans do: callers never share the stored struct.

func (m *memUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByPhone(ctx context.Context, phone string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) MarkPhoneVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.PhoneVerified = true
	}
	return nil
}

type memChallenges struct {
	mu   sync.Mutex
	rows []*domain.OtpChallenge
	now  func() time.Time
}

func newMemChallenges(now func() time.Time) *memChallenges {
	return &memChallenges{now: now}
}

func (m *memChallenges) Create(ctx context.Context, c *domain.OtpChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memChallenges) FindLatestMatch(ctx context.Context, phone, code string) (*domain.OtpChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		c := m.rows[i]
		if c.Phone == phone && c.Code == code && c.ExpiresAt.After(m.now()) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memChallenges) MarkVerified(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID == id {
			if c.Verified {
				return false, nil
			}
			c.Verified = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memChallenges) IncrementAttempts(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.Phone == phone && !c.Verified && c.ExpiresAt.After(m.now()) {
			c.Attempts++
		}
	}
	return nil
}

func (m *memChallenges) FailedAttempts(ctx context.Context, phone string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		c := m.rows[i]
		if c.Phone == phone && !c.Verified && c.ExpiresAt.After(m.now()) {
			return c.Attempts, nil
		}
	}
	return 0, nil
}

type memIntents struct {
	mu    sync.Mutex
	rows  map[string]*domain.PaymentIntent
	order []string // insertion order, oldest first
	users *memUsers
	now   func() time.Time

	applyCalls int
}

func newMemIntents(users *memUsers, now func() time.Time) *memIntents {
	return &memIntents{rows: make(map[string]*domain.PaymentIntent), users: users, now: now}
}

func (m *memIntents) Create(ctx context.Context, p *domain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.rows[p.ExternalID] = &cp
	m.order = append(m.order, p.ExternalID)
	return nil
}

func (m *memIntents) FindByExternalID(ctx context.Context, externalID string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[externalID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memIntents) FindLatestPendingByUser(ctx context.Context, userID string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		p := m.rows[m.order[i]]
		if p.UserID == userID && p.Status == domain.IntentPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memIntents) SearchRecentByMetadata(ctx context.Context, externalID string, limit int) ([]*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PaymentIntent
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.rows[m.order[i]]
		if bytes.Contains(p.GatewayMetadata, []byte(externalID)) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memIntents) MarkFailed(ctx context.Context, externalID string, metadata []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[externalID]
	if !ok || p.Status != domain.IntentPending {
		return false, nil
	}
	p.Status = domain.IntentFailed
	if metadata != nil {
		p.GatewayMetadata = metadata
	}
	return true, nil
}

// ApplyPaid mirrors the SQL transaction: the new expiry is computed from the
// user row under the store's lock, never from a snapshot the caller read.
func (m *memIntents) ApplyPaid(ctx context.Context, externalID string, metadata []byte, userID, tier string, durationDays int) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++
	p, ok := m.rows[externalID]
	if !ok || p.Status != domain.IntentPending {
		return false, time.Time{}, nil
	}

	m.users.mu.Lock()
	u, ok := m.users.byID[userID]
	if !ok {
		m.users.mu.Unlock()
		return false, time.Time{}, fmt.Errorf("user %s not found", userID)
	}
	expiresOn := u.Subscription.NextExpiry(dateOf(m.now()), durationDays)
	e := expiresOn
	u.Subscription = domain.SubscriptionState{Tier: tier, Status: domain.SubActive, ExpiresOn: &e}
	m.users.mu.Unlock()

	p.Status = domain.IntentPaid
	if metadata != nil {
		p.GatewayMetadata = metadata
	}
	p.AppliedTier = tier
	applied := expiresOn
	p.AppliedExpiresOn = &applied
	return true, expiresOn, nil
}

type fakeSender struct {
	sent []string // message bodies
	fail bool
}

func (s *fakeSender) Send(ctx context.Context, phone, body string) error {
	if s.fail {
		return fmt.Errorf("sms gateway down")
	}
	s.sent = append(s.sent, body)
	return nil
}

// scriptedGateway serves canned invoices and counts calls.
type scriptedGateway struct {
	invoices   map[string]*payment.Invoice
	createErr  error
	fetchErr   error
	nextID     string
	created    []payment.CreateInvoiceRequest
	fetchCalls int
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{invoices: make(map[string]*payment.Invoice), nextID: "inv_1"}
}

func (g *scriptedGateway) CreateInvoice(ctx context.Context, req payment.CreateInvoiceRequest) (*payment.Invoice, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	inv := &payment.Invoice{
		ID:       g.nextID,
		Status:   payment.StatusInitiated,
		Amount:   req.Amount,
		Currency: req.Currency,
		URL:      "https://pay.example/" + g.nextID,
		Metadata: req.Metadata,
		Raw:      []byte(`{"id":"` + g.nextID + `"}`),
	}
	g.invoices[inv.ID] = inv
	return inv, nil
}

func (g *scriptedGateway) FetchInvoice(ctx context.Context, id string) (*payment.Invoice, error) {
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	inv, ok := g.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s not found", id)
	}
	return inv, nil
}
