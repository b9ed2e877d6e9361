package service

import (
	"context"
	"math"
	"time"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/pkg/payment"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// PaymentIntentStore is the persistence the reconciliation core needs.
type PaymentIntentStore interface {
	Create(ctx context.Context, p *domain.PaymentIntent) error
	FindByExternalID(ctx context.Context, externalID string) (*domain.PaymentIntent, error)
	FindLatestPendingByUser(ctx context.Context, userID string) (*domain.PaymentIntent, error)
	SearchRecentByMetadata(ctx context.Context, externalID string, limit int) ([]*domain.PaymentIntent, error)
	MarkFailed(ctx context.Context, externalID string, metadata []byte) (bool, error)
	ApplyPaid(ctx context.Context, externalID string, metadata []byte, userID, tier string, durationDays int) (bool, time.Time, error)
}

// recoveryScanLimit bounds the last-resort metadata scan.
const recoveryScanLimit = 25

// defaultDurationDays is used when neither the plan nor the echoed metadata
// carries a duration.
const defaultDurationDays = 30

// ReconciliationService owns payment intent creation and the reconciliation
// core. It is the only writer of subscription state: both the gateway webhook
// and the client poll funnel into Reconcile.
type ReconciliationService struct {
	intents     PaymentIntentStore
	users       UserStore
	gateway     payment.Gateway
	callbackURL string
	validate    *validator.Validate
	now         func() time.Time
}

// NewReconciliationService creates a new ReconciliationService. callbackURL is
// where the gateway redirects (and posts webhooks) after payment.
func NewReconciliationService(intents PaymentIntentStore, users UserStore, gateway payment.Gateway, callbackURL string) *ReconciliationService {
	return &ReconciliationService{
		intents:     intents,
		users:       users,
		gateway:     gateway,
		callbackURL: callbackURL,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// CreateIntent validates the purchase, creates the hosted invoice at the
// gateway, and persists the local shadow row. The local row is written only
// after the gateway accepted the invoice, so there is never an ambiguous
// half-created intent.
func (s *ReconciliationService) CreateIntent(ctx context.Context, userID string, req *domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	plan := domain.PlanByID(req.PlanID)
	if plan == nil {
		return nil, domain.ErrNotFound("plan not found")
	}

	halalas, err := minorUnits(plan.PriceSAR)
	if err != nil {
		return nil, domain.WrapTaxonomy(err)
	}

	inv, err := s.gateway.CreateInvoice(ctx, payment.CreateInvoiceRequest{
		Amount:      halalas,
		Currency:    "SAR",
		Description: "اشتراك " + plan.Name,
		CallbackURL: s.callbackURL,
		Metadata: payment.Metadata{
			UserID:       userID,
			PlanID:       plan.ID,
			PlanName:     plan.Name,
			DurationDays: plan.DurationDays,
		},
	})
	if err != nil {
		return nil, domain.WrapGateway(err)
	}

	now := s.now()
	intent := &domain.PaymentIntent{
		ExternalID:      inv.ID,
		UserID:          userID,
		PlanID:          plan.ID,
		AmountHalalas:   halalas,
		Currency:        "SAR",
		Status:          domain.IntentPending,
		GatewayMetadata: inv.Raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, domain.ErrInternal("failed to persist payment intent", err)
	}

	log.Info().Str("external_id", inv.ID).Str("user_id", userID).Str("plan_id", plan.ID).
		Int64("amount", halalas).Msg("payment intent created")

	return &domain.CheckoutResponse{
		PaymentID:  inv.ID,
		PaymentURL: inv.URL,
		Amount:     halalas,
		Currency:   "SAR",
	}, nil
}

// Reconcile is the shared idempotent state-transition function invoked by both
// the gateway webhook and the client poll. Called any number of times, in any
// interleaving, it applies the external event's subscription update exactly
// once and returns the same terminal result thereafter.
func (s *ReconciliationService) Reconcile(ctx context.Context, externalID string) (*domain.ReconciliationResult, error) {
	// Idempotency guard: a terminal local intent is the stored answer. The
	// gateway is not contacted again and subscription state is not touched.
	local, err := s.intents.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load payment intent", err)
	}
	if local != nil && local.Terminal() {
		return storedResult(local), nil
	}

	// Authoritative check: never trust a pushed status field alone before
	// mutating money-bearing state.
	inv, err := s.gateway.FetchInvoice(ctx, externalID)
	if err != nil {
		return nil, domain.WrapGateway(err)
	}

	switch inv.Status {
	case payment.StatusPaid:
		// fall through to the apply path below
	case payment.StatusInitiated:
		// Genuinely still in progress: leave the intent pending.
		return &domain.ReconciliationResult{ExternalID: externalID, Status: domain.IntentPending}, nil
	default:
		if local != nil {
			if _, err := s.intents.MarkFailed(ctx, externalID, inv.Raw); err != nil {
				return nil, domain.ErrInternal("failed to record failed payment", err)
			}
		}
		log.Info().Str("external_id", externalID).Str("gateway_status", inv.Status).Msg("payment reconciled as failed")
		return &domain.ReconciliationResult{ExternalID: externalID, Status: domain.IntentFailed}, nil
	}

	owner, err := s.resolveOwner(ctx, inv, local)
	if err != nil {
		return nil, err
	}

	tier := s.resolveTier(owner.planID, inv.Metadata.PlanName, inv.Amount)

	user, err := s.users.FindByID(ctx, owner.userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load user", err)
	}
	if user == nil {
		log.Error().Str("external_id", externalID).Str("user_id", owner.userID).Msg("paid invoice references unknown user")
		return nil, domain.WrapTaxonomy(domain.ErrOrphanedConfirmation)
	}

	// The conditional write targets the resolved intent row: when recovery
	// matched a row stored under a related identifier, that row is the one
	// whose pending->paid transition guards exactly-once application.
	applyID := externalID
	if owner.intent != nil {
		applyID = owner.intent.ExternalID
	} else {
		// Metadata was complete but no shadow row exists (the creation
		// response was lost after the gateway accepted it). Recreate the
		// shadow so the transition below has a row to guard on.
		now := s.now()
		shadow := &domain.PaymentIntent{
			ExternalID:      externalID,
			UserID:          owner.userID,
			PlanID:          owner.planID,
			AmountHalalas:   inv.Amount,
			Currency:        inv.Currency,
			Status:          domain.IntentPending,
			GatewayMetadata: inv.Raw,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.intents.Create(ctx, shadow); err != nil {
			return nil, domain.ErrInternal("failed to recreate payment intent", err)
		}
		log.Warn().Str("external_id", externalID).Msg("recreated missing payment intent from gateway metadata")
	}

	// The store computes the new expiry inside the transaction, from the user
	// row it locks: subscription extensions for one user serialize there, so
	// two distinct paid intents both land even when reconciled concurrently.
	applied, expiresOn, err := s.intents.ApplyPaid(ctx, applyID, inv.Raw, owner.userID, tier, owner.duration)
	if err != nil {
		return nil, domain.ErrInternal("failed to apply reconciliation", err)
	}
	if !applied {
		// A concurrent trigger won the conditional write; return its outcome.
		current, err := s.intents.FindByExternalID(ctx, applyID)
		if err != nil {
			return nil, domain.ErrInternal("failed to reload payment intent", err)
		}
		if current != nil {
			return storedResult(current), nil
		}
		return nil, domain.WrapTaxonomy(domain.ErrOrphanedConfirmation)
	}

	log.Info().Str("external_id", applyID).Str("user_id", owner.userID).Str("tier", tier).
		Time("expires_on", expiresOn).Msg("subscription activated")

	return &domain.ReconciliationResult{
		ExternalID: applyID,
		Status:     domain.IntentPaid,
		Tier:       tier,
		ExpiresOn:  &expiresOn,
	}, nil
}

// ReconcileForUser is the client-initiated poll fallback. The identifier is
// best-effort: absent, it falls back to the user's most recent pending intent;
// unknown, Reconcile's recovery path takes over.
func (s *ReconciliationService) ReconcileForUser(ctx context.Context, userID, externalID string) (*domain.ReconciliationResult, error) {
	if externalID == "" {
		pending, err := s.intents.FindLatestPendingByUser(ctx, userID)
		if err != nil {
			return nil, domain.ErrInternal("failed to find pending payment", err)
		}
		if pending == nil {
			return nil, domain.ErrNotFound("no pending payment found")
		}
		externalID = pending.ExternalID
	}
	return s.Reconcile(ctx, externalID)
}

// Subscription returns the user's current subscription state.
func (s *ReconciliationService) Subscription(ctx context.Context, userID string) (*domain.SubscriptionState, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load user", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound("user not found")
	}
	return &user.Subscription, nil
}

// intentOwner is the outcome of metadata recovery: who the payment belongs
// to and, when one exists, the local row its state transition is keyed on.
type intentOwner struct {
	userID   string
	planID   string
	duration int
	intent   *domain.PaymentIntent
}

// resolveOwner extracts the owner of a paid invoice in three stages: echoed
// gateway metadata, the local row keyed by the external id, then a bounded
// ranked scan of recent intents whose raw payload mentions the id. Exhausting
// all three is an orphaned confirmation.
func (s *ReconciliationService) resolveOwner(ctx context.Context, inv *payment.Invoice, local *domain.PaymentIntent) (*intentOwner, error) {
	md := inv.Metadata
	if md.Complete() {
		return &intentOwner{
			userID:   md.UserID,
			planID:   md.PlanID,
			duration: s.durationFor(md.PlanID, md.DurationDays),
			intent:   local,
		}, nil
	}

	if local == nil {
		candidates, err := s.intents.SearchRecentByMetadata(ctx, inv.ID, recoveryScanLimit)
		if err != nil {
			return nil, domain.ErrInternal("failed to scan for intent", err)
		}
		if len(candidates) == 0 {
			log.Error().Str("external_id", inv.ID).Msg("confirmed payment matches no local intent")
			return nil, domain.WrapTaxonomy(domain.ErrOrphanedConfirmation)
		}
		if len(candidates) > 1 {
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = c.ExternalID
			}
			// Ranked newest-first; flagged for audit rather than silently unique.
			log.Warn().Str("external_id", inv.ID).Strs("candidates", ids).
				Msg("ambiguous recovery scan, picking most recent")
		}
		local = candidates[0]
	}

	return &intentOwner{
		userID:   local.UserID,
		planID:   local.PlanID,
		duration: s.durationFor(local.PlanID, md.DurationDays),
		intent:   local,
	}, nil
}

// durationFor prefers the authored plan duration, then the echoed metadata,
// then the legacy default.
func (s *ReconciliationService) durationFor(planID string, metadataDays int) int {
	if plan := domain.PlanByID(planID); plan != nil && plan.DurationDays > 0 {
		return plan.DurationDays
	}
	if metadataDays > 0 {
		return metadataDays
	}
	return defaultDurationDays
}

// resolveTier prefers the authored plan tier; for unknown plans it falls back
// to the legacy name/price heuristic, flagging conflicts for audit.
func (s *ReconciliationService) resolveTier(planID, planName string, amountHalalas int64) string {
	if plan := domain.PlanByID(planID); plan != nil {
		tier, conflict := plan.EffectiveTier()
		if conflict {
			log.Warn().Str("plan_id", planID).Msg("plan name and price disagree on tier")
		}
		return tier
	}
	tier, conflict := domain.InferTier(planName, float64(amountHalalas)/100)
	if conflict {
		log.Warn().Str("plan_name", planName).Int64("amount", amountHalalas).
			Msg("inferred tier from conflicting name and price signals")
	}
	return tier
}

// storedResult converts a terminal intent back into the result its original
// reconciliation produced, from the tier and expiry recorded at apply time.
// The user's current subscription may have moved on since; this event's
// outcome has not.
func storedResult(intent *domain.PaymentIntent) *domain.ReconciliationResult {
	res := &domain.ReconciliationResult{ExternalID: intent.ExternalID, Status: intent.Status}
	if intent.Status == domain.IntentPaid {
		res.Tier = intent.AppliedTier
		res.ExpiresOn = intent.AppliedExpiresOn
	}
	return res
}

// minorUnits converts a SAR price to halalas and enforces the gateway's
// currency rules locally, before any network call: at least one riyal, and a
// multiple of 10 halalas.
func minorUnits(priceSAR float64) (int64, error) {
	halalas := int64(math.Round(priceSAR * 100))
	if halalas < 100 || halalas%10 != 0 {
		return 0, domain.ErrInvalidAmount
	}
	return halalas, nil
}

// dateOf truncates a timestamp to its UTC date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
