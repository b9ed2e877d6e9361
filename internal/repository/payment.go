package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentIntentRepository handles database operations for payment intents.
// Every state transition is a conditional write on status = 'pending' so that
// the webhook and the client poll can race without coordination.
type PaymentIntentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentIntentRepository creates a new PaymentIntentRepository.
func NewPaymentIntentRepository(db *pgxpool.Pool) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

const intentColumns = `external_id, user_id, plan_id, amount_halalas, currency, status, gateway_metadata, applied_tier, applied_expires_on, created_at, updated_at`

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	err := row.Scan(
		&p.ExternalID, &p.UserID, &p.PlanID, &p.AmountHalalas, &p.Currency,
		&p.Status, &p.GatewayMetadata, &p.AppliedTier, &p.AppliedExpiresOn,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}
	return &p, nil
}

// Create inserts a new intent. Called only after the gateway accepted the
// invoice, so a local row always has a real external id.
func (r *PaymentIntentRepository) Create(ctx context.Context, p *domain.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		p.ExternalID, p.UserID, p.PlanID, p.AmountHalalas, p.Currency,
		p.Status, p.GatewayMetadata, p.AppliedTier, p.AppliedExpiresOn,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// FindByExternalID returns the intent for the gateway id, or nil.
func (r *PaymentIntentRepository) FindByExternalID(ctx context.Context, externalID string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE external_id = $1`
	return scanIntent(r.db.QueryRow(ctx, query, externalID))
}

// FindLatestPendingByUser returns the user's most recent pending intent, or
// nil. Used by the poll fallback when the client returns with no identifier.
func (r *PaymentIntentRepository) FindLatestPendingByUser(ctx context.Context, userID string) (*domain.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + ` FROM payment_intents
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanIntent(r.db.QueryRow(ctx, query, userID))
}

// SearchRecentByMetadata scans the most recent intents whose raw gateway
// payload mentions the external id. Bounded and ranked newest-first; the
// caller treats more than one hit as ambiguous.
func (r *PaymentIntentRepository) SearchRecentByMetadata(ctx context.Context, externalID string, limit int) ([]*domain.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + ` FROM payment_intents
		WHERE gateway_metadata::text LIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, externalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search payment intents: %w", err)
	}
	defer rows.Close()

	var intents []*domain.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, p)
	}
	return intents, nil
}

// MarkFailed moves a pending intent to failed, keeping the raw payload for
// debugging. Returns false when the intent was already terminal.
func (r *PaymentIntentRepository) MarkFailed(ctx context.Context, externalID string, metadata []byte) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_intents
		SET status = 'failed', gateway_metadata = COALESCE($2, gateway_metadata), updated_at = NOW()
		WHERE external_id = $1 AND status = 'pending'
	`, externalID, metadata)
	if err != nil {
		return false, fmt.Errorf("failed to mark intent failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyPaid commits the paid transition and the subscription extension in one
// transaction. The intent update is conditional on status = 'pending': if zero
// rows are affected another trigger already applied this event, the whole
// transaction rolls back and applied is false — the subscription is never
// extended twice for one external event.
//
// The new expiry is computed inside the UPDATE itself, from the row the
// statement locks: an active subscription extends from its current end, an
// inactive or lapsed one restarts from today. Two distinct paid intents for
// the same user therefore serialize on the user row and both extensions land,
// with no read-modify-write window.
func (r *PaymentIntentRepository) ApplyPaid(ctx context.Context, externalID string, metadata []byte, userID, tier string, durationDays int) (applied bool, expiresOn time.Time, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payment_intents
		SET status = 'paid', gateway_metadata = COALESCE($2, gateway_metadata), updated_at = NOW()
		WHERE external_id = $1 AND status = 'pending'
	`, externalID, metadata)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to mark intent paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, time.Time{}, nil
	}

	err = tx.QueryRow(ctx, `
		UPDATE users
		SET subscription_tier = $2,
		    subscription_status = 'active',
		    subscription_end = (CASE
		        WHEN subscription_status = 'active' AND subscription_end > CURRENT_DATE
		        THEN subscription_end
		        ELSE CURRENT_DATE
		    END) + $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING subscription_end
	`, userID, tier, durationDays).Scan(&expiresOn)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to update subscription: %w", err)
	}

	// Record the outcome on the intent so replays report this event's result,
	// not whatever the subscription looks like later.
	_, err = tx.Exec(ctx, `
		UPDATE payment_intents
		SET applied_tier = $2, applied_expires_on = $3
		WHERE external_id = $1
	`, externalID, tier, expiresOn)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to record applied outcome: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, time.Time{}, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return true, expiresOn, nil
}
