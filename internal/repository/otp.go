package repository

import (
	"context"
	"fmt"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OtpChallengeRepository handles database operations for OTP challenges.
// Rows are append-only: nothing here deletes; superseded challenges simply
// stop matching.
type OtpChallengeRepository struct {
	db *pgxpool.Pool
}

// NewOtpChallengeRepository creates a new OtpChallengeRepository.
func NewOtpChallengeRepository(db *pgxpool.Pool) *OtpChallengeRepository {
	return &OtpChallengeRepository{db: db}
}

// Create inserts a new challenge.
func (r *OtpChallengeRepository) Create(ctx context.Context, c *domain.OtpChallenge) error {
	query := `
		INSERT INTO otp_challenges (id, phone, code, issued_at, expires_at, verified, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		c.ID, c.Phone, c.Code, c.IssuedAt, c.ExpiresAt, c.Verified, c.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to create otp challenge: %w", err)
	}
	return nil
}

// FindLatestMatch returns the most recently issued unexpired challenge
// matching phone and code, or nil. Verified rows are included so callers can
// distinguish an already-consumed code from a wrong one.
func (r *OtpChallengeRepository) FindLatestMatch(ctx context.Context, phone, code string) (*domain.OtpChallenge, error) {
	query := `
		SELECT id, phone, code, issued_at, expires_at, verified, attempts
		FROM otp_challenges
		WHERE phone = $1 AND code = $2 AND expires_at > NOW()
		ORDER BY issued_at DESC
		LIMIT 1
	`
	row := r.db.QueryRow(ctx, query, phone, code)

	var c domain.OtpChallenge
	err := row.Scan(&c.ID, &c.Phone, &c.Code, &c.IssuedAt, &c.ExpiresAt, &c.Verified, &c.Attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find otp challenge: %w", err)
	}
	return &c, nil
}

// MarkVerified flips the verified flag exactly once. Returns false when the
// challenge was already consumed, which is how a concurrent verify loses the
// race.
func (r *OtpChallengeRepository) MarkVerified(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE otp_challenges SET verified = TRUE WHERE id = $1 AND verified = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark otp verified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementAttempts bumps the failure counter on every outstanding challenge
// for the phone.
func (r *OtpChallengeRepository) IncrementAttempts(ctx context.Context, phone string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE otp_challenges SET attempts = attempts + 1
		WHERE phone = $1 AND verified = FALSE AND expires_at > NOW()
	`, phone)
	if err != nil {
		return fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return nil
}

// FailedAttempts returns the failure count on the newest outstanding challenge
// for the phone. Re-issuance starts a fresh counter, which is what lifts the
// TooManyAttempts lockout.
func (r *OtpChallengeRepository) FailedAttempts(ctx context.Context, phone string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE((
			SELECT attempts FROM otp_challenges
			WHERE phone = $1 AND verified = FALSE AND expires_at > NOW()
			ORDER BY issued_at DESC
			LIMIT 1
		), 0)
	`, phone).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to count otp attempts: %w", err)
	}
	return attempts, nil
}
