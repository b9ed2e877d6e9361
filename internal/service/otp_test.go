package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "966512345678"

func newOtpFixture(t *testing.T) (*OtpService, *memChallenges, *memUsers, *fakeSender, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	users := newMemUsers(&domain.User{ID: "u1", Phone: testPhone, Email: "student@example.com"})
	challenges := newMemChallenges(now)
	sender := &fakeSender{}

	svc := NewOtpService(challenges, users, sender)
	svc.now = now
	return svc, challenges, users, sender, &clock
}

func TestIssueUnknownPhone(t *testing.T) {
	svc, challenges, _, sender, _ := newOtpFixture(t)

	_, err := svc.Issue(context.Background(), &domain.SendOtpRequest{Phone: "0509999999"})
	assert.ErrorIs(t, err, domain.ErrUnknownSubject)
	assert.Empty(t, challenges.rows, "no challenge should be issued for unregistered numbers")
	assert.Empty(t, sender.sent)
}

func TestIssueDeliversCode(t *testing.T) {
	svc, challenges, _, sender, _ := newOtpFixture(t)

	resp, err := svc.Issue(context.Background(), &domain.SendOtpRequest{Phone: "0512345678"})
	require.NoError(t, err)
	assert.True(t, resp.Delivered)
	assert.Equal(t, 300, resp.ExpiresIn)

	require.Len(t, challenges.rows, 1)
	c := challenges.rows[0]
	assert.Equal(t, testPhone, c.Phone)
	assert.Len(t, c.Code, 4)
	assert.Equal(t, 5*time.Minute, c.ExpiresAt.Sub(c.IssuedAt))

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], c.Code)
}

func TestIssueKeepsChallengeWhenDeliveryFails(t *testing.T) {
	svc, challenges, _, sender, _ := newOtpFixture(t)
	sender.fail = true

	resp, err := svc.Issue(context.Background(), &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	assert.False(t, resp.Delivered)
	assert.Len(t, challenges.rows, 1, "the challenge row survives a failed delivery")
}

func TestIssueDoesNotInvalidateOutstandingCodes(t *testing.T) {
	svc, challenges, _, _, _ := newOtpFixture(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)

	require.Len(t, challenges.rows, 2)
	// The older code still verifies as long as it hasn't expired.
	older := challenges.rows[0]
	v, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: older.Code})
	require.NoError(t, err)
	assert.Equal(t, "u1", v.UserID)
}

func TestVerifyExpiredSubmissionsDoNotConsumeBudget(t *testing.T) {
	svc, challenges, _, _, clock := newOtpFixture(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	stale := challenges.rows[0].Code

	// With the challenge expired there is nothing outstanding to guess at:
	// replaying the once-correct code is rejected but counts against nothing.
	*clock = clock.Add(6 * time.Minute)
	for i := 0; i < domain.MaxOtpAttempts+1; i++ {
		_, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: stale})
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredCode)
	}
	assert.Zero(t, challenges.rows[0].Attempts)

	// A fresh challenge starts with the full budget.
	_, err = svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	fresh := challenges.rows[1].Code
	v, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: fresh})
	require.NoError(t, err)
	assert.Equal(t, testPhone, v.Phone)
}

func TestVerifyWindow(t *testing.T) {
	svc, challenges, _, _, clock := newOtpFixture(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	code := challenges.rows[0].Code

	t.Run("expired one second past the window", func(t *testing.T) {
		*clock = clock.Add(301 * time.Second)
		_, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: code})
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredCode)
	})

	t.Run("valid inside the window", func(t *testing.T) {
		*clock = clock.Add(-291 * time.Second) // back to T0+10s
		v, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: code})
		require.NoError(t, err)
		assert.Equal(t, testPhone, v.Phone)
	})
}

func TestVerifySingleUse(t *testing.T) {
	svc, challenges, users, _, _ := newOtpFixture(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	code := challenges.rows[0].Code

	v, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: code})
	require.NoError(t, err)
	assert.Equal(t, "u1", v.UserID)
	assert.True(t, users.byID["u1"].PhoneVerified)

	// The same objectively-correct code cannot be consumed twice.
	_, err = svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: code})
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)
}

func TestVerifyConcurrentLoserFails(t *testing.T) {
	svc, challenges, _, _, _ := newOtpFixture(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	c := challenges.rows[0]

	// Simulate the race: another invocation flips the flag between this
	// call's read and its conditional write.
	ok, err := challenges.MarkVerified(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: c.Code})
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)
}

func TestVerifyAttemptCeiling(t *testing.T) {
	svc, challenges, _, _, _ := newOtpFixture(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	code := challenges.rows[0].Code

	for i := 0; i < domain.MaxOtpAttempts; i++ {
		_, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: "99999"})
		assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredCode)
	}

	// Exhausted: even the correct code is refused now.
	_, err = svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: code})
	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)

	// A fresh issuance lifts the lockout.
	_, err = svc.Issue(ctx, &domain.SendOtpRequest{Phone: testPhone})
	require.NoError(t, err)
	fresh := challenges.rows[len(challenges.rows)-1].Code
	v, err := svc.Verify(ctx, &domain.VerifyOtpRequest{Phone: testPhone, Code: fresh})
	require.NoError(t, err)
	assert.Equal(t, "u1", v.UserID)
}

func TestVerifyValidationError(t *testing.T) {
	svc, _, _, _, _ := newOtpFixture(t)

	_, err := svc.Verify(context.Background(), &domain.VerifyOtpRequest{Phone: testPhone, Code: "abcd"})
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 422, appErr.Code)
	assert.False(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
}
