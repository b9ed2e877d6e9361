package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/baitalqudrat/backend/internal/domain"
	"github.com/baitalqudrat/backend/pkg/sms"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// OtpChallengeStore is the persistence the OTP service needs.
type OtpChallengeStore interface {
	Create(ctx context.Context, c *domain.OtpChallenge) error
	FindLatestMatch(ctx context.Context, phone, code string) (*domain.OtpChallenge, error)
	MarkVerified(ctx context.Context, id string) (bool, error)
	IncrementAttempts(ctx context.Context, phone string) error
	FailedAttempts(ctx context.Context, phone string) (int, error)
}

// UserStore is the slice of the user repository the engine reads and writes.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByPhone(ctx context.Context, phone string) (*domain.User, error)
	MarkPhoneVerified(ctx context.Context, id string) error
}

// OtpService issues and verifies one-time passcodes.
type OtpService struct {
	challenges OtpChallengeStore
	users      UserStore
	sms        sms.Sender
	validate   *validator.Validate
	now        func() time.Time
}

// NewOtpService creates a new OtpService.
func NewOtpService(challenges OtpChallengeStore, users UserStore, sender sms.Sender) *OtpService {
	return &OtpService{
		challenges: challenges,
		users:      users,
		sms:        sender,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// Issue generates a code for the phone, persists the challenge, and sends the
// SMS. Prior unexpired challenges stay outstanding; verification always picks
// the most recent match. The code is never returned to the caller.
func (s *OtpService) Issue(ctx context.Context, req *domain.SendOtpRequest) (*domain.SendOtpResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	phone := domain.NormalizePhone(req.Phone)

	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return nil, domain.ErrInternal("failed to look up account", err)
	}
	if user == nil {
		// Never issue codes for unregistered numbers.
		return nil, domain.WrapTaxonomy(domain.ErrUnknownSubject)
	}

	code, err := generateCode(4)
	if err != nil {
		return nil, domain.ErrInternal("failed to generate code", err)
	}

	now := s.now()
	challenge := &domain.OtpChallenge{
		ID:        domain.NewChallengeID(),
		Phone:     phone,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(domain.OtpTTL),
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, domain.ErrInternal("failed to persist challenge", err)
	}

	body := fmt.Sprintf("رمز التحقق الخاص بك في بيت القدرات: %s\nصالح لمدة 5 دقائق", code)
	if err := s.sms.Send(ctx, phone, body); err != nil {
		// The challenge row stays for inspection; the caller is only told
		// delivery failed.
		log.Warn().Err(err).Str("phone", phone).Msg("otp sms delivery failed")
		return &domain.SendOtpResponse{Delivered: false, ExpiresIn: int(domain.OtpTTL.Seconds())}, nil
	}

	log.Info().Str("phone", phone).Str("challenge_id", challenge.ID).Msg("otp issued")
	return &domain.SendOtpResponse{Delivered: true, ExpiresIn: int(domain.OtpTTL.Seconds())}, nil
}

// Verify consumes the most recent matching challenge. Exactly one call per
// code can succeed: the verified flag is flipped conditionally, and the loser
// of a concurrent race gets ErrAlreadyVerified even though its code was
// objectively correct.
func (s *OtpService) Verify(ctx context.Context, req *domain.VerifyOtpRequest) (*domain.VerifiedUser, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	phone := domain.NormalizePhone(req.Phone)

	// The attempt ceiling exhausts every outstanding challenge for the phone,
	// correct code or not, until a new one is issued.
	attempts, err := s.challenges.FailedAttempts(ctx, phone)
	if err != nil {
		return nil, domain.ErrInternal("failed to check attempts", err)
	}
	if attempts >= domain.MaxOtpAttempts {
		return nil, domain.WrapTaxonomy(domain.ErrTooManyAttempts)
	}

	challenge, err := s.challenges.FindLatestMatch(ctx, phone, req.Code)
	if err != nil {
		return nil, domain.ErrInternal("failed to look up challenge", err)
	}
	if challenge == nil {
		if err := s.challenges.IncrementAttempts(ctx, phone); err != nil {
			log.Warn().Err(err).Str("phone", phone).Msg("failed to record otp attempt")
		}
		return nil, domain.WrapTaxonomy(domain.ErrInvalidOrExpiredCode)
	}
	if challenge.Verified {
		return nil, domain.WrapTaxonomy(domain.ErrAlreadyVerified)
	}

	ok, err := s.challenges.MarkVerified(ctx, challenge.ID)
	if err != nil {
		return nil, domain.ErrInternal("failed to consume challenge", err)
	}
	if !ok {
		return nil, domain.WrapTaxonomy(domain.ErrAlreadyVerified)
	}

	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return nil, domain.ErrInternal("failed to look up account", err)
	}
	if user == nil {
		return nil, domain.WrapTaxonomy(domain.ErrUnknownSubject)
	}
	if err := s.users.MarkPhoneVerified(ctx, user.ID); err != nil {
		return nil, domain.ErrInternal("failed to record verification", err)
	}

	log.Info().Str("phone", phone).Str("user_id", user.ID).Msg("otp verified")
	return &domain.VerifiedUser{UserID: user.ID, Phone: phone}, nil
}

// generateCode returns n random decimal digits from crypto/rand.
func generateCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}

func formatValidationErrors(err error) string {
	return err.Error()
}
