package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/metrics"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/go-otp-auth/internal/pkg/otp"
)

// TokenTTL is the lifetime of a login token.
const TokenTTL = time.Hour

const defaultDependencyTimeout = 5 * time.Second

type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNo     string
	DateOfBirth time.Time
	Password    string
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	VerifyOTP(ctx context.Context, phoneNo, code string) error
	Login(ctx context.Context, email, password string) (string, error)
}

type userStore interface {
	FindByEmailOrPhone(ctx context.Context, email, phoneNo string) (*domain.User, error)
	GetByPhone(ctx context.Context, phoneNo string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpsertByPhone(ctx context.Context, patch domain.RegistrationPatch) (*domain.User, error)
	MarkVerified(ctx context.Context, phoneNo, code string) error
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type passwordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) bool
}

type tokenIssuer interface {
	Issue(userID, email string, ttl time.Duration) (string, error)
}

type ServiceDeps struct {
	UserRepo    userStore
	SMSSender   smsSender
	Hasher      passwordHasher
	TokenIssuer tokenIssuer
	Clock       clock.Clock
	Logger      *slog.Logger

	OTPExpiry         time.Duration
	DependencyTimeout time.Duration
	// PendingReregistration lets a registration overwrite an unverified
	// record holding the same phone number instead of rejecting it.
	PendingReregistration bool
}

type service struct {
	users                 userStore
	sms                   smsSender
	hasher                passwordHasher
	tokens                tokenIssuer
	clock                 clock.Clock
	logger                *slog.Logger
	otpExpiry             time.Duration
	timeout               time.Duration
	pendingReregistration bool
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		users:                 deps.UserRepo,
		sms:                   deps.SMSSender,
		hasher:                deps.Hasher,
		tokens:                deps.TokenIssuer,
		clock:                 deps.Clock,
		logger:                deps.Logger,
		otpExpiry:             deps.OTPExpiry,
		timeout:               deps.DependencyTimeout,
		pendingReregistration: deps.PendingReregistration,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "auth")
	if s.otpExpiry <= 0 {
		s.otpExpiry = otp.DefaultExpiry
	}
	if s.timeout <= 0 {
		s.timeout = defaultDependencyTimeout
	}
	return s
}

// Register checks that the identity is free, texts a fresh OTP to the phone
// number and only then upserts the unverified record keyed by phone number.
// A delivery failure leaves the store untouched.
func (s *service) Register(ctx context.Context, in RegisterInput) (u *domain.User, err error) {
	defer s.observe(ctx, "register", &err)

	code, expiresAt, err := otp.Generate(s.clock.Now(), s.otpExpiry)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if err := s.checkIdentity(ctx, in); err != nil {
		return nil, err
	}
	if err := s.sendOTP(ctx, in.PhoneNo, code); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, domain.Internal(err)
	}

	dctx, cancel := s.bounded(ctx)
	defer cancel()
	u, err = s.users.UpsertByPhone(dctx, domain.RegistrationPatch{
		PhoneNo:      in.PhoneNo,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		DateOfBirth:  in.DateOfBirth,
		PasswordHash: hash,
		OTP:          code,
		OTPExpiry:    expiresAt,
	})
	if err != nil {
		return nil, upsertError(err)
	}
	s.logger.InfoContext(ctx, "user registered, otp sent", "user_id", u.UserID)
	return u, nil
}

// checkIdentity rejects a registration whose email or phone number is held by
// an existing record.
func (s *service) checkIdentity(ctx context.Context, in RegisterInput) error {
	dctx, cancel := s.bounded(ctx)
	defer cancel()

	existing, err := s.users.FindByEmailOrPhone(dctx, in.Email, in.PhoneNo)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.Internal(err)
	}

	if s.pendingReregistration && existing.PhoneNo == in.PhoneNo && !existing.IsVerified {
		if existing.Email == in.Email {
			return nil
		}
		// The upsert keys on phone, so the email must not belong to a
		// different record.
		other, err := s.users.GetByEmail(dctx, in.Email)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return domain.Internal(err)
		}
		if other.PhoneNo != in.PhoneNo {
			return domain.ErrEmailTaken
		}
		return nil
	}
	return duplicateError(existing, in)
}

// upsertError maps a store conflict lost to a concurrent registration.
func upsertError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDuplicateIdentity):
		return domain.ErrDuplicateIdentity.WithCause(err)
	case errors.Is(err, domain.ErrEmailTaken):
		return domain.ErrEmailTaken.WithCause(err)
	case errors.Is(err, domain.ErrConflict):
		return domain.ErrPhoneTaken.WithCause(err)
	}
	return domain.Internal(err)
}

func duplicateError(existing *domain.User, in RegisterInput) error {
	emailMatch := existing.Email == in.Email
	phoneMatch := existing.PhoneNo == in.PhoneNo
	switch {
	case emailMatch && phoneMatch:
		return domain.ErrDuplicateIdentity
	case emailMatch:
		return domain.ErrEmailTaken
	default:
		return domain.ErrPhoneTaken
	}
}

func (s *service) sendOTP(ctx context.Context, phoneNo, code string) error {
	dctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.sms.SendSMS(dctx, phoneNo, otp.Message(code, s.otpExpiry)); err != nil {
		metrics.SMSDeliveriesTotal.WithLabelValues("failed").Inc()
		return domain.ErrDeliveryFailed.WithCause(err)
	}
	metrics.SMSDeliveriesTotal.WithLabelValues("sent").Inc()
	return nil
}

// VerifyOTP marks the user holding phoneNo as verified when code matches the
// stored OTP and has not expired. A wrong code is always reported as invalid,
// even when the stored code has also expired.
func (s *service) VerifyOTP(ctx context.Context, phoneNo, code string) (err error) {
	defer s.observe(ctx, "verify_otp", &err)

	dctx, cancel := s.bounded(ctx)
	defer cancel()

	u, err := s.users.GetByPhone(dctx, phoneNo)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return domain.Internal(err)
	}
	if u.IsVerified {
		return domain.ErrAlreadyVerified
	}
	if u.OTP == nil || subtle.ConstantTimeCompare([]byte(*u.OTP), []byte(code)) != 1 {
		return domain.ErrInvalidOTP
	}
	if u.OTPExpiry == nil || s.clock.Now().After(*u.OTPExpiry) {
		return domain.ErrOTPExpired
	}

	// The write is conditional on the code still being pending, so of two
	// concurrent verifications only one succeeds.
	if err := s.users.MarkVerified(dctx, phoneNo, code); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyVerified):
			return domain.ErrAlreadyVerified.WithCause(err)
		case errors.Is(err, domain.ErrInvalidOTP):
			return domain.ErrInvalidOTP.WithCause(err)
		case errors.Is(err, domain.ErrNotFound):
			return domain.ErrUserNotFound
		}
		return domain.Internal(err)
	}
	s.logger.InfoContext(ctx, "user verified", "user_id", u.UserID)
	return nil
}

// Login checks the credentials of a verified user and returns a signed token
// carrying the user id and email, valid for TokenTTL.
func (s *service) Login(ctx context.Context, email, password string) (token string, err error) {
	defer s.observe(ctx, "login", &err)

	dctx, cancel := s.bounded(ctx)
	defer cancel()

	u, err := s.users.GetByEmail(dctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", domain.Internal(err)
	}
	if !u.IsVerified {
		return "", domain.ErrNotVerified
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return "", domain.ErrInvalidPassword
	}
	token, err = s.tokens.Issue(u.UserID, u.Email, TokenTTL)
	if err != nil {
		return "", domain.Internal(err)
	}
	return token, nil
}

func (s *service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *service) observe(ctx context.Context, op string, errp *error) {
	err := *errp
	if err == nil {
		metrics.AuthOperationsTotal.WithLabelValues(op, "ok").Inc()
		return
	}
	kind := domain.KindOf(err)
	metrics.AuthOperationsTotal.WithLabelValues(op, kind.String()).Inc()
	switch kind {
	case domain.KindInternal:
		s.logger.ErrorContext(ctx, op+" failed", "err", err)
	case domain.KindExternal:
		s.logger.WarnContext(ctx, op+" failed", "err", err)
	default:
		s.logger.DebugContext(ctx, op+" rejected", "reason", err)
	}
}
