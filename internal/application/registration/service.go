// Package registration implements the signup lifecycle: a pending registration
// is issued with a one-time code, verified, and promoted to a permanent account.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrisense-api/internal/domain"
	"github.com/agrisense-api/internal/metrics"
	"github.com/agrisense-api/internal/pkg/id"
	"github.com/agrisense-api/internal/pkg/otp"
	"github.com/agrisense-api/internal/pkg/validate"
)

// Defaults used when ServiceDeps leaves them unset.
const (
	DefaultOTPTTL         = 10 * time.Minute
	DefaultResendCooldown = 60 * time.Second
)

// IssueResult describes a freshly issued code. Delivery failures do not roll
// back the pending registration; they are reported through EmailSent and DeliveryErr.
type IssueResult struct {
	Pending     *domain.PendingRegistration
	EmailSent   bool
	DeliveryErr error
}

type Service interface {
	Issue(ctx context.Context, req domain.RegisterRequest) (*IssueResult, error)
	Verify(ctx context.Context, req domain.VerifyEmailRequest) (*domain.User, error)
	Resend(ctx context.Context, req domain.ResendOTPRequest) (*IssueResult, error)
}

type pendingStore interface {
	Get(ctx context.Context, email string) (*domain.PendingRegistration, error)
	Put(ctx context.Context, p *domain.PendingRegistration) error
	UpdateOTP(ctx context.Context, email, code string, expiry, now time.Time) error
	Promote(ctx context.Context, email string, u *domain.User) error
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type codeMailer interface {
	SendVerificationCode(ctx context.Context, to, firstName, code string, ttl time.Duration) error
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type passwordHasher interface {
	Hash(plain string) (string, error)
}

type cooldown interface {
	Allow(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type service struct {
	pending  pendingStore
	users    userStore
	mailer   codeMailer
	sms      smsSender
	hasher   passwordHasher
	cooldown cooldown
	ttl      time.Duration
	now      func() time.Time
}

type ServiceDeps struct {
	PendingRepo pendingStore
	UserRepo    userStore
	Mailer      codeMailer
	SMSSender   smsSender // optional
	Hasher      passwordHasher
	Cooldown    cooldown // optional
	OTPTTL      time.Duration
	Now         func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		pending:  deps.PendingRepo,
		users:    deps.UserRepo,
		mailer:   deps.Mailer,
		sms:      deps.SMSSender,
		hasher:   deps.Hasher,
		cooldown: deps.Cooldown,
		ttl:      deps.OTPTTL,
		now:      deps.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultOTPTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Issue creates or overwrites the pending registration for req.Email and sends
// it a new code.
func (s *service) Issue(ctx context.Context, req domain.RegisterRequest) (*IssueResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("email %s already registered: %w", email, domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup account: %w: %w", domain.ErrDependency, err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	code, err := otp.Generate(domain.OTPLength)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	p := &domain.PendingRegistration{
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		PasswordHash: hash,
		OTPCode:      code,
		OTPExpiry:    now.Add(s.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.pending.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("save pending registration: %w: %w", domain.ErrDependency, err)
	}
	metrics.OTPIssuedTotal.WithLabelValues(metrics.ReasonRegister).Inc()
	slog.InfoContext(ctx, "pending registration issued", "email", email, "otp_expires_at", p.OTPExpiry)

	return s.deliver(ctx, p), nil
}

// Verify checks code against the pending registration and, on success,
// promotes it to an account in a single store transaction.
func (s *service) Verify(ctx context.Context, req domain.VerifyEmailRequest) (*domain.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)

	p, err := s.pending.Get(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
			return nil, fmt.Errorf("no pending registration for %s: %w", email, domain.ErrNotFound)
		}
		metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("load pending registration: %w: %w", domain.ErrDependency, err)
	}

	now := s.clock()
	if p.ExpiredAt(now) {
		metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeExpired).Inc()
		return nil, fmt.Errorf("code expired, request a new one: %w", domain.ErrExpired)
	}
	if !otp.Equal(p.OTPCode, req.OTP) {
		metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeMismatch).Inc()
		return nil, fmt.Errorf("invalid verification code: %w", domain.ErrMismatch)
	}

	u := p.Promote(id.New(), now)
	if err := s.pending.Promote(ctx, email, u); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
			return nil, fmt.Errorf("no pending registration for %s: %w", email, domain.ErrNotFound)
		case errors.Is(err, domain.ErrConflict):
			metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, fmt.Errorf("email %s already registered: %w", email, domain.ErrConflict)
		default:
			metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, fmt.Errorf("promote registration: %w: %w", domain.ErrDependency, err)
		}
	}
	metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	slog.InfoContext(ctx, "registration verified", "email", email, "user_id", u.UserID)
	return u, nil
}

// Resend replaces the code of an existing pending registration. Each email
// may resend at most once per cooldown window.
func (s *service) Resend(ctx context.Context, req domain.ResendOTPRequest) (*IssueResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)

	p, err := s.pending.Get(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no pending registration for %s: %w", email, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load pending registration: %w: %w", domain.ErrDependency, err)
	}

	key := "otp-resend:" + email
	if s.cooldown != nil {
		ok, err := s.cooldown.Allow(ctx, key)
		switch {
		case err != nil:
			// fail open: the throttle store is not on the correctness path
			slog.WarnContext(ctx, "resend cooldown check failed", "email", email, "err", err)
		case !ok:
			return nil, fmt.Errorf("please wait before requesting another code: %w", domain.ErrTooManyRequests)
		}
	}

	code, err := otp.Generate(domain.OTPLength)
	if err != nil {
		s.releaseCooldown(ctx, key)
		return nil, err
	}
	now := s.clock()
	expiry := now.Add(s.ttl)
	if err := s.pending.UpdateOTP(ctx, email, code, expiry, now); err != nil {
		s.releaseCooldown(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no pending registration for %s: %w", email, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("update code: %w: %w", domain.ErrDependency, err)
	}
	p.OTPCode = code
	p.OTPExpiry = expiry
	p.UpdatedAt = now
	metrics.OTPIssuedTotal.WithLabelValues(metrics.ReasonResend).Inc()
	slog.InfoContext(ctx, "verification code reissued", "email", email, "otp_expires_at", expiry)

	return s.deliver(ctx, p), nil
}

// releaseCooldown reopens the resend window after a resend that issued no code.
func (s *service) releaseCooldown(ctx context.Context, key string) {
	if s.cooldown == nil {
		return
	}
	if err := s.cooldown.Release(ctx, key); err != nil {
		slog.WarnContext(ctx, "resend cooldown release failed", "key", key, "err", err)
	}
}

// deliver sends the code by email and, when a phone is on file and SMS is
// configured, by text message. Only the email outcome is reported.
func (s *service) deliver(ctx context.Context, p *domain.PendingRegistration) *IssueResult {
	res := &IssueResult{Pending: p, EmailSent: true}
	if err := s.mailer.SendVerificationCode(ctx, p.Email, p.FirstName, p.OTPCode, s.ttl); err != nil {
		metrics.DeliveryFailuresTotal.WithLabelValues(metrics.ChannelEmail).Inc()
		slog.WarnContext(ctx, "verification email not sent", "email", p.Email, "err", err)
		res.EmailSent = false
		res.DeliveryErr = fmt.Errorf("send verification email: %w: %w", domain.ErrDependency, err)
	}
	if s.sms != nil && p.Phone != nil && *p.Phone != "" {
		msg := fmt.Sprintf("Your AgriSense verification code is %s. It expires in %d minutes.", p.OTPCode, int(s.ttl.Minutes()))
		if err := s.sms.SendSMS(ctx, *p.Phone, msg); err != nil {
			metrics.DeliveryFailuresTotal.WithLabelValues(metrics.ChannelSMS).Inc()
			slog.WarnContext(ctx, "verification sms not sent", "email", p.Email, "err", err)
		}
	}
	return res
}

// clock returns the current time truncated to whole seconds, the resolution
// every store driver persists.
func (s *service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}
