package http

import (
	"context"
	"time"

	"github.com/agrisense-api/internal/domain"
)

// PendingRepository is the minimal interface the router requires from a pending registration store.
type PendingRepository interface {
	Get(ctx context.Context, email string) (*domain.PendingRegistration, error)
	Put(ctx context.Context, p *domain.PendingRegistration) error
	UpdateOTP(ctx context.Context, email, code string, expiry, now time.Time) error
	Promote(ctx context.Context, email string, u *domain.User) error
}

// UserRepository is the minimal interface the router requires from a user store.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// CodeMailer delivers verification codes.
type CodeMailer interface {
	SendVerificationCode(ctx context.Context, to, firstName, code string, ttl time.Duration) error
}

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// PasswordHasher hashes and checks account passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) (bool, error)
}

// Cooldown throttles repeated actions per key.
type Cooldown interface {
	Allow(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// CleanupRunner runs the expired registration purge.
type CleanupRunner interface {
	Run(ctx context.Context) (int64, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
