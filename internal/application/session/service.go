// Package session authenticates verified accounts.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/agrisense-api/internal/domain"
	"github.com/agrisense-api/internal/pkg/validate"
)

// Result is a successful authentication.
type Result struct {
	User        *domain.User
	AccessToken string // empty when token signing is not configured
}

type Service interface {
	Login(ctx context.Context, req domain.LoginRequest) (*Result, error)
	// Issue signs an access token for an account that was just verified.
	Issue(ctx context.Context, u *domain.User) (*Result, error)
	Current(ctx context.Context, userID string) (*domain.User, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type pendingStore interface {
	Get(ctx context.Context, email string) (*domain.PendingRegistration, error)
}

type passwordChecker interface {
	Compare(hash, plain string) (bool, error)
}

type jwtSigner interface {
	Sign(userID, email, role string) (string, error)
}

type service struct {
	users   userStore
	pending pendingStore
	hasher  passwordChecker
	signer  jwtSigner
}

type ServiceDeps struct {
	UserRepo    userStore
	PendingRepo pendingStore
	Hasher      passwordChecker
	JWTProvider jwtSigner // optional
}

func NewService(deps ServiceDeps) Service {
	return &service{
		users:   deps.UserRepo,
		pending: deps.PendingRepo,
		hasher:  deps.Hasher,
		signer:  deps.JWTProvider,
	}
}

var errInvalidCredentials = fmt.Errorf("invalid email or password: %w", domain.ErrUnauthorized)

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(req.Email)

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("lookup account: %w: %w", domain.ErrDependency, err)
		}
		return nil, s.unknownAccount(ctx, email, req.Password)
	}

	ok, err := s.hasher.Compare(u.PasswordHash, req.Password)
	if err != nil || !ok {
		return nil, errInvalidCredentials
	}
	if !u.Verified {
		return nil, fmt.Errorf("email not verified: %w", domain.ErrForbidden)
	}
	return s.Issue(ctx, u)
}

// unknownAccount tells a pending signup apart from a missing account. The
// pending state is only revealed to a caller holding the signup password.
func (s *service) unknownAccount(ctx context.Context, email, plain string) error {
	p, err := s.pending.Get(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return errInvalidCredentials
	case err != nil:
		return fmt.Errorf("lookup pending registration: %w: %w", domain.ErrDependency, err)
	}
	if ok, err := s.hasher.Compare(p.PasswordHash, plain); err != nil || !ok {
		return errInvalidCredentials
	}
	return fmt.Errorf("email not verified, check your inbox for the code: %w", domain.ErrForbidden)
}

func (s *service) Issue(_ context.Context, u *domain.User) (*Result, error) {
	res := &Result{User: u}
	if s.signer == nil {
		return res, nil
	}
	tok, err := s.signer.Sign(u.UserID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	res.AccessToken = tok
	return res, nil
}

func (s *service) Current(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load account: %w: %w", domain.ErrDependency, err)
	}
	return u, nil
}
