// Package memory is an in-process store driver for local development and tests.
// Every operation runs under a single mutex, which gives the same per-call
// atomicity the SQL and DynamoDB drivers provide.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agrisense-api/internal/domain"
)

// Store holds pending registrations and accounts.
type Store struct {
	mu      sync.Mutex
	pending map[string]domain.PendingRegistration
	users   map[string]domain.User // keyed by email
}

func New() *Store {
	return &Store{
		pending: make(map[string]domain.PendingRegistration),
		users:   make(map[string]domain.User),
	}
}

func (s *Store) Pending() *PendingRepo { return &PendingRepo{s: s} }
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// PendingRepo is the pending-registration view of a Store.
type PendingRepo struct{ s *Store }

func (r *PendingRepo) Get(_ context.Context, email string) (*domain.PendingRegistration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pending[email]
	if !ok {
		return nil, fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	return &p, nil
}

// Put inserts or replaces the pending registration for p.Email.
func (r *PendingRepo) Put(_ context.Context, p *domain.PendingRegistration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.pending[p.Email] = *p
	return nil
}

func (r *PendingRepo) UpdateOTP(_ context.Context, email, code string, expiry, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pending[email]
	if !ok {
		return fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	p.OTPCode = code
	p.OTPExpiry = expiry
	p.UpdatedAt = now
	r.s.pending[email] = p
	return nil
}

// Promote deletes the pending registration and creates u in one step.
func (r *PendingRepo) Promote(_ context.Context, email string, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pending[email]; !ok {
		return fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	if _, ok := r.s.users[u.Email]; ok {
		return fmt.Errorf("account %s: %w", u.Email, domain.ErrConflict)
	}
	delete(r.s.pending, email)
	r.s.users[u.Email] = *u
	return nil
}

// DeleteExpired removes every registration whose code expired at or before cutoff.
func (r *PendingRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for email, p := range r.s.pending {
		if p.PurgeableBefore(cutoff) {
			delete(r.s.pending, email)
			n++
		}
	}
	return n, nil
}

// Count returns the number of pending registrations.
func (r *PendingRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.pending)
}

// UserRepo is the account view of a Store.
type UserRepo struct{ s *Store }

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
	}
	return &u, nil
}

func (r *UserRepo) Get(_ context.Context, userID string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.UserID == userID {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
}

// Create inserts u; an existing account with the same email is a conflict.
func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.Email]; ok {
		return fmt.Errorf("account %s: %w", u.Email, domain.ErrConflict)
	}
	r.s.users[u.Email] = *u
	return nil
}

// Count returns the number of accounts.
func (r *UserRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.users)
}
