package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/agrisense-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PendingRepo stores pending registrations. Promotion also writes to users.
type PendingRepo struct {
	pool *pgxpool.Pool
}

func NewPendingRepo(pool *pgxpool.Pool) *PendingRepo {
	return &PendingRepo{pool: pool}
}

const pendingColumns = `email, first_name, last_name, phone, password_hash, otp_code, otp_expiry, created_at, updated_at`

func (r *PendingRepo) Get(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	var p domain.PendingRegistration
	err := r.pool.QueryRow(ctx,
		`SELECT `+pendingColumns+` FROM pending_registrations WHERE email = $1`, email,
	).Scan(&p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.PasswordHash, &p.OTPCode, &p.OTPExpiry, &p.CreatedAt, &p.UpdatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Put inserts the registration or overwrites the existing one for the same email.
func (r *PendingRepo) Put(ctx context.Context, p *domain.PendingRegistration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pending_registrations (`+pendingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO UPDATE SET
			first_name    = EXCLUDED.first_name,
			last_name     = EXCLUDED.last_name,
			phone         = EXCLUDED.phone,
			password_hash = EXCLUDED.password_hash,
			otp_code      = EXCLUDED.otp_code,
			otp_expiry    = EXCLUDED.otp_expiry,
			created_at    = EXCLUDED.created_at,
			updated_at    = EXCLUDED.updated_at`,
		p.Email, p.FirstName, p.LastName, p.Phone, p.PasswordHash, p.OTPCode, p.OTPExpiry, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *PendingRepo) UpdateOTP(ctx context.Context, email, code string, expiry, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pending_registrations SET otp_code = $2, otp_expiry = $3, updated_at = $4 WHERE email = $1`,
		email, code, expiry, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	return nil
}

// Promote deletes the pending row and inserts the account in one transaction.
func (r *PendingRepo) Promote(ctx context.Context, email string, u *domain.User) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM pending_registrations WHERE email = $1`, email)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
		}
		return insertUser(ctx, tx, u)
	})
}

// DeleteExpired removes every registration whose code expired at or before cutoff.
func (r *PendingRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_registrations WHERE otp_expiry <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
