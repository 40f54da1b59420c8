package postgres

import (
	"context"
	"fmt"

	"github.com/agrisense-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `user_id, email, phone, password_hash, first_name, last_name, role, verified, created_at, updated_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, db execer, u *domain.User) error {
	_, err := db.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.UserID, u.Email, u.Phone, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.Verified, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", u.Email, domain.ErrConflict)
	}
	return err
}

// Create inserts u; a duplicate email is a conflict.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	return insertUser(ctx, r.pool, u)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	return r.getBy(ctx, "user_id", userID)
}

func (r *UserRepo) getBy(ctx context.Context, column, value string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)
	u, err := scanUser(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("user %s: %w", value, domain.ErrNotFound)
	}
	return u, err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.UserID, &u.Email, &u.Phone, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.Verified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
