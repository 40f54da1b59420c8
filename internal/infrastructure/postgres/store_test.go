package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agrisense-api/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
	teardown      func(context.Context, ...testcontainers.TerminateOption) error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if teardown != nil {
		_ = teardown(context.Background())
	}
	os.Exit(code)
}

func startPostgres() {
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("agrisense"),
		tcpostgres.WithUsername("agrisense"),
		tcpostgres.WithPassword("agrisense"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		containerErr = err
		return
	}
	teardown = c.Terminate
	containerURL, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	if containerErr == nil {
		containerErr = Migrate(containerURL)
	}
}

// testPool returns a pool on an empty, migrated database.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	containerOnce.Do(startPostgres)
	require.NoError(t, containerErr)

	ctx := context.Background()
	pool, err := Connect(ctx, containerURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `TRUNCATE pending_registrations, users`)
	require.NoError(t, err)
	return pool
}

func newPending(email string, expiry time.Time) *domain.PendingRegistration {
	now := expiry.Add(-10 * time.Minute)
	return &domain.PendingRegistration{
		Email: email, FirstName: "Alice", LastName: "Farmer", PasswordHash: "$2a$04$hash",
		OTPCode: "123456", OTPExpiry: expiry, CreatedAt: now, UpdatedAt: now,
	}
}

func TestPendingRepo_PutGetOverwrite(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewPendingRepo(pool)
	expiry := time.Now().UTC().Truncate(time.Second).Add(10 * time.Minute)

	require.NoError(t, repo.Put(ctx, newPending("alice@example.com", expiry)))
	p := newPending("alice@example.com", expiry.Add(time.Minute))
	p.OTPCode = "654321"
	require.NoError(t, repo.Put(ctx, p))

	got, err := repo.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "654321", got.OTPCode)
	assert.True(t, got.OTPExpiry.Equal(expiry.Add(time.Minute)))

	_, err = repo.Get(ctx, "missing@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPendingRepo_UpdateOTP(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewPendingRepo(pool)
	now := time.Now().UTC().Truncate(time.Second)

	assert.ErrorIs(t, repo.UpdateOTP(ctx, "nobody@example.com", "111111", now, now), domain.ErrNotFound)

	require.NoError(t, repo.Put(ctx, newPending("a@example.com", now)))
	require.NoError(t, repo.UpdateOTP(ctx, "a@example.com", "222222", now.Add(10*time.Minute), now))
	got, err := repo.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "222222", got.OTPCode)
	assert.True(t, got.OTPExpiry.Equal(now.Add(10*time.Minute)))
}

func TestPendingRepo_PromoteIsAtomic(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	pending := NewPendingRepo(pool)
	users := NewUserRepo(pool)
	now := time.Now().UTC().Truncate(time.Second)

	p := newPending("a@example.com", now.Add(10*time.Minute))
	require.NoError(t, pending.Put(ctx, p))
	u := p.Promote("01HUSER", now)
	require.NoError(t, pending.Promote(ctx, p.Email, u))

	_, err := pending.Get(ctx, p.Email)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := users.GetByEmail(ctx, p.Email)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, "01HUSER", got.UserID)

	// second promotion finds nothing to delete
	assert.ErrorIs(t, pending.Promote(ctx, p.Email, u), domain.ErrNotFound)

	// a conflicting account rolls the delete back
	p2 := newPending("b@example.com", now.Add(10*time.Minute))
	require.NoError(t, pending.Put(ctx, p2))
	require.NoError(t, users.Create(ctx, &domain.User{UserID: "01HOTHER", Email: "b@example.com", PasswordHash: "x", FirstName: "B", LastName: "B", Role: domain.RoleUser, CreatedAt: now, UpdatedAt: now}))
	assert.ErrorIs(t, pending.Promote(ctx, p2.Email, p2.Promote("01HNEW", now)), domain.ErrConflict)
	_, err = pending.Get(ctx, p2.Email)
	assert.NoError(t, err)
}

func TestPendingRepo_DeleteExpiredBoundary(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewPendingRepo(pool)
	cutoff := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)

	require.NoError(t, repo.Put(ctx, newPending("exact@example.com", cutoff)))
	require.NoError(t, repo.Put(ctx, newPending("old@example.com", cutoff.Add(-time.Hour))))
	require.NoError(t, repo.Put(ctx, newPending("inside@example.com", cutoff.Add(time.Second))))

	n, err := repo.DeleteExpired(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.DeleteExpired(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	_, err = repo.Get(ctx, "inside@example.com")
	assert.NoError(t, err)
}

func TestUserRepo_CreateAndGet(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	users := NewUserRepo(pool)
	now := time.Now().UTC().Truncate(time.Second)
	u := &domain.User{UserID: "01HADMIN", Email: "admin@example.com", PasswordHash: "x", FirstName: "A", LastName: "D", Role: domain.RoleAdmin, Verified: true, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, u), domain.ErrConflict)

	got, err := users.Get(ctx, "01HADMIN")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.Nil(t, got.Phone)

	_, err = users.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
