package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agrisense-api/internal/config"
	"github.com/agrisense-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, &config.Config{StoreDriver: config.DriverMemory}, discard)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(ctx))
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Pending.Put(ctx, &domain.PendingRegistration{Email: "a@x.io", OTPCode: "123456", OTPExpiry: now}))
	require.NoError(t, s.Pending.Promote(ctx, "a@x.io", &domain.User{UserID: "01H", Email: "a@x.io", Verified: true}))

	u, err := s.Users.GetByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.True(t, u.Verified)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{StoreDriver: "mongo"}, discard)
	assert.ErrorContains(t, err, "mongo")
}

func TestOpen_PostgresNeedsURL(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{StoreDriver: config.DriverPostgres}, discard)
	assert.ErrorContains(t, err, "DATABASE_URL")
}
