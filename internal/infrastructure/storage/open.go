// Package storage selects and opens the registration store named by STORE_DRIVER.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrisense-api/internal/config"
	"github.com/agrisense-api/internal/domain"
	"github.com/agrisense-api/internal/infrastructure/dynamo"
	"github.com/agrisense-api/internal/infrastructure/memory"
	"github.com/agrisense-api/internal/infrastructure/postgres"
)

// PendingStore persists registrations awaiting verification.
type PendingStore interface {
	Get(ctx context.Context, email string) (*domain.PendingRegistration, error)
	Put(ctx context.Context, p *domain.PendingRegistration) error
	UpdateOTP(ctx context.Context, email, code string, expiry, now time.Time) error
	Promote(ctx context.Context, email string, u *domain.User) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserStore persists verified accounts.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Stores bundles the repositories of one driver.
type Stores struct {
	Driver  string
	Pending PendingStore
	Users   UserStore
	pinger  pinger
	close   func()
}

// Ping reports whether the backing store is reachable.
func (s *Stores) Ping(ctx context.Context) error { return s.pinger.Ping(ctx) }

// Close releases driver resources.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Open connects to the configured driver. Postgres migrations and DynamoDB
// table bootstrap run here so every binary sees the same schema.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the %s driver", cfg.StoreDriver)
		}
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("store ready", "driver", cfg.StoreDriver)
		return &Stores{
			Driver:  cfg.StoreDriver,
			Pending: postgres.NewPendingRepo(pool),
			Users:   postgres.NewUserRepo(pool),
			pinger:  pool,
			close:   pool.Close,
		}, nil

	case config.DriverDynamo:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		logger.Info("store ready", "driver", cfg.StoreDriver, "endpoint", cfg.AWSEndpointURL)
		return &Stores{
			Driver:  cfg.StoreDriver,
			Pending: dynamo.NewPendingRepo(client, cfg.DynamoTables.PendingRegistrations, cfg.DynamoTables.Users),
			Users:   dynamo.NewUserRepo(client, cfg.DynamoTables.Users),
			pinger:  dynamo.NewPinger(client, cfg.DynamoTables.PendingRegistrations),
		}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		s := memory.New()
		return &Stores{Driver: cfg.StoreDriver, Pending: s.Pending(), Users: s.Users(), pinger: s}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
