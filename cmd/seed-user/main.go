// Command seed-user creates a verified account directly, bypassing
// self-registration. Intended for administrators and test fixtures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agrisense-api/internal/config"
	"github.com/agrisense-api/internal/domain"
	"github.com/agrisense-api/internal/infrastructure/storage"
	"github.com/agrisense-api/internal/pkg/id"
	"github.com/agrisense-api/internal/pkg/logger"
	"github.com/agrisense-api/internal/pkg/password"
	"github.com/joho/godotenv"
)

type options struct {
	email, password, first, last, phone, role string
}

func main() {
	var o options
	flag.StringVar(&o.email, "email", "", "account email (required)")
	flag.StringVar(&o.password, "password", "", "account password (required)")
	flag.StringVar(&o.first, "first", "Test", "first name")
	flag.StringVar(&o.last, "last", "User", "last name")
	flag.StringVar(&o.phone, "phone", "", "phone number")
	flag.StringVar(&o.role, "role", domain.RoleUser, "role: user or admin")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Service: "agrisense-seed", Env: cfg.AppEnv, Level: cfg.LogLevel, Format: "text", Output: os.Stderr})

	if err := run(cfg, log, o); err != nil {
		log.Error("seed failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, o options) error {
	u, err := buildUser(o, password.NewHasher(cfg.BcryptCost), time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stores, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer stores.Close()

	if err := stores.Users.Create(ctx, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%s already has an account", u.Email)
		}
		return err
	}
	fmt.Printf("created %s account %s for %s\n", u.Role, u.UserID, u.Email)
	return nil
}

type hasher interface {
	Hash(plain string) (string, error)
}

func buildUser(o options, h hasher, now time.Time) (*domain.User, error) {
	email := domain.NormalizeEmail(o.email)
	if email == "" || o.password == "" {
		return nil, errors.New("-email and -password are required")
	}
	if !domain.ValidRole(o.role) {
		return nil, fmt.Errorf("unknown role %q", o.role)
	}
	hash, err := h.Hash(o.password)
	if err != nil {
		return nil, err
	}
	now = now.UTC().Truncate(time.Second)
	u := &domain.User{
		UserID:       id.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    o.first,
		LastName:     o.last,
		Role:         o.role,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p := strings.TrimSpace(o.phone); p != "" {
		u.Phone = &p
	}
	return u, nil
}
