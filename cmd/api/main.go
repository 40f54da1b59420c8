package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrisense-api/internal/application/cleanup"
	"github.com/agrisense-api/internal/config"
	jwtinfra "github.com/agrisense-api/internal/infrastructure/jwt"
	redisinfra "github.com/agrisense-api/internal/infrastructure/redis"
	"github.com/agrisense-api/internal/infrastructure/smtp"
	"github.com/agrisense-api/internal/infrastructure/sns"
	"github.com/agrisense-api/internal/infrastructure/storage"
	"github.com/agrisense-api/internal/pkg/logger"
	"github.com/agrisense-api/internal/pkg/password"
	"github.com/agrisense-api/internal/pkg/throttle"
	transporthttp "github.com/agrisense-api/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Service: "agrisense-api", Env: cfg.AppEnv, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		log.Info("no .env file found, reading from environment")
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer stores.Close()

	// JWT provider (optional; bearer routes are not mounted without it).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Warn("JWT provider not available", "err", err)
	}

	var smsSender transporthttp.SMSSender
	if cfg.OTPSMSEnabled {
		if sender, err := sns.NewSender(ctx, cfg); err == nil {
			smsSender = sender
		} else {
			log.Warn("SNS sender not available", "err", err)
		}
	}

	var cooldown transporthttp.Cooldown = throttle.NewCooldown(cfg.OTPResendCooldown)
	if cfg.UseRedis() {
		client, err := redisinfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, resend cooldown kept in process", "err", err)
		} else {
			defer client.Close()
			cooldown = redisinfra.NewCooldown(client, cfg.OTPResendCooldown)
		}
	}

	job := cleanup.NewJob(stores.Pending, log, cleanup.JobConfig{
		Retention: cfg.Cleanup.Retention,
		Timeout:   cfg.Cleanup.Timeout,
	})
	if cfg.Cleanup.Enabled {
		sched, err := newScheduler(job, log, cfg.Cleanup)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(sctx)
		}()
		log.Info("cleanup scheduled", "schedule", cfg.Cleanup.Schedule, "next", sched.Next())
	}

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		PendingRepo: stores.Pending,
		UserRepo:    stores.Users,
		Mailer:      smtp.NewVerificationMailer(smtp.NewMailer(cfg)),
		SMSSender:   smsSender,
		Hasher:      password.NewHasher(cfg.BcryptCost),
		Cooldown:    cooldown,
		CleanupJob:  job,
		Store:       stores,
		JWTProvider: jwtProvider,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.AppPort, "driver", stores.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func newScheduler(job *cleanup.Job, log *slog.Logger, cfg config.Cleanup) (*cleanup.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("cleanup timezone %q: %w", cfg.Timezone, err)
	}
	return cleanup.NewScheduler(job, log, cleanup.SchedulerConfig{
		Schedule:   cfg.Schedule,
		Location:   loc,
		RunOnStart: cfg.RunOnStart,
	})
}
