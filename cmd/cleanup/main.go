// Command cleanup purges expired pending registrations. By default it runs
// once and prints the number of deleted records; with -daemon it runs the
// cron scheduler until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrisense-api/internal/application/cleanup"
	"github.com/agrisense-api/internal/config"
	"github.com/agrisense-api/internal/infrastructure/storage"
	"github.com/agrisense-api/internal/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	daemon := flag.Bool("daemon", false, "run on CLEANUP_SCHEDULE until interrupted")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Service: "agrisense-cleanup", Env: cfg.AppEnv, Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, log, *daemon); err != nil {
		log.Error("cleanup failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, daemon bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer stores.Close()

	job := cleanup.NewJob(stores.Pending, log, cleanup.JobConfig{
		Retention: cfg.Cleanup.Retention,
		Timeout:   cfg.Cleanup.Timeout,
	})

	if !daemon {
		n, err := job.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d expired pending registrations\n", n)
		return nil
	}

	loc, err := time.LoadLocation(cfg.Cleanup.Timezone)
	if err != nil {
		return fmt.Errorf("cleanup timezone %q: %w", cfg.Cleanup.Timezone, err)
	}
	sched, err := cleanup.NewScheduler(job, log, cleanup.SchedulerConfig{
		Schedule:   cfg.Cleanup.Schedule,
		Location:   loc,
		RunOnStart: cfg.Cleanup.RunOnStart,
	})
	if err != nil {
		return err
	}
	sched.Start()
	log.Info("cleanup daemon started", "schedule", cfg.Cleanup.Schedule, "next", sched.Next())

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(sctx)
	log.Info("cleanup daemon stopped")
	return nil
}
