package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/beatframe/internal/api"
	"github.com/bobarin/beatframe/internal/config"
	"github.com/bobarin/beatframe/internal/db"
	"github.com/bobarin/beatframe/internal/logging"
	"github.com/bobarin/beatframe/internal/queue"
	"github.com/bobarin/beatframe/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		base := logging.Base()
		base.Fatal().Err(err).Msg("failed to load config")
	}

	if err := run(cfg); err != nil {
		base := logging.Base()
		base.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Configure(logging.Config{Level: cfg.LogLevel})
	logger := logging.WithComponent("main")
	logger.Info().Msg("starting beatframe render API")

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Render queue; each job gets its own scheduler
	q := queue.New(queue.Config{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		JobTimeout:    cfg.JobTimeout,
	}, func(jobID string) queue.Renderer {
		return worker.NewScheduler(worker.SchedulerConfig{
			FFmpegPath: cfg.FFmpegPath,
			OutputDir:  cfg.OutputDir,
			TempDir:    cfg.TempDir,
		}, logging.WithComponent("scheduler"))
	}, logging.WithComponent("queue"))

	// Optional job history
	var history api.JobHistory
	if cfg.DatabaseURL != "" {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = database.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return err
		}

		q.AddObserver(db.NewHistoryObserver(database, logging.WithComponent("history")))
		history = database
		logger.Info().Msg("connected to database, job history enabled")
	}

	// Optional Redis status fan-out
	var snapshots api.JobSnapshots
	if cfg.RedisURL != "" {
		pub, err := queue.NewRedisPublisher(cfg.RedisURL, cfg.JobStatusTTL, logging.WithComponent("publisher"))
		if err != nil {
			return err
		}
		defer pub.Close()

		q.AddObserver(pub)
		snapshots = pub
		logger.Info().Msg("connected to redis, publishing job status")
	}

	// Evict finished jobs from memory on a schedule
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.CleanupSchedule, func() {
		if n := q.Cleanup(cfg.JobRetention); n > 0 {
			logger.Info().Int("evicted", n).Msg("cleaned up finished jobs")
		}
	}); err != nil {
		return fmt.Errorf("invalid CLEANUP_SCHEDULE %q: %w", cfg.CleanupSchedule, err)
	}

	q.Start()
	sched.Start()

	// Create API handler
	handler := api.NewHandler(q, history, cfg.MaxRecipeBytes, logging.WithComponent("api"))
	if snapshots != nil {
		handler.WithSnapshots(snapshots)
	}
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:        cfg.BackendAPIKey,
		CorsAllowedOrigins:   cfg.CorsAllowedOrigins,
		EnqueueRatePerMinute: cfg.EnqueueRatePerMinute,
	})

	if cfg.BackendAPIKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then drain the renders
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := q.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		<-sched.Stop().Done()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("server exited")
	return nil
}
