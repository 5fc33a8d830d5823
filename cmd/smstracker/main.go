package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/api"
	"github.com/LeventeLantos/sms-tracker/internal/client"
	"github.com/LeventeLantos/sms-tracker/internal/config"
	"github.com/LeventeLantos/sms-tracker/internal/notify"
	"github.com/LeventeLantos/sms-tracker/internal/repo"
	"github.com/LeventeLantos/sms-tracker/internal/scheduler"
	"github.com/LeventeLantos/sms-tracker/internal/service"
	"github.com/LeventeLantos/sms-tracker/internal/tracker"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sms tracker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("sms tracker starting",
		"addr", cfg.Server.Address,
		"store", cfg.Store.Driver,
		"reconcile_interval", cfg.Reconciler.Interval.String(),
		"redis", cfg.Redis.Enabled,
		"gateway", cfg.Gateway.URL != "",
	)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	submissions, closeRepo, err := openRepository(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer closeRepo()

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if rdb != nil {
		notifiers = append(notifiers, notify.NewRedisNotifier(rdb, cfg.Redis.NotifyChannel, cfg.Redis.TTL))
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}

	tr := tracker.New(submissions, tracker.WithNotifier(notifiers), tracker.WithLogger(logger))

	// Parts left in Sending by the previous process are deferred once, before
	// the reconciler or any dispatch can run.
	if err := recoverSubmissions(ctx, tr, logger); err != nil {
		logger.Warn("startup recovery incomplete", "error", err)
	}

	reconciler, err := scheduler.New(cfg.Reconciler.Interval, func(ctx context.Context) error {
		reports, err := tr.Reconcile(ctx)
		logger.Debug("reconciled submissions", "count", len(reports))
		return err
	}, logger)
	if err != nil {
		return err
	}
	reconciler.Start()
	defer reconciler.Stop()

	var dispatcher api.Dispatcher
	if cfg.Gateway.URL != "" {
		dispatcher = service.NewDispatcher(client.NewGatewayClient(cfg.Gateway.URL), tr, cfg.Gateway.ContentMax)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(api.NewHandler(tr, dispatcher, reconciler, cfg.Gateway.ContentMax))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func recoverSubmissions(ctx context.Context, tr *tracker.Tracker, logger *slog.Logger) error {
	reports, err := tr.Recover(ctx)
	deferred := 0
	for _, r := range reports {
		deferred += len(r.DeferredParts)
	}
	logger.Info("startup recovery finished", "submissions", len(reports), "deferred_parts", deferred)
	return err
}

// openRepository builds the configured store. The returned func releases it.
func openRepository(ctx context.Context, cfg *config.Config, rdb *redis.Client) (repo.SubmissionRepository, func(), error) {
	noop := func() {}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		return repo.NewMemorySubmissionRepo(), noop, nil

	case config.DriverRedis:
		if rdb == nil {
			return nil, noop, errors.New("redis store requires REDIS_ADDR")
		}
		return repo.NewRedisSubmissionRepo(rdb, cfg.Redis.TTL), noop, nil

	case config.DriverSQLite, config.DriverPostgres:
		var (
			db      *sql.DB
			dialect repo.Dialect
			err     error
		)
		if cfg.Store.Driver == config.DriverSQLite {
			db, err = repo.OpenSQLite(ctx, cfg.Store.SQLitePath)
			dialect = repo.SQLite
		} else {
			db, err = repo.OpenPostgres(ctx, cfg.Store.PostgresURL)
			dialect = repo.Postgres
		}
		if err != nil {
			return nil, noop, fmt.Errorf("open %s: %w", dialect, err)
		}

		closeDB := func() { _ = db.Close() }
		sqlRepo := repo.NewSQLSubmissionRepo(db, dialect)
		if err := sqlRepo.Migrate(ctx); err != nil {
			closeDB()
			return nil, noop, err
		}
		return sqlRepo, closeDB, nil
	}

	return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
