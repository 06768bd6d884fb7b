// Package main provides the storyline binary. It loads configuration from
// STORYLINE_ environment variables, opens the item store for the configured
// backend, starts the expiry janitor and the metrics flusher, and serves the
// health and metrics endpoints until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/storyline/internal/app"
	"github.com/haukened/storyline/internal/config"
	"github.com/haukened/storyline/internal/ffs"
	"github.com/haukened/storyline/internal/follow"
	"github.com/haukened/storyline/internal/httpx"
	"github.com/haukened/storyline/internal/janitor"
	"github.com/haukened/storyline/internal/kv"
	"github.com/haukened/storyline/internal/kv/dynamo"
	"github.com/haukened/storyline/internal/kv/sqlite"
	"github.com/haukened/storyline/internal/metrics"
	"github.com/haukened/storyline/internal/post"
)

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(2)
	}
	return cfg
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(dir, 0o700)
	case err != nil:
		return err
	case !st.IsDir():
		return errors.New("data path is not a directory: " + dir)
	}
	return nil
}

// indexes lists every secondary index the domain stores query. Entities
// sharing an index must agree on its key attributes.
func indexes() ([]kv.Index, error) {
	return kv.MergeIndexes(post.Indexes(), follow.Indexes(), ffs.Indexes())
}

// readiness reports whether the item store can serve requests.
type readiness func(ctx context.Context) error

func openStore(ctx context.Context, cfg *config.Config) (kv.Store, readiness, func() error, error) {
	ixs, err := indexes()
	if err != nil {
		return nil, nil, nil, err
	}
	switch cfg.Backend {
	case config.BackendDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, nil, nil, err
		}
		st, err := dynamo.New(client, cfg.DynamoTable, ixs...)
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error {
			_, err := st.GetItem(ctx, kv.Key{PartitionKey: "readiness", SortKey: "-"}, kv.Eventual)
			return err
		}
		return st, ready, func() error { return nil }, nil
	default:
		db, err := sql.Open("sqlite3", cfg.SQLiteDSN())
		if err != nil {
			return nil, nil, nil, err
		}
		st, err := sqlite.New(db, ixs...)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return st, db.PingContext, db.Close, nil
	}
}

func openMetrics(ctx context.Context, cfg *config.Config, log *slog.Logger) (*metrics.Manager, *sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.MetricsDSN())
	if err != nil {
		return nil, nil, err
	}
	m := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: log})
	if err := m.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, db, nil
}

func buildService(store kv.Store, cfg *config.Config, rec app.Recorder, log *slog.Logger) (*app.Service, error) {
	posts := post.New(store, log)
	follows := follow.New(store)
	pointers, err := ffs.New(store, posts, follows, ffs.Config{BatchSize: cfg.FanoutBatchSize, Logger: log})
	if err != nil {
		return nil, err
	}
	return &app.Service{
		Posts:    posts,
		Follows:  follows,
		Pointers: pointers,
		Clock:    app.SystemClock{},
		Metrics:  rec,
		Logger:   log,
	}, nil
}

func buildHandler(ready readiness, snapshots metrics.SnapshotProvider, token string, log *slog.Logger) http.Handler {
	return httpx.New(ready, snapshots, token, log).Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{Addr: cfg.Addr, Handler: handler, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 120 * time.Second}
}

func run() error {
	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureDataDir(cfg.DataDir); err != nil {
		return err
	}
	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	mgr, metricsDB, err := openMetrics(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer metricsDB.Close()
	mgr.Start(ctx)

	svc, err := buildService(store, cfg, mgr, log)
	if err != nil {
		return err
	}
	jan := janitor.New(svc, mgr, janitor.Config{Interval: cfg.SweepInterval, ScanEvery: cfg.ScanEvery, Logger: log})
	jan.Start(ctx)

	srv := newServer(cfg, buildHandler(ready, mgr, cfg.MetricsToken, log))
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.Addr, "backend", cfg.Backend, "pid", os.Getpid())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("server shutdown", "err", serr)
	}
	jan.Stop()
	mgr.Stop(shutdownCtx)
	return err
}

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
