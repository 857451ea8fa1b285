package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/menjalnica/internal/api"
	"github.com/erazemk/menjalnica/internal/notify"
	"github.com/erazemk/menjalnica/internal/store"
	"github.com/erazemk/menjalnica/internal/swap"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. The database is created on first start.

When MENJALNICA_SWEEP_INTERVAL and at least one of MENJALNICA_PENDING_TTL or
MENJALNICA_ACCEPTED_TTL are set, stale swap requests are expired in the
background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				opts.cfg.Addr = addr
			}
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "listen address")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg

	database, err := opts.openDB()
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("database ready", "path", cfg.DBPath)

	// Signing key is generated on first run and kept in the database.
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return err
	}

	engine := swap.New(database, notify.Multi{
		notify.StoreSink{DB: database},
		notify.LogSink{},
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewRouter(database, jwtSecret, engine, cfg.WelcomePoints))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var workers []func(context.Context)
	if cfg.SweepEnabled() {
		policy := swap.SweepPolicy{PendingTTL: cfg.PendingTTL, AcceptedTTL: cfg.AcceptedTTL}
		workers = append(workers, func(ctx context.Context) {
			runSweeper(ctx, engine, cfg.SweepInterval, policy)
		})
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	slog.Info("server started", "addr", ln.Addr().String(), "welcome_points", cfg.WelcomePoints)
	if err := serve(ctx, server, ln, workers...); err != nil {
		return err
	}

	slog.Info("server stopped, closing database")
	return nil
}

// serve runs server on ln alongside workers until ctx is done or the server
// fails. It returns only after in-flight requests have finished and every
// worker has returned, so the caller may release shared resources.
func serve(ctx context.Context, server *http.Server, ln net.Listener, workers ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, work := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(ctx)
		}()
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	// Serve returns as soon as Shutdown starts.
	cancel()
	<-shutdownDone
	wg.Wait()
	return err
}

// runSweeper expires stale swap requests and purges expired token
// revocations every interval until ctx is done.
func runSweeper(ctx context.Context, engine *swap.Engine, interval time.Duration, policy swap.SweepPolicy) {
	slog.Info("sweeper started", "interval", interval, "pending_ttl", policy.PendingTTL, "accepted_ttl", policy.AcceptedTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, engine, policy)
		}
	}
}

func sweepOnce(ctx context.Context, engine *swap.Engine, policy swap.SweepPolicy) (int, error) {
	n, err := engine.Sweep(ctx, policy)
	if err != nil {
		slog.Error("sweep failed", "expired", n, "error", err)
	} else if n > 0 {
		slog.Info("sweep finished", "expired", n)
	}

	purged, perr := store.PurgeRevokedTokens(ctx, engine.DB, time.Now())
	if perr != nil {
		slog.Warn("purging revoked tokens failed", "error", perr)
	} else if purged > 0 {
		slog.Debug("purged revoked tokens", "count", purged)
	}
	return n, err
}
