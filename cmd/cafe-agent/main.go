package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sunrisecafe/cafe-agent/internal/dotenv"
	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/providers/gemini"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
	gatewayserver "github.com/sunrisecafe/cafe-agent/pkg/gateway/server"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/session"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/sessions"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

type agentDeps struct {
	loadConfig   func() (config.Config, error)
	newStore     func(ctx context.Context, cfg config.Config, logger *slog.Logger) (order.Store, func(), error)
	newProvider  func(ctx context.Context, cfg config.Config) (core.Provider, session.Transcriber, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAgentDeps() agentDeps {
	return agentDeps{
		loadConfig:  config.LoadFromEnv,
		newStore:    newStore,
		newProvider: newProvider,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// newStore opens Postgres when a database URL is configured and falls back
// to the in-memory store otherwise. Either way the menu is seeded.
func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (order.Store, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Info("no database configured, using in-memory store")
		store := order.NewMemoryStore()
		if err := order.SeedMenu(ctx, store); err != nil {
			return nil, nil, fmt.Errorf("seed menu: %w", err)
		}
		return store, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := order.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	store := order.NewPostgresStore(pool)
	if err := order.SeedMenu(ctx, store); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("seed menu: %w", err)
	}
	return store, pool.Close, nil
}

func newProvider(ctx context.Context, cfg config.Config) (core.Provider, session.Transcriber, error) {
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("init gemini provider: %w", err)
	}
	return provider, gemini.NewTranscriber(provider, ""), nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runAgent(ctx context.Context, logger *slog.Logger, deps agentDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newStore == nil {
		return errors.New("missing newStore dependency")
	}
	if deps.newProvider == nil {
		return errors.New("missing newProvider dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := deps.newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	provider, transcriber, err := deps.newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	tracker := sessions.NewTracker()
	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Store:        store,
		Provider:     provider,
		Transcriber:  transcriber,
		LiveSessions: tracker,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting cafe agent", "addr", cfg.Addr, "model", cfg.Model)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	tracker.CloseAll("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		tracker.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("cafe agent stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps agentDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "cafe-agent: %v\n", err)
		return 1
	}

	if err := runAgent(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "cafe-agent: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAgentDeps()))
}
