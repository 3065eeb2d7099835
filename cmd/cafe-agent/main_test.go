package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/session"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, agentDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newStore: func(context.Context, config.Config, *slog.Logger) (order.Store, func(), error) {
			t.Fatalf("newStore should not be called when config load fails")
			return nil, nil, nil
		},
		newProvider: func(context.Context, config.Config) (core.Provider, session.Transcriber, error) {
			t.Fatalf("newProvider should not be called when config load fails")
			return nil, nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunAgent_StoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	err := runAgent(context.Background(), logger, agentDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{Addr: "127.0.0.1:0"}, nil
		},
		newStore: func(context.Context, config.Config, *slog.Logger) (order.Store, func(), error) {
			return nil, nil, errors.New("connection refused")
		},
		newProvider: func(context.Context, config.Config) (core.Provider, session.Transcriber, error) {
			t.Fatalf("newProvider should not be called when store init fails")
			return nil, nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("init store")) {
		t.Fatalf("err=%v", err)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestNewStore_DefaultsToMemoryWithSeededMenu(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	store, cleanup, err := newStore(context.Background(), config.Config{}, logger)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	defer cleanup()

	items, err := store.ListMenuItems(context.Background())
	if err != nil {
		t.Fatalf("list menu: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("expected seeded menu")
	}
}
