package server

import (
	"log/slog"
	"net/http"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/handlers"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/session"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/sessions"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/mw"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

// Dependencies carries the wired services the routes need.
type Dependencies struct {
	Store        order.Store
	Provider     core.Provider
	Transcriber  session.Transcriber
	Synthesizer  session.Synthesizer
	LiveSessions *sessions.Tracker
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("/api/menu", handlers.MenuHandler{
		Store:  s.deps.Store,
		Logger: s.logger,
	})
	s.mux.Handle("/api/orders", handlers.OrdersHandler{
		Store:  s.deps.Store,
		Logger: s.logger,
	})
	s.mux.Handle("/api/orders/{id}", handlers.OrderHandler{
		Store:  s.deps.Store,
		Logger: s.logger,
	})

	s.mux.Handle("/ws/audio", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Store:        s.deps.Store,
		Provider:     s.deps.Provider,
		Transcriber:  s.deps.Transcriber,
		Synthesizer:  s.deps.Synthesizer,
		LiveSessions: s.deps.LiveSessions,
		Audio:        true,
	})
	s.mux.Handle("/ws/text", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Store:        s.deps.Store,
		Provider:     s.deps.Provider,
		LiveSessions: s.deps.LiveSessions,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
