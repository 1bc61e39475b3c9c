// Package api provides HTTP handlers and the main API server logic for BotLoom.
//
// It exposes the turn endpoint that drives flow execution, a Twilio inbound
// webhook, and a health check endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BotLoom/BotLoom/internal/engine"
	"github.com/BotLoom/BotLoom/internal/messaging"
	"github.com/BotLoom/BotLoom/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultReadTimeout bounds how long reading a request may take
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds how long writing a response may take.
	// Turns can block on webhooks and action_wait delays, so this stays generous.
	DefaultWriteTimeout = 60 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr   string
	Twilio *messaging.TwilioService
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioService attaches the Twilio adapter so the inbound webhook can
// feed end-user messages into it.
func WithTwilioService(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.Twilio = svc }
}

// Server wires the engine and store behind the HTTP surface.
type Server struct {
	engine *engine.Engine
	st     store.Store
	twilio *messaging.TwilioService
	addr   string
	srv    *http.Server
}

// NewServer creates an API server over the given engine and store.
func NewServer(eng *engine.Engine, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		engine: eng,
		st:     st,
		twilio: cfg.Twilio,
		addr:   cfg.Addr,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/turn", s.turnHandler)
	mux.HandleFunc("/twilio/inbound", s.twilioInboundHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("API server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.srv.Shutdown(ctx)
}
