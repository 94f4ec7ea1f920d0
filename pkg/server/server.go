// Package server exposes the dispatcher over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harun/agentcore/internal/observability"
	"github.com/harun/agentcore/pkg/dispatcher"
	"github.com/rs/zerolog"
)

// DefaultMaxBodyBytes caps an invocation body.
const DefaultMaxBodyBytes = 1 << 20

// Handler answers one request; *dispatcher.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, req dispatcher.Request) dispatcher.Response
}

// Options configures the server
type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxBodyBytes       int64
	RateLimitPerMinute int
}

// Server is the inbound HTTP surface.
type Server struct {
	options     Options
	handler     Handler
	logger      zerolog.Logger
	router      chi.Router
	rateLimiter *RateLimiter

	mu      sync.Mutex
	server  *http.Server
	stopped bool
}

// New builds the router. It does not listen until Start.
func New(options Options, handler Handler, logger zerolog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler is required")
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		options: options,
		handler: handler,
		logger:  logger,
	}
	if options.RateLimitPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(options.RateLimitPerMinute)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Get("/ping", s.handlePing)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Group(func(r chi.Router) {
		if s.rateLimiter != nil {
			r.Use(rateLimit(s.rateLimiter, s.logger))
		}
		r.Post("/invocations", s.handleInvocation)
	})

	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, fmt.Sprintf("%d", s.options.Port))
}

// Start listens and blocks until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(listener)
}

// Serve handles connections from listener until Stop.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return listener.Close()
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Msg("Starting HTTP server")

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop waits for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
}

func (s *Server) handleInvocation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("invalid payload: body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	var req dispatcher.Request
	if len(bytes.TrimSpace(body)) == 0 {
		req = dispatcher.NewRequest(nil)
	} else if req, err = dispatcher.DecodeRequest(body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, s.handler.Handle(r.Context(), req))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, dispatcher.ErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
