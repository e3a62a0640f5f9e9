// Package server serves training status, health and the run ledger over
// HTTP while a training run is in progress.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/govarcall/internal/errors"
	"github.com/3leaps/govarcall/internal/server/handlers"
	"github.com/3leaps/govarcall/internal/server/middleware"
)

// Timeouts for the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts returns the timeouts used when none are set.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:     30 * time.Second,
		Write:    30 * time.Second,
		Idle:     120 * time.Second,
		Shutdown: 10 * time.Second,
	}
}

// Server is the status HTTP server.
type Server struct {
	host     string
	port     int
	timeouts Timeouts
	logger   *zap.Logger

	status handlers.StatusProvider
	ledger *sql.DB

	router     chi.Router
	httpServer *http.Server
}

// New returns a server for host:port. Routes are built lazily on first use
// so that With* options apply.
func New(host string, port int) *Server {
	return &Server{
		host:     host,
		port:     port,
		timeouts: DefaultTimeouts(),
		logger:   zap.NewNop(),
	}
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	s.router = nil
	return s
}

// WithTimeouts overrides the http.Server timeouts. Zero fields keep the
// defaults.
func (s *Server) WithTimeouts(t Timeouts) *Server {
	d := DefaultTimeouts()
	if t.Read == 0 {
		t.Read = d.Read
	}
	if t.Write == 0 {
		t.Write = d.Write
	}
	if t.Idle == 0 {
		t.Idle = d.Idle
	}
	if t.Shutdown == 0 {
		t.Shutdown = d.Shutdown
	}
	s.timeouts = t
	return s
}

// WithStatus attaches a live training run to /status and the health checks.
func (s *Server) WithStatus(p handlers.StatusProvider) *Server {
	s.status = p
	s.router = nil
	return s
}

// WithLedger exposes the run ledger under /runs.
func (s *Server) WithLedger(db *sql.DB) *Server {
	s.ledger = db
	s.router = nil
	return s
}

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.routes()
	}
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteHTTPError(w, http.StatusNotFound, apperrors.HTTPError{
			Code:      apperrors.CodeRouteNotFound,
			Message:   fmt.Sprintf("no route for %s", r.URL.Path),
			RequestID: middleware.GetRequestID(r.Context()),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteHTTPError(w, http.StatusMethodNotAllowed, apperrors.HTTPError{
			Code:      apperrors.CodeMethodNotAllowed,
			Message:   fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
			RequestID: middleware.GetRequestID(r.Context()),
		})
	})

	if m := handlers.GetHealthManager(); m != nil {
		if s.status != nil {
			m.RegisterChecker("trainer", handlers.TrainerChecker(s.status))
		}
		if s.ledger != nil {
			m.RegisterChecker("ledger", handlers.LedgerChecker(s.ledger))
		}
	}

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)
	r.Get("/status", handlers.StatusHandler(s.status))

	if s.ledger != nil {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", handlers.RunsHandler(s.ledger))
			r.Get("/{runID}", handlers.RunHandler(s.ledger))
		})
	}
	return r
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: s.timeouts.Read,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}
