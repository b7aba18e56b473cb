// Package api serves a read-only view of the running service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/stability"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/staging"
)

// LandingSource reports files being watched in the landing directory.
type LandingSource interface {
	Snapshot() []stability.TrackedFile
}

// StagingSource reports pipeline runs in progress.
type StagingSource interface {
	InFlight() []staging.InFlightFile
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	StartedAt time.Time               `json:"started_at"`
	Uptime    string                  `json:"uptime"`
	Landing   []stability.TrackedFile `json:"landing"`
	InFlight  []staging.InFlightFile  `json:"in_flight"`
}

// Server exposes /healthz and /status.
type Server struct {
	landing   LandingSource
	staging   StagingSource
	logger    logging.Logger
	startedAt time.Time
	now       func() time.Time
}

// New creates a status server.
func New(landing LandingSource, staging StagingSource, logger logging.Logger) *Server {
	return &Server{
		landing:   landing,
		staging:   staging,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		StartedAt: s.startedAt,
		Uptime:    s.now().Sub(s.startedAt).Round(time.Second).String(),
		Landing:   s.landing.Snapshot(),
		InFlight:  s.staging.InFlight(),
	}
	if resp.Landing == nil {
		resp.Landing = []stability.TrackedFile{}
	}
	if resp.InFlight == nil {
		resp.InFlight = []staging.InFlightFile{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode status response", logging.String("error", err.Error()))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// Serve listens on bind until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, bind string) error {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("status api listening", logging.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
