// Package server is the reference sync service: a JSON HTTP surface over a
// docstore.Store, speaking the same wire contract the HTTP transport
// consumes. One instance serves many documents; optimistic concurrency
// lives entirely in the store's compare-and-swap.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/inklet/inklet/internal/docstore"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server exposes a document store over HTTP.
type Server struct {
	store  docstore.Store
	log    *slog.Logger
	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request and handler diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a server over the given store.
func New(store docstore.Store, opts ...Option) *Server {
	s := &Server{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withRequestID, s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/documents", s.handleCreate).Methods(http.MethodPost)
	v1.HandleFunc("/documents", s.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/documents/{id}", s.handleGet).Methods(http.MethodGet)
	v1.HandleFunc("/documents/{id}", s.handlePatch).Methods(http.MethodPatch)
	v1.HandleFunc("/documents/{id}", s.handleDelete).Methods(http.MethodDelete)
	v1.HandleFunc("/documents/{id}/beacon", s.handleBeacon).Methods(http.MethodPost)
	return r
}

// Handler returns the HTTP handler. Tests mount it on httptest servers.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, letting in-flight requests finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	s.log.Info("sync server listening", "addr", addr)

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		s.log.Info("sync server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
