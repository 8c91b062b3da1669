// Package api provides HTTP handlers and the main API server logic for
// CoachPipe.
//
// It exposes RESTful endpoints for chat turns, structured responses,
// thread history and provider/rule administration.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coachpipe/coachpipe/internal/router"
	"github.com/coachpipe/coachpipe/internal/store"
	"github.com/coachpipe/coachpipe/internal/worker"
)

// DefaultShutdownTimeout bounds graceful server shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Server wires the HTTP surface to the worker and router.
type Server struct {
	worker *worker.ChatWorker
	router *router.Router
	store  store.Store
	http   *http.Server
}

// NewServer creates a Server; call Run or use Handler with a custom listener.
func NewServer(w *worker.ChatWorker, rtr *router.Router, st store.Store) *Server {
	return &Server{worker: w, router: rtr, store: st}
}

// Handler builds the chi route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.chatHandler)
		r.Post("/chat/stream", s.streamHandler)
		r.Post("/responses", s.responsesHandler)
		r.Get("/threads/{id}/messages", s.messagesHandler)
		r.Get("/providers", s.providersHandler)
		r.Get("/rules", s.rulesHandler)
		r.Post("/rules", s.addRuleHandler)
		r.Delete("/rules/{id}", s.removeRuleHandler)
	})
	return r
}

// Run starts the HTTP server on addr and blocks until it exits.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: CoachPipe API listening", "addr", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// requestLogger emits structured logs for every HTTP request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		next.ServeHTTP(w, r)
		slog.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", reqID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
