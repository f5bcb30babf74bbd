// Package server exposes the session, both pipelines and the event stream
// over HTTP for a local UI.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/metrics"
	"github.com/acknak/pothook/internal/session"
	"github.com/acknak/pothook/internal/transcript"
	"github.com/acknak/pothook/internal/whisper"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps are the shared components the handlers drive.
type Deps struct {
	Store      *session.Store
	Bus        *events.Bus
	Converter  *audio.Converter
	Driver     *whisper.Driver
	Transcript *transcript.Collector
	// ModelDir resolves catalog model names sent as path_model.
	ModelDir string
	Logger   *zap.Logger
}

type Server struct {
	http   *http.Server
	logger *zap.Logger
	cancel context.CancelFunc
}

type handlers struct {
	Deps
	// runCtx outlives requests; background runs are canceled on Shutdown.
	runCtx context.Context
}

func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handlers{Deps: deps, runCtx: ctx}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           h.routes(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: deps.Logger,
		cancel: cancel,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (h *handlers) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer(h.Logger))
	r.Use(accessLog(h.Logger))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/session", h.getSession)
		r.Put("/session/{field}", h.putSessionField)
		r.Post("/check", h.check)
		r.Post("/convert", h.convert)
		r.Post("/transcribe", h.transcribe)
		r.Get("/transcript", h.getTranscript)
		r.Get("/models", h.models)
		r.Get("/events", h.streamEvents)
		r.Get("/ws", h.websocket)
	})
	return r
}

// Start blocks until the server stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then cancels background runs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	defer s.cancel()
	return s.http.Shutdown(ctx)
}
