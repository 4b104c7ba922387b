package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shohag/hookrunner/internal/config"
	"github.com/shohag/hookrunner/internal/models"
)

// Deliveries is the part of the delivery manager the API exposes.
type Deliveries interface {
	Register(req models.WebhookRequest) (models.WebhookID, error)
	Status(id models.WebhookID) (models.DeliveryState, error)
	Cancel(id models.WebhookID) (bool, error)
	Attempts(ctx context.Context, id models.WebhookID) ([]models.Attempt, error)
}

type Server struct {
	cfg     config.ServerConfig
	hooks   Deliveries
	metrics http.Handler
	mpath   string
	router  *chi.Mux
	log     zerolog.Logger
	http    *http.Server
}

type ServerOption func(*Server)

// WithMetricsHandler mounts h at path.
func WithMetricsHandler(path string, h http.Handler) ServerOption {
	return func(s *Server) {
		s.mpath = path
		s.metrics = h
	}
}

func NewServer(cfg config.ServerConfig, hooks Deliveries, log zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:   cfg,
		hooks: hooks,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	wh := NewWebhookHandler(s.hooks, s.log)

	r.Get("/health", Health)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.mpath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks", wh.Register)
		r.Get("/webhooks/{id}", wh.Get)
		r.Delete("/webhooks/{id}", wh.Cancel)
		r.Get("/webhooks/{id}/attempts", wh.ListAttempts)
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := s.cfg.Addr()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
