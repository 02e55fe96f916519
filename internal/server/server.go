// Package server implements the admin HTTP API consumed by an
// out-of-core UI: probe/recover triggers, sync/reprice triggers,
// mirrored-data readouts, and rate-limit configuration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/internal/probe"
	"github.com/aristath/backmarket-repricer/internal/ratelimit"
	"github.com/aristath/backmarket-repricer/internal/reprice"
	"github.com/aristath/backmarket-repricer/internal/scheduler"
	"github.com/aristath/backmarket-repricer/internal/store"
	"github.com/aristath/backmarket-repricer/internal/sync"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Log          zerolog.Logger
	Store        *store.Store
	Controller   *ratelimit.Controller
	Market       *marketplace.Client
	Orchestrator *reprice.Orchestrator
	Probe        *probe.Protocol
	SyncDriver   *sync.Driver
	Scheduler    *scheduler.Scheduler
	DevMode      bool
}

// Server represents the admin HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	port int

	store        *store.Store
	controller   *ratelimit.Controller
	market       *marketplace.Client
	orchestrator *reprice.Orchestrator
	probe        *probe.Protocol
	syncDriver   *sync.Driver
	scheduler    *scheduler.Scheduler
}

// New creates a new admin HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          logger.Component(cfg.Log, "server"),
		port:         cfg.Port,
		store:        cfg.Store,
		controller:   cfg.Controller,
		market:       cfg.Market,
		orchestrator: cfg.Orchestrator,
		probe:        cfg.Probe,
		syncDriver:   cfg.SyncDriver,
		scheduler:    cfg.Scheduler,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/webhook", s.handleWebhook)

	s.router.Route("/probe", func(r chi.Router) {
		r.Post("/{listing_id}", s.handleProbe)
	})
	s.router.Route("/recover", func(r chi.Router) {
		r.Post("/{listing_id}", s.handleRecover)
	})
	s.router.Route("/sync", func(r chi.Router) {
		r.Post("/orders", s.handleSyncOrders)
		r.Post("/listings", s.handleSyncListings)
	})
	s.router.Route("/orders", func(r chi.Router) {
		r.Get("/", s.handleGetOrders)
		r.Get("/{order_id}/messages", s.handleGetOrderMessages)
		r.Post("/{order_id}/messages", s.handlePostOrderMessage)
		r.Post("/{order_id}/suspend", s.handleSuspendOrder)
	})
	s.router.Get("/listings", s.handleGetListings)
	s.router.Route("/reprice", func(r chi.Router) {
		r.Post("/{listing_id}", s.handleReprice)
	})
	s.router.Route("/parameters", func(r chi.Router) {
		r.Get("/{sku}", s.handleGetParameters)
		r.Post("/{sku}", s.handleSetParameters)
	})
	s.router.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", s.handleSchedulerStatus)
		r.Post("/trigger/{task_name}", s.handleSchedulerTrigger)
		r.Post("/trigger-all", s.handleSchedulerTriggerAll)
	})
	s.router.Route("/rate-limits", func(r chi.Router) {
		r.Get("/", s.handleGetRateLimits)
		r.Put("/", s.handleUpdateRateLimits)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("starting admin HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down admin HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("admin HTTP request")
	})
}
