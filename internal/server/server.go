package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/libris-hq/apiserver/config"
	"github.com/libris-hq/apiserver/internal/auth"
	"github.com/libris-hq/apiserver/internal/db"
	"github.com/libris-hq/apiserver/internal/handlers"
	"github.com/libris-hq/apiserver/internal/logging"
	"github.com/libris-hq/apiserver/internal/metrics"
	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/libris-hq/apiserver/internal/services"
	"github.com/libris-hq/apiserver/internal/storage"
	"github.com/libris-hq/apiserver/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	logger     *slog.Logger
}

// Dependencies are the services mounted by NewRouter.
type Dependencies struct {
	Users        handlers.AuthService
	Library      handlers.LibraryService
	Assets       handlers.AssetSource
	Tokens       handlers.TokenVerifier
	CookieSecure bool
	Registry     *prometheus.Registry
	Logger       *slog.Logger
}

// New connects the database, storage backend and optional broker and
// builds the HTTP server on top of them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	// A nil *mq.MQ must not end up inside a non-nil interface.
	var publisher services.Publisher
	if queue != nil {
		publisher = queue
	}

	userRepo := store.NewUserRepository(dbConn)
	libraryRepo := store.NewLibraryRepository(dbConn)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)

	assetService := services.NewAssetService(objects, cfg.Storage.PublicPrefix, publisher, logger)
	userService := services.NewUserService(userRepo, hasher, tokens, publisher, logger)
	libraryService := services.NewLibraryService(libraryRepo, assetService, publisher, logger)

	router := NewRouter(Dependencies{
		Users:        userService,
		Library:      libraryService,
		Assets:       assetService,
		Tokens:       tokens,
		CookieSecure: cfg.Auth.CookieSecure,
		Registry:     prometheus.NewRegistry(),
		Logger:       logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8000
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server configured",
		"port", port,
		"storage", cfg.Storage.Backend,
		"mq", cfg.MQ.Backend,
	)

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queue,
		logger:     logger,
	}, nil
}

// NewRouter mounts every route on a chi router.
func NewRouter(d Dependencies) *chi.Mux {
	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics.RegisterMetrics(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(d.Logger),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		metrics.Instrument,
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, d.Users, d.Tokens, d.CookieSecure, d.Logger)
	})
	router.Route("/library", func(r chi.Router) {
		handlers.LibraryRouter(r, d.Library, d.Tokens, d.Logger)
	})
	router.Route("/uploads", func(r chi.Router) {
		handlers.AssetRouter(r, d.Assets, d.Logger)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker and
// database connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.queue != nil {
		if cerr := s.queue.Close(); cerr != nil {
			s.logger.Warn("close mq", "error", cerr)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
