package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vidtube/apiserver/config"
	"github.com/vidtube/apiserver/internal/db"
	"github.com/vidtube/apiserver/internal/events"
	"github.com/vidtube/apiserver/internal/handlers"
	"github.com/vidtube/apiserver/internal/media"
	"github.com/vidtube/apiserver/internal/services"
	"github.com/vidtube/apiserver/internal/store"
	"github.com/vidtube/apiserver/internal/token"
)

// Server wraps the HTTP server, router, and shared resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	publisher  events.Publisher
}

// New constructs a Server with its full dependency graph.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.Options{
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	mediaBackend, err := newMediaBackend(ctx, cfg.Media)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	mediaStore := media.NewStore(mediaBackend, cfg.Media.PublicBaseURL)
	if err := mediaStore.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	publisher, err := events.NewPublisher(ctx, cfg.Events)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	subscriptionRepo := store.NewSubscriptionRepository(dbConn)

	sessionService := services.NewSessionService(userRepo, issuer)
	userService := services.NewUserService(userRepo, subscriptionRepo, mediaStore, publisher)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/v1/users", func(r chi.Router) {
		handlers.UserRouter(r, sessionService, userService, cfg.Auth.SecureCookies)
	})
	router.Route("/media", func(r chi.Router) {
		handlers.MediaRouter(r, mediaStore)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		publisher:  publisher,
	}, nil
}

func newMediaBackend(ctx context.Context, cfg config.MediaConfig) (media.Backend, error) {
	switch cfg.Backend {
	case "minio":
		return media.NewMinioBackend(cfg.Minio)
	case "gcs":
		return media.NewGCSBackend(ctx, cfg.GCS)
	default:
		return nil, errors.New("unknown media backend: " + cfg.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
