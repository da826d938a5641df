package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/workitems/internal/auth"
	"github.com/mattjoyce/workitems/internal/events"
	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/workitem"
	"github.com/mattjoyce/workitems/internal/workspace"
)

// ItemQueue is the queue surface the API needs.
type ItemQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Reserve(ctx context.Context, workspace, runID string) (*queue.Item, error)
	Release(ctx context.Context, id string, state workitem.State, exc *workitem.Exception) error
	CreateOutput(ctx context.Context, parentID string, payload json.RawMessage) (string, error)
	Get(ctx context.Context, id string) (*queue.Item, error)
	SetPayload(ctx context.Context, id string, payload json.RawMessage) error
	List(ctx context.Context, f queue.ListFilter) ([]queue.Item, error)
	Depth(ctx context.Context, workspace string) (int, error)
	PutFile(ctx context.Context, itemID, name string, size int64, digest string) error
	RemoveFile(ctx context.Context, itemID, name string) error
	ListFiles(ctx context.Context, itemID string) ([]queue.FileInfo, error)
	GetFile(ctx context.Context, itemID, name string) (*queue.FileInfo, error)
}

var _ ItemQueue = (*queue.Queue)(nil)

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxUploadBytes caps a single file upload; zero means 64 MiB.
	MaxUploadBytes int64
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	queue     ItemQueue
	blobs     workspace.Store
	events    *events.Hub
	keys      *auth.Keyring
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// depth coalesces concurrent healthz polls into one COUNT query.
	depth   singleflight.Group
	openapi map[string]any
}

// New creates a new API server instance
func New(config Config, q ItemQueue, blobs workspace.Store, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 64 << 20
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		queue:     q,
		blobs:     blobs,
		events:    hub,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)

		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Use(s.workspaceAccess)

			read := r.With(s.requireScopes(auth.ScopeItemsRead))
			write := r.With(s.requireScopes(auth.ScopeItemsRW))

			write.Post("/work-items", s.handleEnqueue)
			read.Get("/work-items", s.handleListItems)
			read.Get("/work-items/{id}", s.handleGetItem)
			write.Post("/runs/{run}/reserve", s.handleReserve)
			write.Post("/work-items/{id}/release", s.handleRelease)
			write.Post("/work-items/{id}/outputs", s.handleCreateOutput)
			read.Get("/work-items/{id}/data", s.handleGetData)
			write.Put("/work-items/{id}/data", s.handlePutData)
			read.Get("/work-items/{id}/files", s.handleListFiles)
			read.Get("/work-items/{id}/files/{name}", s.handleGetFile)
			write.Put("/work-items/{id}/files/{name}", s.handlePutFile)
			write.Delete("/work-items/{id}/files/{name}", s.handleDeleteFile)
		})
	})

	s.openapi = buildOpenAPIDoc(r)
	r.Get("/openapi.json", s.handleOpenAPI)
	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
