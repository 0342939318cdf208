// Package httpserver exposes the apps HTTP API.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/and161185/appshelf/internal/model"
	"github.com/and161185/appshelf/internal/service"
)

// PageSize is the fixed number of items per /list page.
const PageSize = 30

// Permission keys gating workspace operations for non-admins.
const (
	PermWorkspaceApps   = "workspace.apps"
	PermModelsExport    = "workspace.models_export"
	PermModelsImport    = "workspace.models_import"
	fallbackIconName    = "favicon.png"
	defaultRequestLimit = 60 * time.Second
)

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	// SignKey verifies HS256 access tokens.
	SignKey []byte
	// BypassAdminAccessControl lets admins see and act on every app.
	BypassAdminAccessControl bool
	// StaticDir holds the fallback icon image.
	StaticDir string
	// CORSOrigins lists allowed origins; empty disables CORS headers.
	CORSOrigins []string
	// RequestTimeout bounds each request; zero uses 60s.
	RequestTimeout time.Duration
}

// Server wires the app service into HTTP handlers.
type Server struct {
	apps service.AppService
	db   Pinger
	opts Options
	log  *zap.Logger
}

// New constructs a Server. db may be nil, in which case /readyz always succeeds.
func New(apps service.AppService, db Pinger, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestLimit
	}
	return &Server{apps: apps, db: db, opts: opts, log: log}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1/apps", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/list", s.handleList)
		r.Get("/tags", s.handleTags)
		r.Post("/create", s.handleCreate)
		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Get("/app", s.handleGet)
		r.Get("/app/icon/image", s.handleIcon)
		r.Post("/app/toggle", s.handleToggle)
		r.Post("/app/update", s.handleUpdate)
		r.Post("/app/delete", s.handleDelete)

		r.With(requireAdmin).Delete("/delete/all", s.handleDeleteAll)
	})
	return r
}

// bypass reports whether caller is an admin allowed to skip access control.
func (s *Server) bypass(c model.Caller) bool {
	return c.IsAdmin() && s.opts.BypassAdminAccessControl
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}
