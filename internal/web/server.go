// Package web is the backend-for-frontend HTTP surface. It owns no import or
// bulk state itself: handlers translate requests into calls on core.Service
// and bulk.Registry and render their results.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/bulk"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	mw "github.com/JonMunkholm/ledgerbridge/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the BFF HTTP server.
type Server struct {
	cfg     *config.Config
	imports *core.Service
	bulk    *bulk.Registry
	limiter *mw.RateLimiter
	uploads *mw.RateLimiter // stricter bucket for file uploads
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires the router over the import service and bulk registry.
func NewServer(cfg *config.Config, imports *core.Service, registry *bulk.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		imports: imports,
		bulk:    registry,
		router:  chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.limiter = mw.NewRateLimiter(cfg.Rate.RequestsPerMinute)
		if cfg.Rate.UploadLimit > 0 {
			s.uploads = mw.NewRateLimiter(cfg.Rate.UploadLimit)
		}
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
	if s.limiter != nil {
		s.router.Use(s.limiter.Handler)
	}
	s.router.Use(withRequestInfo)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))

		// Status streams and executions outlive the request timeout.
		r.Get("/imports/{id}/status", s.handleImportStatus)
		r.Post("/imports/{id}/execute", s.handleExecute)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/status", s.handleServiceStatus)

			r.Get("/models", s.handleListModels)
			r.Get("/models/{model}", s.handleModelMetadata)
			r.Get("/models/{model}/templates", s.handleListTemplates)
			r.Post("/models/{model}/templates", s.handleCreateTemplate)
			r.Post("/models/{model}/bulk", s.handleOpenBulk)

			r.Get("/imports", s.handleListImports)
			r.With(s.uploadLimit).Post("/imports", s.handleCreateImport)
			r.Route("/imports/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetImport)
				r.Delete("/", s.handleCancelImport)
				r.Post("/suggestions/apply", s.handleApplySuggestions)
				r.Put("/mapping", s.handleSetMapping)
				r.Post("/preview", s.handlePreview)
				r.Post("/preview-all", s.handlePreviewAll)
				r.Post("/validate", s.handleValidate)
				r.Get("/templates", s.handleMatchTemplates)
				r.Post("/templates", s.handleSaveSessionTemplate)
				r.Post("/templates/{templateID}/apply", s.handleApplyTemplate)
			})

			r.Get("/templates/{templateID}", s.handleGetTemplate)
			r.Put("/templates/{templateID}", s.handleUpdateTemplate)
			r.Delete("/templates/{templateID}", s.handleDeleteTemplate)

			r.Get("/history", s.handleHistory)
			r.Get("/history/export", s.handleHistoryExport)
			r.Get("/history/{entryID}", s.handleHistoryEntry)

			r.Get("/bulk", s.handleListBulk)
			r.Route("/bulk/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBulk)
				r.Delete("/", s.handleCloseBulk)
				r.Post("/refresh", s.handleRefreshBulk)
				r.Post("/toggle", s.handleToggle)
				r.Post("/toggle-all", s.handleToggleAll)
				r.Get("/hints", s.handleHints)
				r.Post("/validate", s.handleBulkValidate)
				r.Post("/execute", s.handleBulkExecute)
			})
		})
	})
}

func (s *Server) uploadLimit(next http.Handler) http.Handler {
	if s.uploads == nil {
		return next
	}
	return s.uploads.Handler(next)
}

// Start listens until Shutdown is called. It also runs the rate limiter's
// cleanup loop until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
	for _, l := range []*mw.RateLimiter{s.limiter, s.uploads} {
		if l != nil {
			go l.Cleanup(ctx, time.Minute)
		}
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if csp {
				h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}
