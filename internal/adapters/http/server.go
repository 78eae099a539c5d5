// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geosource/internal/application"
	"github.com/jobrunner/geosource/internal/config"
	"github.com/jobrunner/geosource/internal/ports/input"
)

// Syncer triggers a dataset synchronization on demand.
type Syncer interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
	RetryAfter() time.Duration
}

// Instrumentation exposes request metrics and their scrape endpoint.
type Instrumentation interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Dependencies are the services the server routes requests to. Sync and
// Metrics are optional.
type Dependencies struct {
	Shapes      input.ShapeService
	Catalog     input.SourceCatalog
	Health      input.HealthChecker
	Sync        Syncer
	Metrics     Instrumentation
	MetricsPath string
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server *http.Server
	router *mux.Router
	deps   Dependencies
	logger *slog.Logger
	config config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(cfg config.ServerConfig, deps Dependencies, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
	}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	api.HandleFunc("/sources/{name}", s.handleGetSource).Methods(http.MethodGet)
	api.HandleFunc("/sources/{name}/shapes", s.handleShapes).Methods(http.MethodGet)
	api.HandleFunc("/sources/{name}/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/sources/{name}/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.geojson", s.handleTile).Methods(http.MethodGet)

	if s.deps.Sync != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)

	if s.config.FrontendEnabled {
		r.HandleFunc("/", s.handleFrontend).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// HTTPServer returns the configured server, e.g. for wrapping it with TLS.
func (s *Server) HTTPServer() *http.Server {
	return s.server
}

// queryContext bounds a source lookup by the configured query timeout.
func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.QueryTimeout)
}

// loggingMiddleware logs one line per request. Health probes are logged at
// debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		if strings.HasPrefix(r.URL.Path, "/health") && wrapped.statusCode < http.StatusInternalServerError {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", routeTemplate(r),
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// routeTemplate returns the matched route pattern, e.g.
// /api/v1/sources/{name}/shapes, or "" for unmatched requests.
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
