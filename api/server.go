// Package api provides the HTTP REST API server for coinsentinel.
//
// It exposes catalog search, coin resolution with risk scoring, the
// discover listing, flagged-token lookups, a WebSocket live-search session
// and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/coinsentinel/internal/catalog"
	"github.com/seenimoa/coinsentinel/internal/config"
	"github.com/seenimoa/coinsentinel/internal/metrics"
	"github.com/seenimoa/coinsentinel/internal/resolve"
	"github.com/seenimoa/coinsentinel/internal/search"
	"github.com/seenimoa/coinsentinel/internal/sentinel"
	"github.com/seenimoa/coinsentinel/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	svc     *sentinel.Service
	metrics *metrics.Metrics
	wsHub   *WSHub
	stopHub context.CancelFunc // set when the server runs its own hub
	logger  *slog.Logger
	version string
}

// ServerConfig wires a Server. Config and Service are required.
type ServerConfig struct {
	Config  *config.Config
	Service *sentinel.Service
	Metrics *metrics.Metrics // /metrics and request metrics are off when nil
	Hub     *WSHub           // caller-run; when nil the server creates and runs one
	Logger  *slog.Logger
	Version string
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(sc ServerConfig) *Server {
	s := &Server{
		cfg:     sc.Config,
		svc:     sc.Service,
		metrics: sc.Metrics,
		wsHub:   sc.Hub,
		logger:  sc.Logger,
		version: sc.Version,
	}
	if s.wsHub == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.wsHub = NewWSHub()
		s.stopHub = cancel
		go s.wsHub.Run(ctx)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.version == "" {
		s.version = "dev"
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// Close stops the hub if the server created it. A caller-supplied hub is
// left to its owner.
func (s *Server) Close() {
	if s.stopHub != nil {
		s.stopHub()
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	defer s.Close()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	// Metrics wrap the recoverer so panicking requests are counted as 500s.
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket live search; kept outside the timeout group.
		r.Get("/ws/search", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Health (also available at /health)
			r.Get("/health", s.handleHealth)

			// Catalog
			r.Get("/search", s.handleSearch)
			r.Get("/resolve", s.handleResolve)
			r.Get("/coins", s.handleDiscover)

			// Flagged tokens
			r.Get("/tokens/{symbol}", s.handleToken)

			// Configuration
			r.Get("/config", s.handleGetConfig)
			r.Get("/config/keys", s.handleGetConfigKeys)
		})
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string          `json:"status"` // "ok", or "degraded" before the first catalog fetch
	Version  string          `json:"version"`
	Catalog  sentinel.Status `json:"catalog"`
	Sessions int             `json:"sessions"`
	Time     time.Time       `json:"time"`
}

// SearchResponse is the body of GET /api/v1/search.
type SearchResponse struct {
	Query   string                `json:"q"`
	Mode    string                `json:"mode"`
	Count   int                   `json:"count"`
	Results []models.CatalogEntry `json:"results"`
}

// NotFoundResponse is the data carried by a 404 from GET /api/v1/resolve.
type NotFoundResponse struct {
	Query       string                `json:"q"`
	Suggestions []models.CatalogEntry `json:"suggestions"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	status := "ok"
	if !st.Ready {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:   status,
			Version:  s.version,
			Catalog:  st,
			Sessions: s.wsHub.ClientCount(),
			Time:     time.Now().UTC(),
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit: "+err.Error())
		return
	}
	mode, err := s.modeParam(q.Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := search.Options{RankExact: s.cfg.Search.RankExact}
	if raw := q.Get("rank"); raw != "" {
		if opts.RankExact, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid rank: "+raw)
			return
		}
	}

	results, err := s.svc.SearchWithOptions(r.Context(), text, mode, limit, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: SearchResponse{
			Query:   text,
			Mode:    mode.String(),
			Count:   len(results),
			Results: results,
		},
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := s.svc.Resolve(r.Context(), sentinel.ResolveRequest{
		ID:   q.Get("id"),
		Text: q.Get("q"),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    report,
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page: "+err.Error())
		return
	}
	size, err := intParam(q.Get("page_size"), sentinel.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page_size: "+err.Error())
		return
	}
	order, err := sentinel.ParseOrder(q.Get("order"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	p, err := s.svc.Discover(r.Context(), page, size, order)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    p,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Flag(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    rec,
	})
}

func (s *Server) modeParam(raw string) (search.Mode, error) {
	if raw == "" {
		return s.svc.DefaultMode(), nil
	}
	return search.ParseMode(raw)
}

// intParam parses an optional integer query parameter.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// statusFor maps service errors to HTTP statuses. ErrNoSnapshot is checked
// before the upstream errors it wraps.
func statusFor(err error) int {
	switch {
	case errors.Is(err, resolve.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, resolve.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrNoSnapshot):
		return http.StatusServiceUnavailable
	case errors.Is(err, resolve.ErrMarketDataUnavailable),
		errors.Is(err, resolve.ErrMalformed),
		errors.Is(err, catalog.ErrUpstreamUnavailable),
		errors.Is(err, catalog.ErrUpstreamMalformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	var nf *sentinel.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, status, APIResponse{
			Success: false,
			Error:   err.Error(),
			Data: NotFoundResponse{
				Query:       nf.Query,
				Suggestions: nf.Suggestions,
			},
		})
		return
	}

	msg := err.Error()
	switch status {
	case http.StatusBadGateway:
		msg = "upstream provider unavailable, please retry"
		s.logger.Warn("upstream error", "error", err)
	case http.StatusServiceUnavailable:
		msg = "coin catalog not loaded yet, please retry"
		s.logger.Warn("catalog unavailable", "error", err)
	case http.StatusInternalServerError:
		msg = "internal error"
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
