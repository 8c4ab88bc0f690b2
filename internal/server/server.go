package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/server/handler"
	"github.com/alanyoungcy/giftagg/internal/server/middleware"
	"github.com/alanyoungcy/giftagg/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	AdminAPIKey    string   // read and write; with no keys at all, authentication is disabled
	AdminReadKeys  []string // read-only
	AdminRateLimit int      // requests per minute per client; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Admin    *handler.AdminHandler
	Items    *handler.ItemHandler
	WSStatus *handler.WSStatusHandler
	WS       *ws.Handler
}

// Server is the admin HTTP + subscriber WebSocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Admin routes sit behind auth and, when limiter is non-nil, the per-client
// rate limit.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ws/status", handlers.WSStatus.GetStatus)
	if handlers.Items != nil {
		mux.HandleFunc("GET /api/items/{id}", handlers.Items.GetItem)
	}

	// Admin endpoints.
	admin := func(h http.HandlerFunc) http.Handler {
		var out http.Handler = h
		if limiter != nil && cfg.AdminRateLimit > 0 {
			out = middleware.RateLimit(limiter, cfg.AdminRateLimit, time.Minute)(out)
		}
		return middleware.Auth(middleware.AuthConfig{WriteKey: cfg.AdminAPIKey, ReadKeys: cfg.AdminReadKeys})(out)
	}
	mux.Handle("POST /api/admin/sync", admin(handlers.Admin.TriggerSync))
	mux.Handle("GET /api/admin/jobs/{id}", admin(handlers.Admin.GetJob))
	mux.Handle("POST /api/admin/jobs/{id}/cancel", admin(handlers.Admin.CancelJob))
	mux.Handle("GET /api/admin/audit", admin(handlers.Admin.ListAudit))

	// Subscriber transport.
	if handlers.WS != nil {
		mux.HandleFunc("GET /ws", handlers.WS.ServeAll)
		mux.HandleFunc("GET /ws/collection/{id}", handlers.WS.ServeCollection)
		mux.HandleFunc("GET /ws/item/{id}", handlers.WS.ServeItem)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
