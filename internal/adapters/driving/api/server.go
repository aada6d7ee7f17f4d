// Package api serves the ordersync HTTP API with gin. Every response
// carries the session bookmark in the X-Ordersync-Bookmark header; clients
// echo it back to read their own writes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// BookmarkHeader carries the session bookmark on requests and responses.
const BookmarkHeader = "X-Ordersync-Bookmark"

// ErrMissingService is returned when a required service is not provided.
var ErrMissingService = errors.New("api: sync and order services are required")

// Ports aggregates the driving ports the API serves.
type Ports struct {
	Sync   driving.SyncService
	Orders driving.OrderService
}

// Options configures the API server.
type Options struct {
	// AuthToken, when set, must be presented as a bearer token on the
	// sync trigger.
	AuthToken string

	// Logger receives one line per request. Nil disables request logging.
	Logger *zap.Logger

	// RequestTimeout bounds read requests. Sync requests are not bounded.
	RequestTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	ports  Ports
	opts   Options
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(ports Ports, opts Options) (*Server, error) {
	if ports.Sync == nil || ports.Orders == nil {
		return nil, ErrMissingService
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{ports: ports, opts: opts, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestID())
	if opts.Logger != nil {
		s.engine.Use(requestLogger(opts.Logger))
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")

	syncGroup := api.Group("/sync")
	syncGroup.POST("", bearerAuth(s.opts.AuthToken), s.handleSync)
	syncGroup.GET("/status", s.handleStatus)

	reads := api.Group("", timeout(s.opts.RequestTimeout))
	reads.GET("/orders", s.handleListOrders)
	reads.GET("/orders/:id", s.handleGetOrder)
	reads.GET("/metrics", s.handleMetrics)
	reads.GET("/remote/orders", s.handleRemoteOrders)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
