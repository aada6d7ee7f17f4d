package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
	"github.com/custodia-labs/ordersync/internal/logger"
)

const (
	serverName    = "ordersync"
	serverVersion = "0.1.0"

	shutdownTimeout = 5 * time.Second
)

// Ports are the driving services the tools and resources call into.
type Ports struct {
	Sync   driving.SyncService
	Orders driving.OrderService
}

// Validate reports the first missing service.
func (p Ports) Validate() error {
	switch {
	case p.Sync == nil:
		return ErrMissingSyncService
	case p.Orders == nil:
		return ErrMissingOrderService
	}
	return nil
}

// Server wraps an MCP server with the ordersync tools and resources
// registered.
type Server struct {
	ports  Ports
	server *mcp.Server
}

func NewServer(ports Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		ports: ports,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves a single session over stdin/stdout until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP endpoint for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mcp listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts HTTP connections on ln until ctx is done. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mcp: shutdown: %v", err)
		}
	}()

	logger.Debug("mcp: serving on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}
