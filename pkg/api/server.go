// Package api exposes the HTTP surface: the health endpoint and the
// WebSocket upgrade that hands connections to the gateway.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/quorum/pkg/config"
	"github.com/codeready-toolchain/quorum/pkg/database"
	"github.com/codeready-toolchain/quorum/pkg/gateway"
)

// Server is the HTTP server.
type Server struct {
	cfg         *config.Config
	dbClient    *database.Client
	connManager *gateway.ConnectionManager

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer creates the API server and registers its routes. dbClient may
// be nil when the process runs without persistence.
func NewServer(cfg *config.Config, dbClient *database.Client, connManager *gateway.ConnectionManager) *Server {
	s := &Server{
		cfg:         cfg,
		dbClient:    dbClient,
		connManager: connManager,
		echo:        echo.New(),
	}

	s.echo.Use(securityHeaders())
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler)

	return s
}

// Handler returns the root HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the HTTP server on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and drains in-flight requests.
// Active WebSocket sessions are closed by the caller via the gateway.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
