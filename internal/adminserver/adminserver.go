// Package adminserver exposes the operational HTTP surface
// (/healthz, /readyz, /metrics) on its own port, kept separate from
// the raw-socket static file port so that Range/HEAD/fd handling in
// internal/httpwire never has to share a listener with a framework
// router.
package adminserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/atomic"
)

// Server is the admin-surface HTTP listener.
type Server struct {
	echo      *echo.Echo
	port      int
	readiness *atomic.Bool
}

// New builds the admin server bound to port, initially not ready.
// Call Ready(true) once the Master has started accepting connections.
func New(port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		port:      port,
		readiness: atomic.NewBool(false),
	}

	e.Use(echoprometheus.NewMiddleware("fileserver"))
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/healthz", s.handleLiveness)
	e.GET("/readyz", s.handleReadiness)

	return s
}

// handleLiveness always answers 200: the process is up.
func (s *Server) handleLiveness(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// handleReadiness answers 200 once the Master has started accepting
// connections and 503 before that or during shutdown.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.readiness.Load() {
		return c.NoContent(http.StatusOK)
	}
	return c.NoContent(http.StatusServiceUnavailable)
}

// Ready flips the readiness flag that /readyz reports.
func (s *Server) Ready(ready bool) {
	s.readiness.Store(ready)
}

// Start runs the admin HTTP server; it blocks until Shutdown is
// called or the listener fails. http.ErrServerClosed is swallowed
// since it is the expected outcome of a graceful Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
