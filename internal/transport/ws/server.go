// Package ws serves the live translation channel over websockets.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync"

	"speech-translate-server/internal/platform/logging"
)

// ServerConfig stores the settings required to expose the websocket transport.
type ServerConfig struct {
	Addr string
	Path string
}

// Server coordinates the websocket router, hub and lifecycle management.
type Server struct {
	cfg     ServerConfig
	hub     *Hub
	router  *Router
	logger  *logging.Logger
	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer builds a websocket transport server.
func NewServer(cfg ServerConfig, router *Router, hub *Hub, logger *logging.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws-ott"
	}

	return &Server{
		cfg:    cfg,
		router: router,
		hub:    hub,
		logger: logger,
	}
}

// SetSessionBuilder wires the session construction callback.
func (s *Server) SetSessionBuilder(builder SessionBuilder) {
	s.router.SetSessionBuilder(builder)
}

// Handler returns the upgrade handler, for mounting on another engine.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.router.Handle)
}

// Start listens for websocket upgrades until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts upgrades on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.router.Handle)

	srv := &http.Server{Handler: mux}
	s.mu.Lock()
	if s.httpSrv != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.InfoTag("WebSocket", "listening on %s%s", ln.Addr(), s.cfg.Path)

	err := srv.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the websocket server and active sessions.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	// hijacked connections are not tracked by Shutdown, so sessions go first
	s.hub.CloseAll(ErrSessionShutdown)
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, ErrSessionShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Count exposes the number of active sessions.
func (s *Server) Count() int {
	return s.hub.Count()
}
