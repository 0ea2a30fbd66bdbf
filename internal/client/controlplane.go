package client

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/studiosync/studiosync/internal/client/dispatch"
)

// ControlPlaneConfig configures the loopback command-plane server.
type ControlPlaneConfig struct {
	Addr      string
	WebOrigin string
	PublicKey *rsa.PublicKey
}

// ControlPlaneServer is the loopback HTTP server the companion web UI
// drives the daemon through.
type ControlPlaneServer struct {
	config     *ControlPlaneConfig
	server     *http.Server
	dispatcher *dispatch.Dispatcher
}

func NewControlPlaneServer(config *ControlPlaneConfig, dispatcher *dispatch.Dispatcher, hasAuth func() bool) (*ControlPlaneServer, error) {
	routes := SetupRoutes(dispatcher, config, hasAuth)

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: routes,
		// Timeouts to prevent slow client attacks
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Connection control
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &ControlPlaneServer{
		config:     config,
		server:     httpServer,
		dispatcher: dispatcher,
	}, nil
}

func (s *ControlPlaneServer) Start(ctx context.Context) error {
	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", s.config.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *ControlPlaneServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}
