package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/config"
	"github.com/vtu-pay/vtu_pay/internal/device"
	"github.com/vtu-pay/vtu_pay/internal/infra"
	"github.com/vtu-pay/vtu_pay/internal/routes"
)

// Server wraps the Fiber application and the device registry it serves.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	registry *device.Registry
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, backends *infra.Backends, registry *device.Registry, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		// Settlement waits on the backend, so leave room past its own timeout.
		WriteTimeout:          cfg.RequestTimeout + 5*time.Second,
		ErrorHandler:          routes.ErrorHandler,
		DisableStartupMessage: !cfg.IsDev(),
	})

	deps := routes.Deps{
		Cfg:      cfg,
		Storage:  backends.Store,
		Registry: registry,
		DB:       backends.DB,
		Cache:    backends.Cache,
		Logger:   logger,
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, registry: registry}, nil
}

// App exposes the underlying Fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then releases every device
// bundle.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.registry.Close()
	return err
}
