// Package web serves the HTTP and websocket control surface for one session
// controller.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-stockroom/pkg/hub"
	"github.com/teslashibe/go-stockroom/pkg/session"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

// DefaultAddr is the listen address when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8420"

// Controller is the session surface the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Toggle(ctx context.Context) error
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	Stats() session.Stats
}

// Config configures a Server.
type Config struct {
	Addr       string
	Controller Controller

	// Tools is listed at /api/tools. Default: tools.Default().
	Tools *tools.Registry

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server is the control surface.
type Server struct {
	app    *fiber.App
	addr   string
	ctrl   Controller
	tools  *tools.Registry
	status *hub.Hub
	logger *slog.Logger
}

// New builds the fiber app and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("web: controller is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		addr:   cfg.Addr,
		ctrl:   cfg.Controller,
		tools:  cfg.Tools,
		status: hub.New("status", cfg.Logger),
		logger: cfg.Logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "stockroom",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/tools", s.handleListTools)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/toggle", s.handleToggle)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s, nil
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx ends, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.status.Run(ctx)
	go s.forwardStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control surface listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return err
	}
	return <-errCh
}

// forwardStatus relays controller snapshots to websocket clients.
func (s *Server) forwardStatus(ctx context.Context) {
	snaps, cancel := s.ctrl.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := s.status.BroadcastJSON(newStatusResponse(snap, s.ctrl.Stats())); err != nil {
				s.logger.Warn("encode status", "error", err)
			}
		}
	}
}
