package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/web/handlers"
)

// HealthChecker reports the state of a dependency
type HealthChecker interface {
	Health(ctx context.Context) map[string]interface{}
}

// ConnectionState reports whether a long-lived connection is up
type ConnectionState interface {
	IsConnected() bool
}

// Server represents the admin HTTP server
type Server struct {
	app  *fiber.App
	log  logger.Logger
	port int
}

// Config holds server configuration
type Config struct {
	Port      int
	JWTSecret string
	AccessLog bool
}

// Deps are the relay components the admin server reports on
type Deps struct {
	Rules     []listener.Rule
	Sinks     []string
	Previewer handlers.Previewer
	Metrics   http.Handler
	Gateway   ConnectionState
	Checks    map[string]HealthChecker
}

// NewServer creates a new admin server. The /api group requires a bearer
// token signed with cfg.JWTSecret.
func NewServer(cfg Config, deps Deps, log logger.Logger) (*Server, error) {
	verifier, err := NewHS256Verifier(cfg.JWTSecret, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("admin auth: %w", err)
	}

	log = log.With(logger.F("component", "admin-server"))

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}

			if code >= fiber.StatusInternalServerError {
				log.Error("HTTP error", logger.Err(err), logger.F("code", code))
			}

			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
		}))
	}

	app.Get("/health", healthHandler(deps))
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	api := app.Group("/api", RequireJWT(verifier))
	handlers.NewRelayHandler(deps.Rules, deps.Sinks, deps.Previewer, log).RegisterRoutes(api)

	return &Server{
		app:  app,
		log:  log,
		port: cfg.Port,
	}, nil
}

func healthHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "healthy"
		components := fiber.Map{}

		if deps.Gateway != nil {
			connected := deps.Gateway.IsConnected()
			components["gateway"] = fiber.Map{"connected": connected}
			if !connected {
				status = "degraded"
			}
		}

		for name, check := range deps.Checks {
			h := check.Health(c.UserContext())
			components[name] = h
			if h["status"] != "up" {
				status = "degraded"
			}
		}

		code := fiber.StatusOK
		if status != "healthy" {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":     status,
			"components": components,
		})
	}
}

// App exposes the fiber app for in-process requests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("starting admin server", logger.F("port", s.port))
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down admin server")
	return s.app.ShutdownWithContext(ctx)
}
