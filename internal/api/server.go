// Package api exposes the chat pipeline over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/agent"
	"github.com/pkonate/teampulse/internal/catalog"
	"github.com/pkonate/teampulse/internal/config"
	"github.com/pkonate/teampulse/internal/memory"
)

// Server handles the HTTP API and WebSocket chat.
type Server struct {
	app      *fiber.App
	config   *config.Config
	store    *memory.Store
	pipeline *agent.Pipeline
	registry *catalog.Registry
	logger   *zap.Logger
}

// New creates the API server around an already-wired pipeline.
func New(cfg *config.Config, store *memory.Store, pipeline *agent.Pipeline, registry *catalog.Registry, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		app:      app,
		config:   cfg,
		store:    store,
		pipeline: pipeline,
		registry: registry,
		logger:   log,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Post("/chat", s.handleChat)

	protected.Get("/threads", s.handleListThreads)
	protected.Get("/threads/:id", s.handleGetThread)
	protected.Delete("/threads/:id", s.handleDeleteThread)
	protected.Put("/threads/:id/title", s.handleUpdateTitle)
	protected.Get("/threads/:id/messages", s.handleGetMessages)

	protected.Get("/capabilities", s.handleListCapabilities)

	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

// Start starts the server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
