// Package api provides the HTTP surface of the service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docstack-ai/docstack/internal/api/handlers"
	"github.com/docstack-ai/docstack/internal/api/middleware"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	RequestTimeout time.Duration

	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Content-Type", "X-Request-ID", middleware.UserIDHeader},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     60 * time.Second,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
	}
}

// Dependencies holds the services the handlers need.
type Dependencies struct {
	Logger        *slog.Logger
	Chat          handlers.ChatService
	Conversations handlers.ConversationService
	Documents     handlers.DocumentService
	HealthChecks  map[string]handlers.HealthChecker
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(chimiddleware.Timeout(config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		rateLimiter = middleware.NewRateLimiter(config.RateLimitConfig, logger)
	}

	r.Get("/health", handlers.HealthCheck())
	r.Get("/ready", handlers.ReadyCheck(deps.HealthChecks))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity())
		if rateLimiter != nil {
			r.Use(rateLimiter.Middleware())
		}

		r.Post("/chat", handlers.HandleChat(deps.Chat, logger))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handlers.ListConversations(deps.Conversations, logger))
			r.Post("/", handlers.CreateConversation(deps.Conversations, logger))
			r.Get("/{id}", handlers.GetConversation(deps.Conversations, logger))
			r.Delete("/{id}", handlers.DeleteConversation(deps.Conversations, logger))
			r.Get("/{id}/messages", handlers.GetConversationMessages(deps.Conversations, logger))
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", handlers.ListDocuments(deps.Documents, logger))
			r.Post("/", handlers.UploadDocument(deps.Documents, logger))
			r.Get("/{id}", handlers.GetDocument(deps.Documents, logger))
			r.Post("/{id}/retry", handlers.RetryDocument(deps.Documents, logger))
			r.Get("/{id}/status", handlers.GetProcessingStatus(deps.Documents, logger))
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/chat", handlers.GetChatSettings(deps.Conversations, logger))
			r.Put("/chat", handlers.UpdateChatSettings(deps.Conversations, logger))
		})
	})

	return r
}

// Server wraps the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
