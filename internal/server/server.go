// Package server contains HTTP and WebSocket handlers for the chat API.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shieldchat/internal/cache"
	"shieldchat/internal/config"
	"shieldchat/internal/database"
	"shieldchat/internal/featureflags"
	"shieldchat/internal/ids"
	"shieldchat/internal/middleware"
	"shieldchat/internal/notifications"
	"shieldchat/internal/observability"
	"shieldchat/internal/presence"
	"shieldchat/internal/repository"
	"shieldchat/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// snowflakeWorkerID identifies this process in generated message IDs.
// Multi-instance deployments must give each instance its own value.
const snowflakeWorkerID = 1

// fiberprometheus registers its collectors with the default Prometheus
// registry, which rejects duplicates. One instance is shared across
// every Server built in this process.
var (
	promOnce     sync.Once
	promInstance *fiberprometheus.FiberPrometheus
)

func prometheusMiddleware() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promInstance = fiberprometheus.New("shieldchat-api")
	})
	return promInstance
}

// Server holds all dependencies and provides handlers.
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus
	channelRepo    repository.ChannelRepository
	userRepo       repository.UserRepository
	notifier       *notifications.Notifier
	hub            *notifications.PathHub
	connMgr        *notifications.ConnectionManager
	featureFlags   *featureflags.Manager
	chatService    *service.ChatService
	imageService   *service.ChannelImageService
}

// NewServer creates a new server instance with all dependencies.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized
// dependencies. Use this in tests or when a bootstrap layer establishes
// DB/Redis and performs explicit seeding.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	channelRepo := repository.NewChannelRepository(db)
	userRepo := repository.NewUserRepository(db)

	msgIDs, err := ids.NewSnowflake(snowflakeWorkerID)
	if err != nil {
		return nil, fmt.Errorf("snowflake init failed: %w", err)
	}

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prometheusMiddleware(),
		channelRepo:    channelRepo,
		userRepo:       userRepo,
		hub:            notifications.NewPathHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		imageService:   service.NewChannelImageService(cfg.ImageUploadDir, cfg.ImageMaxUploadSizeMB),
	}

	server.chatService = service.NewChatService(
		channelRepo,
		userRepo,
		db,
		presence.NewTracker(),
		server.hub,
		msgIDs,
		server.featureFlags,
		observability.GlobalLogger.Logger,
	)

	server.connMgr = notifications.NewConnectionManager(redisClient, notifications.ConnectionManagerConfig{
		OnUserOnline: func(userID uint) {
			if err := server.chatService.OnNewUser(context.Background(), userID); err != nil {
				observability.GlobalLogger.Error("presence rebuild failed",
					"user_id", userID, "error", err)
			}
		},
		OnUserOffline: func(userID uint) {
			server.chatService.OnUserQuit(userID)
		},
	})

	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
	}

	return server, nil
}

// StartWiring connects the hub to Redis pub/sub so events published on
// one instance reach subscribers on every instance. A nil notifier
// (Redis unavailable) leaves the hub in single-instance mode.
func (s *Server) StartWiring(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	return s.hub.StartWiring(ctx, s.notifier)
}

// Shutdown stops background workers and drops all websocket state.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMgr.Stop()
	return s.hub.Shutdown(ctx)
}

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Propagate request ID and user ID into the request context
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.TracingMiddleware())

	// Structured logging (after requestid and context middleware)
	app.Use(middleware.RequestLogger())

	// CORS must run before middlewares that can short-circuit (e.g.
	// limiter) so browser clients still receive CORS headers on error
	// responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application.
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Channel images are public once uploaded
	api.Get("/chat-images/*", s.ServeChannelImage)

	chat := api.Group("/chat", middleware.AuthRequired)

	chat.Post("/join", middleware.RateLimit(
		s.redis, 10, time.Minute, "join_channel"), s.JoinChannel)
	chat.Post("/initial", s.JoinInitialChannel)
	chat.Get("/search", middleware.RateLimit(
		s.redis, 20, time.Minute, "channel_search"), s.SearchChannels)

	// Specific /:channelId/:resource routes BEFORE generic /:channelId
	chat.Get("/:channelId/messages", s.GetChannelHistory)
	chat.Post("/:channelId/messages", middleware.RateLimit(
		s.redis, 30, time.Minute, "send_chat"), s.SendChatMessage)
	chat.Delete("/:channelId/messages/:messageId", s.DeleteMessage)
	chat.Get("/:channelId/users", s.GetChannelUsers)
	chat.Get("/:channelId/users/:targetId/permissions", s.GetUserPermissions)
	chat.Post("/:channelId/users/:targetId/permissions", s.UpdateUserPermissions)
	chat.Post("/:channelId/users/:targetId/moderate", s.ModerateUser)
	chat.Get("/:channelId/users/:targetId", s.GetChatUserProfile)
	chat.Put("/:channelId/preferences", s.UpdateUserPreferences)
	chat.Post("/:channelId/images/:kind", s.UploadChannelImage)

	// Generic /:channelId routes must be last
	chat.Patch("/:channelId", s.EditChannel)
	chat.Delete("/:channelId", s.LeaveChannel)
	chat.Get("/:channelId", s.GetChannel)

	// Websocket endpoint, authenticated via ?token= for browser clients
	ws := api.Group("/ws", middleware.WebSocketAuthRequired)
	ws.Get("/chat", s.WebSocketChatHandler())
}

// LivenessCheck handles liveness probe requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional: without it the instance still serves chat,
	// just without cross-instance fan-out or shared presence.
	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}
