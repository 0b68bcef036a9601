// Package api assembles the HTTP and WebSocket surface of the query server.
package api

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/api/handlers"
	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/internal/middleware/ratelimit"
	"github.com/game-insight/backend/internal/middleware/security"
	"github.com/game-insight/backend/internal/middleware/validation"
	"github.com/game-insight/backend/internal/recommend"
)

type Options struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	RateLimitPerMinute int
	AllowedOrigins     []string
	AccessLog          bool
	Logger             *zap.Logger
}

// NewRouter returns the app and the rate limiter, which the caller stops on
// shutdown. store may be nil.
func NewRouter(engine *recommend.Engine, store handlers.QueryStore, opts Options) (*fiber.App, *ratelimit.RateLimiter) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(security.HeadersMiddleware(security.HeadersConfig{AllowedOrigins: opts.AllowedOrigins}))

	allowOrigins := "*"
	if len(opts.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(opts.AllowedOrigins, ", ")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: opts.RateLimitPerMinute,
		Logger:               opts.Logger,
	})

	recommendationHandler := handlers.NewRecommendationHandler(engine, store)
	healthHandler := handlers.NewHealthHandler(engine)
	wsHandler := handlers.NewWebSocketHandler(recommendationHandler)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.Health)

	api.Use(limiter.Middleware())
	api.Get("/recommendations",
		validation.TitleQuery(validation.Config{Logger: opts.Logger}),
		recommendationHandler.GetRecommendations,
	)
	api.Get("/recommendations/history", recommendationHandler.GetHistory)
	api.Get("/games", recommendationHandler.ListGames)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/recommendations", websocket.New(wsHandler.HandleConnection))

	return app, limiter
}
