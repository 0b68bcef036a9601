package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/game-insight/backend/internal/recommend"
)

type HealthHandler struct {
	engine  *recommend.Engine
	started time.Time
}

func NewHealthHandler(engine *recommend.Engine) *HealthHandler {
	return &HealthHandler{engine: engine, started: time.Now()}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "healthy",
		"time":           time.Now().Unix(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"games":          h.engine.Len(),
		"terms":          h.engine.Vocabulary().Len(),
	})
}
