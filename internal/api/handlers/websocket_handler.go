package handlers

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/middleware/validation"
	"github.com/game-insight/backend/internal/recommend"
	"github.com/game-insight/backend/pkg/logger"
)

type WebSocketHandler struct {
	recommendations *RecommendationHandler
}

func NewWebSocketHandler(recommendations *RecommendationHandler) *WebSocketHandler {
	return &WebSocketHandler{
		recommendations: recommendations,
	}
}

// HandleConnection answers every text frame, read as a game title, with one
// JSON result frame.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// Titles are lookup keys and are used exactly as sent.
		title := string(data)
		if err := validation.CheckTitle(title, validation.DefaultMaxTitleLength); err != nil {
			if err := h.sendError(c, err.Error()); err != nil {
				break
			}
			continue
		}

		if err := h.sendResult(c, title); err != nil {
			logger.Error("Failed to send recommendation", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) sendResult(c *websocket.Conn, title string) error {
	resp, err := h.recommendations.answer(context.Background(), title, 0)
	if err != nil {
		logger.Error("Failed to process recommendation", zap.String("title", title), zap.Error(err))
		return h.sendError(c, recommend.ErrorMessage(err))
	}

	return h.write(c, struct {
		Type string `json:"type"`
		RecommendationResponse
	}{"result", resp})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return h.write(c, map[string]string{
		"type":  "error",
		"error": errorMsg,
	})
}

func (h *WebSocketHandler) write(c *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}
