package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/routing"
	"github.com/math-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine *routing.Engine
}

func NewWebSocketHandler(engine *routing.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			Context string `json:"context"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("query", msg.Content))

		err = h.streamResponse(c, msg.Content, msg.Context)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

// streamResponse sends the solution first, then each worked step as its
// own frame, then a completion frame with the envelope metadata.
func (h *WebSocketHandler) streamResponse(c *websocket.Conn, query, queryContext string) error {
	ctx := context.Background()

	if err := h.send(c, "status", "Processing query..."); err != nil {
		return err
	}

	envelope, err := h.engine.Answer(ctx, query, queryContext)
	if err != nil {
		return err
	}

	if err := h.send(c, "solution", envelope.Solution); err != nil {
		return err
	}

	for _, step := range envelope.Steps {
		if err := h.send(c, "step", step); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":        "complete",
		"response_id": envelope.ID,
		"route":       envelope.Route,
		"citations":   envelope.Citations,
		"confidence":  envelope.Confidence,
		"latency_ms":  envelope.LatencyMS,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
