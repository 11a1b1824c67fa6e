package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/routing"
	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

type QueryHandler struct {
	engine *routing.Engine
}

func NewQueryHandler(engine *routing.Engine) *QueryHandler {
	return &QueryHandler{
		engine: engine,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query   string `json:"query"`
		Context string `json:"context"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	envelope, err := h.engine.Answer(c.Context(), req.Query, req.Context)
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	if envelope.Route == models.RouteGuardrailRejected {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"id":    envelope.ID,
			"route": envelope.Route,
			"error": envelope.Solution,
		})
	}

	return c.JSON(fiber.Map{
		"id":         envelope.ID,
		"query":      envelope.Query,
		"route":      envelope.Route,
		"solution":   envelope.Solution,
		"steps":      envelope.Steps,
		"citations":  envelope.Citations,
		"confidence": envelope.Confidence,
		"latency_ms": envelope.LatencyMS,
		"consulted":  envelope.Consulted,
	})
}

func (h *QueryHandler) GetRoutingStats(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}

func (h *QueryHandler) GetSampleQueries(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"samples": []string{
			"What is the quadratic formula?",
			"Solve 2x + 5 = 13",
			"What is the derivative of 3x^2 + 2x?",
			"Solve x² - 5x + 6 = 0",
			"What is the area of a circle?",
			"Integrate x^3",
			"What is the Pythagorean theorem?",
			"Evaluate 12 * (3 + 4)",
		},
	})
}
