package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/feedback"
	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

type FeedbackHandler struct {
	engine *feedback.Engine
}

func NewFeedbackHandler(engine *feedback.Engine) *FeedbackHandler {
	return &FeedbackHandler{
		engine: engine,
	}
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		ResponseID           string `json:"response_id"`
		Rating               int    `json:"rating"`
		Helpful              bool   `json:"helpful"`
		Correct              bool   `json:"correct"`
		Clear                bool   `json:"clear"`
		Complete             bool   `json:"complete"`
		Comments             string `json:"comments"`
		SuggestedImprovement string `json:"suggested_improvement"`
		AlternativeSolution  string `json:"alternative_solution"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse feedback body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ResponseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "response_id is required",
		})
	}

	fb := &models.Feedback{
		ResponseID:           req.ResponseID,
		Rating:               req.Rating,
		Helpful:              req.Helpful,
		Correct:              req.Correct,
		Clear:                req.Clear,
		Complete:             req.Complete,
		Comments:             req.Comments,
		SuggestedImprovement: req.SuggestedImprovement,
		AlternativeSolution:  req.AlternativeSolution,
	}

	err := h.engine.Ingest(c.Context(), fb)
	if err != nil {
		var validationErr *models.ValidationError
		switch {
		case errors.As(err, &validationErr):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		case errors.Is(err, models.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Response not found or outside the feedback window",
			})
		default:
			logger.Error("Failed to ingest feedback", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record feedback",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "recorded",
	})
}

func (h *FeedbackHandler) GetFeedbackMetrics(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}

func (h *FeedbackHandler) ApplyImprovements(c *fiber.Ctx) error {
	report, err := h.engine.ApplyImprovements(c.Context())
	if err != nil {
		logger.Error("Improvement pass failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to apply improvements",
		})
	}

	return c.JSON(report)
}
