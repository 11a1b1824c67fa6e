package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/knowledge"
	"github.com/math-agent/backend/internal/routing"
	"github.com/math-agent/backend/internal/storage/models"
	"github.com/math-agent/backend/pkg/logger"
)

type KnowledgeHandler struct {
	index    *knowledge.Index
	embedder routing.Embedder
	searcher routing.WebSearcher
	topK     int
}

func NewKnowledgeHandler(index *knowledge.Index, embedder routing.Embedder, searcher routing.WebSearcher, topK int) *KnowledgeHandler {
	if topK == 0 {
		topK = 3
	}
	return &KnowledgeHandler{
		index:    index,
		embedder: embedder,
		searcher: searcher,
		topK:     topK,
	}
}

func (h *KnowledgeHandler) SearchKnowledgeBase(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}
	if req.TopK == 0 {
		req.TopK = h.topK
	}

	embedding, err := h.embedder.Embed(c.Context(), req.Query)
	if err != nil {
		logger.Error("Failed to embed search query", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to embed query",
		})
	}

	results, err := h.index.Search(embedding, req.TopK)
	if err != nil {
		logger.Error("Knowledge base search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Search failed",
		})
	}

	out := make([]fiber.Map, 0, len(results))
	for _, r := range results {
		out = append(out, fiber.Map{
			"entry_id":   r.Entry.ID,
			"question":   r.Entry.Question,
			"solution":   r.Entry.Solution,
			"topics":     r.Entry.Topics,
			"quality":    r.Entry.Quality,
			"similarity": r.Similarity,
		})
	}

	return c.JSON(fiber.Map{
		"results": out,
	})
}

func (h *KnowledgeHandler) AddEntry(c *fiber.Ctx) error {
	var req struct {
		Question string   `json:"question"`
		Solution string   `json:"solution"`
		Steps    []string `json:"steps"`
		Topics   []string `json:"topics"`
		Quality  float64  `json:"quality"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	entry := &models.KnowledgeEntry{
		Question: req.Question,
		Solution: req.Solution,
		Steps:    req.Steps,
		Topics:   req.Topics,
		Quality:  req.Quality,
	}

	embedding, err := h.embedder.Embed(c.Context(), knowledge.EmbedText(entry))
	if err != nil {
		logger.Error("Failed to embed knowledge entry", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to embed entry",
		})
	}
	entry.Embedding = embedding

	entryID, err := h.index.InsertOrUpdate(entry)
	if err != nil {
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		}
		logger.Error("Failed to add knowledge entry", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add entry",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"entry_id": entryID,
	})
}

func (h *KnowledgeHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.index.Stats())
}

func (h *KnowledgeHandler) WebSearch(c *fiber.Ctx) error {
	if h.searcher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Web search is disabled",
		})
	}

	var req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	results, err := h.searcher.Search(c.Context(), req.Query, req.MaxResults)
	if err != nil {
		logger.Warn("Web search failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Web search failed",
		})
	}

	out := make([]fiber.Map, 0, len(results))
	for _, r := range results {
		out = append(out, fiber.Map{
			"title":     r.Title,
			"url":       r.URL,
			"snippet":   r.Snippet,
			"relevance": r.Relevance,
		})
	}

	return c.JSON(fiber.Map{
		"results": out,
	})
}
