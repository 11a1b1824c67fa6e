package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/math-agent/backend/internal/metrics"
	"github.com/math-agent/backend/pkg/circuitbreaker"
	"github.com/math-agent/backend/pkg/logger"
	"github.com/math-agent/backend/pkg/retry"
	"github.com/math-agent/backend/pkg/utils"
)

// Cache stores embeddings keyed by text hash. A nil cache disables caching.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Client struct {
	client      *openai.Client
	model       string
	dimension   int
	cache       Cache
	cacheTTL    time.Duration
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, dimension, timeoutSec int, cache Cache, cacheTTL time.Duration) *Client {
	if timeoutSec == 0 {
		timeoutSec = 15
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized",
		zap.String("model", model),
		zap.Int("dimension", dimension),
	)

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		dimension:   dimension,
		cache:       cache,
		cacheTTL:    cacheTTL,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := utils.HashString(text)

	if c.cache != nil {
		cached, hit, err := c.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return cached, nil
		} else {
			metrics.CacheMisses.WithLabelValues("embedding").Inc()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.model),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response contained no data")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	if len(embedding) != c.dimension {
		return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(embedding), c.dimension)
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, textHash, embedding, c.cacheTTL); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return embedding, nil
}
