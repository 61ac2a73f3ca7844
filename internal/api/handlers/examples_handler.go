package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/prompt"
	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/pkg/logger"
)

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type exampleSelector interface {
	SelectExamples(ctx context.Context, questionEmbedding []float32, metric similarity.Metric) ([]prompt.ExampleItem, error)
	SelectFeedback(ctx context.Context, questionEmbedding []float32, metric similarity.Metric) ([]prompt.ExampleItem, error)
}

// ExamplesHandler exposes retrieval directly, so clients can inspect which
// examples and corrections a question would pull into its prompt.
type ExamplesHandler struct {
	provider embedder
	selector exampleSelector
}

func NewExamplesHandler(provider embedder, selector exampleSelector) *ExamplesHandler {
	return &ExamplesHandler{
		provider: provider,
		selector: selector,
	}
}

func (h *ExamplesHandler) HandleSimilarExamples(c *fiber.Ctx) error {
	return h.respond(c, h.selector.SelectExamples)
}

func (h *ExamplesHandler) HandleSimilarFeedback(c *fiber.Ctx) error {
	return h.respond(c, h.selector.SelectFeedback)
}

func (h *ExamplesHandler) respond(c *fiber.Ctx, selectFn func(context.Context, []float32, similarity.Metric) ([]prompt.ExampleItem, error)) error {
	var req struct {
		Query  string `json:"query"`
		Metric string `json:"similarity_method"`
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

	var metric similarity.Metric
	if req.Metric != "" {
		var err error
		metric, err = similarity.ParseMetric(req.Metric)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown similarity method",
			})
		}
	}

	embedding, err := h.provider.Embed(c.Context(), req.Query)
	if err != nil {
		logger.Error("Failed to embed query", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Embedding provider unavailable",
		})
	}

	items, err := selectFn(c.Context(), embedding, metric)
	if err != nil {
		logger.Error("Failed to select examples", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve similar items",
		})
	}

	results := make([]fiber.Map, 0, len(items))
	for _, item := range items {
		results = append(results, fiber.Map{
			"question":   item.NaturalLanguage,
			"cypher":     item.Query,
			"similarity": item.Similarity,
		})
	}

	return c.JSON(fiber.Map{
		"results": results,
	})
}
