package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/agent"
	"github.com/topoquery/backend/internal/prompt"
	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/pkg/logger"
)

func similarities(items []prompt.ExampleItem) []float64 {
	scores := make([]float64, len(items))
	for i, item := range items {
		scores[i] = item.Similarity
	}
	return scores
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatHandler struct {
	orchestrator *agent.Orchestrator
}

func NewChatHandler(orchestrator *agent.Orchestrator) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Query          string        `json:"query"`
		History        []ChatMessage `json:"history"`
		ConversationID string        `json:"conversation_id"`
		RunMode        string        `json:"run_mode"`
		Summarizer     string        `json:"summarizer"`
		Metric         string        `json:"similarity_method"`
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

	var metric similarity.Metric
	if req.Metric != "" {
		var perr error
		metric, perr = similarity.ParseMetric(req.Metric)
		if perr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown similarity method",
			})
		}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	resp, err := h.orchestrator.Handle(c.Context(), agent.Request{
		Question:       req.Query,
		ConversationID: conversationID,
		RunMode:        agent.RunMode(req.RunMode),
		SummarizerMode: agent.SummarizerMode(req.Summarizer),
		Metric:         metric,
	})

	if err != nil {
		var exhausted *agent.RetriesExhaustedError
		if errors.As(err, &exhausted) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":           "Could not generate a working query for this question",
				"conversation_id": conversationID,
				"status":          resp.Status.String(),
				"attempts":        exhausted.Attempts,
			})
		}
		logger.Error("Failed to process chat request", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process question",
		})
	}

	updatedHistory := append(req.History,
		ChatMessage{Role: "user", Content: req.Query},
		ChatMessage{Role: "assistant", Content: resp.Answer},
	)

	return c.JSON(fiber.Map{
		"summary":          resp.Answer,
		"generated_cypher": resp.Query,
		"conversation_id":  conversationID,
		"updated_history":  updatedHistory,
		"status":           resp.Status.String(),
		"cache_hit":        resp.CacheHit,
		"cache_similarity": resp.CacheScore,
		"prompt_metadata": fiber.Map{
			"example_count":         len(resp.Examples),
			"feedback_count":        len(resp.Feedback),
			"example_similarities":  similarities(resp.Examples),
			"feedback_similarities": similarities(resp.Feedback),
			"entity_hints":          resp.EntityHints,
			"attempts_used":         resp.AttemptsUsed,
		},
	})
}
