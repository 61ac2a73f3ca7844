package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/metrics"
	"github.com/topoquery/backend/internal/store"
	"github.com/topoquery/backend/pkg/logger"
)

type bypassMarker interface {
	MarkBypass(sessionID, question string)
}

type feedbackStore interface {
	SaveFeedback(ctx context.Context, fb *store.Feedback) (bool, error)
	Counts() (static, feedback int)
}

type FeedbackHandler struct {
	store  feedbackStore
	bypass bypassMarker
}

func NewFeedbackHandler(store feedbackStore, bypass bypassMarker) *FeedbackHandler {
	return &FeedbackHandler{
		store:  store,
		bypass: bypass,
	}
}

func (h *FeedbackHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		Question       string `json:"question"`
		GeneratedQuery string `json:"generated_cypher"`
		CorrectQuery   string `json:"correct_cypher"`
		Rating         int    `json:"rating"`
		ConversationID string `json:"conversation_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}
	if req.Rating < 1 || req.Rating > 5 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Rating must be between 1 and 5",
		})
	}

	promoted, err := h.store.SaveFeedback(c.Context(), &store.Feedback{
		Question:       req.Question,
		GeneratedQuery: req.GeneratedQuery,
		CorrectQuery:   req.CorrectQuery,
		Rating:         req.Rating,
	})
	if err != nil {
		logger.Error("Failed to save feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save feedback",
		})
	}

	if promoted {
		metrics.FeedbackPromotions.Inc()
		static, feedback := h.store.Counts()
		metrics.PoolSize.WithLabelValues("static").Set(float64(static))
		metrics.PoolSize.WithLabelValues("feedback").Set(float64(feedback))
	}

	// A correction means the cached answer for this question is stale for
	// this conversation.
	if req.ConversationID != "" && req.CorrectQuery != "" {
		h.bypass.MarkBypass(req.ConversationID, req.Question)
	}

	return c.JSON(fiber.Map{
		"status":   "saved",
		"promoted": promoted,
	})
}
