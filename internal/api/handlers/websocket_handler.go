package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/agent"
	"github.com/topoquery/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *agent.Orchestrator
}

func NewWebSocketHandler(orchestrator *agent.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

// HandleConnection serves one chat session over a websocket. The connection
// keeps a single conversation id so cache bypass markers from feedback apply
// to every question asked on it.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	conversationID := uuid.New().String()
	logger.Info("WebSocket connection established", zap.String("conversation_id", conversationID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("conversation_id", conversationID))
	}()

	for {
		var msg struct {
			Type       string `json:"type"`
			Content    string `json:"content"`
			RunMode    string `json:"run_mode"`
			Summarizer string `json:"summarizer"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "query" || msg.Content == "" {
			continue
		}

		h.sendStatus(c, "Processing question...")

		resp, err := h.orchestrator.Handle(context.Background(), agent.Request{
			Question:       msg.Content,
			ConversationID: conversationID,
			RunMode:        agent.RunMode(msg.RunMode),
			SummarizerMode: agent.SummarizerMode(msg.Summarizer),
		})
		if err != nil {
			var exhausted *agent.RetriesExhaustedError
			if errors.As(err, &exhausted) {
				h.sendError(c, "Could not generate a working query for this question")
				continue
			}
			logger.Error("Failed to process WebSocket question", zap.Error(err))
			h.sendError(c, "Failed to process question")
			continue
		}

		if err := c.WriteJSON(map[string]interface{}{
			"type":             "answer",
			"summary":          resp.Answer,
			"generated_cypher": resp.Query,
			"conversation_id":  conversationID,
			"cache_hit":        resp.CacheHit,
			"cache_similarity": resp.CacheScore,
		}); err != nil {
			logger.Error("Failed to write WebSocket response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, content string) {
	c.WriteJSON(map[string]interface{}{
		"type":    "status",
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
