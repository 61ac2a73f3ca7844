package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/cache"
	"github.com/topoquery/backend/internal/embedding"
	"github.com/topoquery/backend/pkg/logger"
)

type CacheHandler struct {
	cache    *cache.Cache
	provider *embedding.CachedProvider
}

func NewCacheHandler(c *cache.Cache, provider *embedding.CachedProvider) *CacheHandler {
	return &CacheHandler{
		cache:    c,
		provider: provider,
	}
}

func (h *CacheHandler) HandleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"query_cache":     h.cache.Stats(),
		"embedding_cache": h.provider.Stats(),
	})
}

func (h *CacheHandler) HandleClear(c *fiber.Ctx) error {
	if err := h.cache.Clear(); err != nil {
		logger.Error("Failed to clear cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear cache",
		})
	}
	logger.Info("Query cache cleared")
	return c.JSON(fiber.Map{
		"status": "cleared",
	})
}
