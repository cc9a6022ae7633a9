package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Caia-Tech/classroom-archive/internal/storage"
)

// StorageHandler exposes snapshot archive telemetry
type StorageHandler struct {
	metrics *storage.SimpleMetricsCollector
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(metrics *storage.SimpleMetricsCollector) *StorageHandler {
	return &StorageHandler{
		metrics: metrics,
	}
}

// GetStorageMetrics returns per-operation archive metrics
func (h *StorageHandler) GetStorageMetrics(c *fiber.Ctx) error {
	if h.metrics == nil {
		return c.JSON(fiber.Map{
			"metrics_summary":  fiber.Map{},
			"total_operations": 0,
		})
	}
	return c.JSON(fiber.Map{
		"metrics_summary":  h.metrics.Summary(),
		"total_operations": len(h.metrics.GetMetrics()),
	})
}
