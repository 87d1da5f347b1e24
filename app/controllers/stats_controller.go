package controllers

import (
	"github.com/gofiber/fiber/v2"

	counter "github.com/coursefox/paycore/internal/pkg/metrics/counter"
)

// HandleReconcileStats exposes the reconciliation counters for operational
// monitoring.
func HandleReconcileStats(c *fiber.Ctx) error {
	snapshot, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"counters": snapshot})
}
