package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/guildgate/guildgate/internal/pkg/metrics/counter"
)

// HandleStats returns aggregated webhook and link counters.
func HandleStats(c *fiber.Ctx) error {
	stats, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"counters": stats})
}
