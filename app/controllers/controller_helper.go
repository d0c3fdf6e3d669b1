package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func firstQueryValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c.Query(k)); v != "" {
			return v
		}
	}
	return ""
}

// renderResult renders the shared link result page. When no view engine is
// mounted (handler tests), it falls back to a plain text response.
func renderResult(c *fiber.Ctx, status int, title, message string) error {
	err := c.Status(status).Render("link_result", fiber.Map{
		"Title":   title,
		"Message": message,
	})
	if err != nil {
		return c.Status(status).SendString(title + ": " + message)
	}
	return nil
}
