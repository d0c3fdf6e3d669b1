package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/guildgate/guildgate/app/controllers"
	"github.com/guildgate/guildgate/internal/pkg/cache"
	"github.com/guildgate/guildgate/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Storage: limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware(h.deps.AdminAPIKey))
	v1.Get("/members", h.deps.Members.HandleListMembers)
	v1.Post("/members/:email/resync", h.deps.Members.HandleResyncMember)
	v1.Get("/stats", controllers.HandleStats)
}

// limiterStorage shares limiter state across instances through the same
// Redis the cache uses, on a separate logical database.
func limiterStorage() *redisstorage.Storage {
	cacheOpts := cache.GetClient().Options()
	host, port := "127.0.0.1", 6379
	if cacheOpts != nil && cacheOpts.Addr != "" {
		if hostPart, portPart, err := net.SplitHostPort(cacheOpts.Addr); err == nil {
			host = hostPart
			if parsed, convErr := strconv.Atoi(portPart); convErr == nil {
				port = parsed
			}
		} else {
			host = cacheOpts.Addr
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Username: cacheOpts.Username,
		Password: cacheOpts.Password,
		Database: 1,
		Reset:    false,
	})
}
