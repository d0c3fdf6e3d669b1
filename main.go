package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"

	"github.com/guildgate/guildgate/app/controllers"
	"github.com/guildgate/guildgate/internal/pkg/cache"
	"github.com/guildgate/guildgate/internal/pkg/database"
	"github.com/guildgate/guildgate/internal/pkg/discord"
	"github.com/guildgate/guildgate/internal/pkg/env"
	"github.com/guildgate/guildgate/internal/pkg/hotmart"
	"github.com/guildgate/guildgate/internal/pkg/membership"
	"github.com/guildgate/guildgate/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	cache.SetupCache()

	var store membership.Store
	var events membership.EventStore
	if env.GetEnv("STORE_DRIVER", "mysql") == "memory" {
		store = membership.NewMemoryStore()
		events = membership.NewMemoryEventStore()
	} else {
		database.SetupDatabase()
		store = membership.NewGormStore(database.GetDB())
		events = membership.NewGormEventStore(database.GetDB())
	}

	roles := membership.RoleSet{
		Primary: env.GetEnv("DISCORD_ROLE_PRIMARY_ID", ""),
		Pending: env.GetEnv("DISCORD_ROLE_PENDING_ID", ""),
	}
	access := discord.NewClient(discord.ConfigFromEnv())
	svc := membership.NewService(store, access, roles)

	var checker membership.SubscriptionChecker
	if hm := hotmart.NewClient(hotmart.ConfigFromEnv()); hm.Configured() {
		checker = hm
	}
	gate := membership.NewGate(store, checker, membership.GateConfig{
		Enabled:    env.GetEnv("GATE_ENABLED", "false") == "true",
		FailClosed: env.GetEnv("GATE_FAIL_CLOSED", "false") == "true",
		CacheTTL:   10 * time.Minute,
	})

	engine := html.New("./views", ".html")
	app := fiber.New(fiber.Config{
		Views:     engine,
		BodyLimit: 1 << 20, // Hotmart webhook payloads stay well under 1 MiB
	})
	app.Use(recover.New(), logger.New())

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Link:        controllers.NewLinkController(svc, gate, access),
		Webhook:     controllers.NewWebhookController(svc, events, env.GetEnv("HOTMART_HOTTOK", "")),
		Members:     controllers.NewAPIMemberController(svc),
		AdminAPIKey: env.GetEnv("ADMIN_API_KEY", ""),
	})

	return app
}
