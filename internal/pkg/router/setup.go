package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/guildgate/guildgate/app/controllers"
)

// Deps carries the constructed controllers into route installation, so
// handlers never reach for process-wide state.
type Deps struct {
	Link        *controllers.LinkController
	Webhook     *controllers.WebhookController
	Members     *controllers.APIMemberController
	AdminAPIKey string
}

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
