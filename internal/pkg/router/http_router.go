package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/guildgate/guildgate/internal/pkg/constants"
)

type HttpRouter struct {
	deps Deps
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.IndexRoute, h.deps.Link.HandleIndex)

	// Identity-link flow
	app.Get(constants.LinkStartRoute, h.deps.Link.HandleLinkStart)
	app.Get(constants.LinkCallbackRoute, h.deps.Link.HandleLinkCallback)

	// Provider webhooks
	app.Post(constants.HotmartWebhookRoute, h.deps.Webhook.HandleHotmartWebhook)
}
