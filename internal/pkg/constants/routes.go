package constants

// Static route constants
const (
	IndexRoute          = "/"
	LinkStartRoute      = "/link/discord"
	LinkCallbackRoute   = "/link/discord/callback"
	HotmartWebhookRoute = "/webhooks/hotmart"
	// Callback path without leading slash for URL construction
	LinkCallbackPath = "link/discord/callback"
)
