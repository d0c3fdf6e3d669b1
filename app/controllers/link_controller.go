package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/guildgate/guildgate/internal/pkg/discord"
	"github.com/guildgate/guildgate/internal/pkg/membership"
	"github.com/guildgate/guildgate/internal/pkg/metrics/counter"
)

// LinkController drives the Discord identity-link flow: the landing page,
// the gated handshake start and the OAuth callback.
type LinkController struct {
	svc   *membership.Service
	gate  *membership.Gate
	oauth *discord.Client
}

func NewLinkController(svc *membership.Service, gate *membership.Gate, oauth *discord.Client) *LinkController {
	return &LinkController{svc: svc, gate: gate, oauth: oauth}
}

// HandleIndex renders the landing page with the link form.
func (h *LinkController) HandleIndex(c *fiber.Ctx) error {
	err := c.Render("index", fiber.Map{})
	if err != nil {
		return c.SendString("GuildGate")
	}
	return nil
}

// HandleLinkStart checks the admission gate and redirects to the Discord
// authorization URL. The purchase email rides the OAuth state parameter
// so the callback can correlate the identity back to the record.
func (h *LinkController) HandleLinkStart(c *fiber.Ctx) error {
	email := firstQueryValue(c, "email", "state")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !h.gate.Allow(ctx, email) {
		return renderResult(c, fiber.StatusForbidden,
			"No active subscription",
			"We could not find an active subscription for this email. Please check the email you purchased with.")
	}

	authURL, err := h.oauth.AuthorizeURL(email)
	if err != nil {
		log.Printf("link start: %v", err)
		return renderResult(c, fiber.StatusInternalServerError,
			"Configuration error",
			"Discord OAuth is not configured. Please contact support.")
	}
	_ = counter.Add(counter.LinkStarted)
	return c.Redirect(authURL, fiber.StatusSeeOther)
}

// HandleLinkCallback completes the handshake. The success page is shown
// whenever the identity was merged into the record, even if role sync
// failed; those failures are logged for the operator instead.
func (h *LinkController) HandleLinkCallback(c *fiber.Ctx) error {
	if oauthErr := strings.TrimSpace(c.Query("error")); oauthErr != "" {
		msg := c.Query("error_description", oauthErr)
		return renderResult(c, fiber.StatusBadGateway,
			"Discord authorization failed", msg)
	}

	code := strings.TrimSpace(c.Query("code"))
	email := strings.TrimSpace(c.Query("state"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res, err := h.svc.CompleteLink(ctx, code, email)
	if err != nil {
		_ = counter.Add(counter.LinkFailed)
		var vErr *membership.ValidationError
		if errors.As(err, &vErr) {
			return renderResult(c, fiber.StatusBadRequest, "Invalid request", vErr.Error())
		}
		var authErr *membership.AuthError
		if errors.As(err, &authErr) {
			log.Printf("link callback: %v", err)
			return renderResult(c, fiber.StatusBadGateway,
				"Discord link failed",
				"We could not verify your Discord account. Please try again.")
		}
		var roleErr *membership.RoleMutationError
		if errors.As(err, &roleErr) {
			log.Printf("link callback: %v", err)
			return renderResult(c, fiber.StatusBadGateway,
				"Discord link failed",
				"We could not add you to the server. Please try again.")
		}
		log.Printf("link callback: %v", err)
		return renderResult(c, fiber.StatusInternalServerError,
			"Something went wrong",
			"Your link could not be saved. Please try again in a moment.")
	}

	if !res.RolesSynced {
		log.Printf("link callback: member %s linked but role sync incomplete: %v",
			res.Member.PurchaseEmail, res.RoleErr)
	}
	_ = counter.Add(counter.LinkCompleted)
	return renderResult(c, fiber.StatusOK,
		"Discord connected!",
		"Your account has been linked. You can close this window.")
}
