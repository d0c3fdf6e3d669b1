package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/guildgate/guildgate/app/models"
	"github.com/guildgate/guildgate/internal/pkg/hotmart"
	"github.com/guildgate/guildgate/internal/pkg/membership"
	"github.com/guildgate/guildgate/internal/pkg/metrics/counter"
)

// WebhookController terminates the Hotmart webhook surface.
type WebhookController struct {
	svc           *membership.Service
	events        membership.EventStore
	webhookSecret string
}

func NewWebhookController(svc *membership.Service, events membership.EventStore, webhookSecret string) *WebhookController {
	return &WebhookController{svc: svc, events: events, webhookSecret: webhookSecret}
}

// HandleHotmartWebhook validates, deduplicates and processes a
// subscription-status notification. The member-store write is
// authoritative; role-sync failures still acknowledge 200.
func (h *WebhookController) HandleHotmartWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	hottok := firstHeaderValue(c, "X-Hotmart-Hottok")
	if !hotmart.VerifyWebhookToken(hottok, h.webhookSecret) {
		_ = counter.Add(counter.WebhookRejected)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_hottok"})
	}

	// Reject malformed payloads before anything is written.
	ev, err := hotmart.ParseWebhookEvent(rawBody)
	if err != nil {
		_ = counter.Add(counter.WebhookRejected)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "detail": err.Error()})
	}

	eventID := firstHeaderValue(c, "X-Hotmart-Delivery", "X-Hotmart-Event-Id")
	if eventID == "" {
		eventID = ev.EventID
	}
	if eventID == "" {
		eventID = hotmart.FallbackEventID(rawBody)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := h.events.Record(ctx, &models.WebhookEvent{
		Provider:        models.ProviderHotmart,
		ProviderEventID: eventID,
		EventType:       firstHeaderValue(c, "X-Hotmart-Event"),
		PayloadJSON:     string(rawBody),
		TokenValid:      true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	// Only deliveries that completed processing cleanly are acknowledged
	// as duplicates. A retry of a delivery that failed mid-processing (or
	// crashed before MarkProcessed) runs the merge again.
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		_ = counter.Add(counter.WebhookDuplicate)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	res, procErr := h.svc.ProcessSubscriptionEvent(ctx, membership.SubscriptionEvent{
		PurchaseEmail:  ev.PurchaseEmail,
		SubscriptionID: ev.SubscriptionID,
		Status:         ev.Status,
		Plan:           ev.Plan,
	})
	_ = h.events.MarkProcessed(ctx, stored.ID, procErr)

	if procErr != nil {
		var vErr *membership.ValidationError
		if errors.As(procErr, &vErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "detail": vErr.Error()})
		}
		// Store failures surface as retryable server errors.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "member_persist_failed"})
	}

	if !res.RolesSynced {
		log.Printf("webhook %s: member %s merged but role sync incomplete: %v",
			eventID, res.Member.PurchaseEmail, res.RoleErr)
	}
	_ = counter.Add(counter.WebhookAccepted)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "roles_synced": res.RolesSynced})
}
