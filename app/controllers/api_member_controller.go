package controllers

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/guildgate/guildgate/internal/pkg/membership"
)

// APIMemberController exposes admin/validation endpoints over the member
// store.
type APIMemberController struct {
	svc *membership.Service
}

func NewAPIMemberController(svc *membership.Service) *APIMemberController {
	return &APIMemberController{svc: svc}
}

// HandleListMembers returns every member record.
func (h *APIMemberController) HandleListMembers(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	members, err := h.svc.Store().ListAll(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "member_list_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"members": members, "count": len(members)})
}

// HandleResyncMember re-applies role state from the stored record.
func (h *APIMemberController) HandleResyncMember(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_email"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := h.svc.ResyncMember(ctx, email)
	if err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "member_not_found"})
		}
		var vErr *membership.ValidationError
		if errors.As(err, &vErr) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "member_not_linked", "detail": vErr.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "member_resync_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":             true,
		"classification": res.Classification,
		"roles_synced":   res.RolesSynced,
	})
}
