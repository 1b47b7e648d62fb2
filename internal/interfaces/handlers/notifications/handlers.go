package notifications

import (
	notificationsvc "ibms-backend/internal/application/notifications"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves in-app notifications.
type Handlers struct {
	Service *notificationsvc.Service
}

// List GET /api/notifications?unread=
func (h *Handlers) List(c *fiber.Ctx) error {
	rows, err := h.Service.List(c.UserContext(), middleware.CurrentActor(c), validation.Flag(c.Query("unread"), false))
	if err != nil {
		return response.FromError(c, err)
	}
	unread := 0
	for _, n := range rows {
		if !n.IsRead {
			unread++
		}
	}
	return response.Success(c, "OK", rows, fiber.Map{"count": len(rows), "unread": unread})
}

// Create POST /api/notifications
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in notificationsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	n, err := h.Service.Create(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Notification created", n, nil)
}

// Update PATCH /api/notifications/:id accepts {"is_read": bool}.
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("notification_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var body struct {
		IsRead *bool `json:"is_read"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	read := true
	if body.IsRead != nil {
		read = *body.IsRead
	}
	n, err := h.Service.SetRead(c.UserContext(), middleware.CurrentActor(c), id, read)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Notification updated", n, nil)
}

// MarkAllRead POST /api/notifications/mark-all-read
func (h *Handlers) MarkAllRead(c *fiber.Ctx) error {
	n, err := h.Service.MarkAllRead(c.UserContext(), middleware.CurrentActor(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"updated_count": n}, nil)
}

// Delete DELETE /api/notifications/:id
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("notification_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Notification deleted", fiber.Map{"deleted": true}, nil)
}
