package comments

import (
	commentsvc "ibms-backend/internal/application/comments"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves submission comment threads.
type Handlers struct {
	Service *commentsvc.Service
}

// List GET /api/comments?version=&entry=&subject=&org=&entrusted_project=&top_level=
// The metadata carries the thread state of the listed comments.
func (h *Handlers) List(c *fiber.Ctx) error {
	var f commentsvc.ListFilter
	var err error
	for _, p := range []struct {
		name string
		dst  **int64
	}{
		{"version", &f.VersionID},
		{"entry", &f.EntryID},
		{"subject", &f.SubjectID},
		{"org", &f.OrgID},
		{"entrusted_project", &f.EntrustedProjectID},
	} {
		if *p.dst, err = validation.OptionalID(p.name, c.Query(p.name)); err != nil {
			return response.FromError(c, err)
		}
	}
	f.TopLevel = validation.Flag(c.Query("top_level"), false)

	list, err := h.Service.List(c.UserContext(), middleware.CurrentActor(c), f)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{
		"count":               commentsvc.LiveCount(list),
		"latest_comment_type": commentsvc.LatestType(list),
		"unresolved_types":    commentsvc.UnresolvedTypes(list),
	})
}

// Create POST /api/comments
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in commentsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	cm, err := h.Service.Create(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Comment created", cm, nil)
}

// Update PATCH|PUT /api/comments/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("comment_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var body struct {
		Body        *string `json:"body"`
		CommentType *string `json:"comment_type"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	cm, err := h.Service.Update(c.UserContext(), middleware.CurrentActor(c), id, body.Body, body.CommentType)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Comment updated", cm, nil)
}

// Delete DELETE /api/comments/:id (soft delete)
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("comment_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Comment deleted", fiber.Map{"deleted": true}, nil)
}
