package subjects

import (
	"fmt"
	"strings"

	subjectsvc "ibms-backend/internal/application/subjects"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves the subject tree. Writes are gated with ManageSubjects at the router.
type Handlers struct {
	Service *subjectsvc.Service
}

// List GET /api/subjects?subject_type=&level=&parent=
// parent=null (or none) returns the roots.
func (h *Handlers) List(c *fiber.Ctx) error {
	f := subjectsvc.ListFilter{SubjectType: strings.ToLower(c.Query("subject_type"))}
	level, err := validation.OptionalInt("level", c.Query("level"))
	if err != nil {
		return response.FromError(c, err)
	}
	if level != nil {
		f.Level = *level
	}
	switch p := strings.ToLower(strings.TrimSpace(c.Query("parent"))); p {
	case "":
	case "null", "none":
		f.RootsOnly = true
	default:
		if f.ParentID, err = validation.OptionalID("parent", p); err != nil {
			return response.FromError(c, err)
		}
	}
	list, err := h.Service.List(c.UserContext(), f)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{"count": len(list)})
}

// Get GET /api/subjects/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ID("subject_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	sub, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", sub, nil)
}

// Create POST /api/subjects
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in subjectsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	sub, err := h.Service.Create(c.UserContext(), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Subject created", sub, nil)
}

// Update PUT|PATCH /api/subjects/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("subject_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var in subjectsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	sub, err := h.Service.Update(c.UserContext(), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Subject updated", sub, nil)
}

// Delete DELETE /api/subjects/:id; refused while entries or children exist.
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("subject_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Subject deleted", fiber.Map{"deleted": true}, nil)
}

// ForceDelete DELETE /api/subjects/:id/force-delete
func (h *Handlers) ForceDelete(c *fiber.Ctx) error {
	id, err := validation.ID("subject_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.ForceDelete(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, res.Message, res, nil)
}

// Reorder POST /api/subjects/reorder {"ordered_ids": [...]}
func (h *Handlers) Reorder(c *fiber.Ctx) error {
	var body struct {
		OrderedIDs []int64 `json:"ordered_ids"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	n, err := h.Service.Reorder(c.UserContext(), body.OrderedIDs)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Subjects reordered", fiber.Map{"updated": n}, nil)
}

// BulkUpdateTree POST /api/subjects/bulk-update-tree {"updates": [{id, code?, name?, level?, parent?}]}
func (h *Handlers) BulkUpdateTree(c *fiber.Ctx) error {
	var body struct {
		Updates []subjectsvc.TreeUpdate `json:"updates"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.BulkUpdateTree(c.UserContext(), body.Updates)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Subject tree updated", res, nil)
}

// RestoreDefaults POST /api/subjects/restore-defaults {"subject_type": "income|expense|all", "force": bool}
func (h *Handlers) RestoreDefaults(c *fiber.Ctx) error {
	body, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	subjectType, _ := body["subject_type"].(string)
	force := false
	if v, ok := body["force"]; ok && v != nil {
		force = subjectsvc.ParseForce(fmt.Sprint(v))
	}
	res, err := h.Service.RestoreDefaults(c.UserContext(), subjectType, force)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Default subjects restored", res, nil)
}
