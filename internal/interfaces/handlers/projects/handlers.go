package projects

import (
	projectsvc "ibms-backend/internal/application/projects"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves entrusted projects.
type Handlers struct {
	Service *projectsvc.Service
}

// List GET /api/entrusted-projects?org=&year=&status=&q=
func (h *Handlers) List(c *fiber.Ctx) error {
	year, err := validation.OptionalInt("year", c.Query("year"))
	if err != nil {
		return response.FromError(c, err)
	}
	org := c.Query("org")
	if org == "" {
		org = c.Query("org_id")
	}
	list, err := h.Service.List(c.UserContext(), middleware.CurrentActor(c), projectsvc.ListFilter{
		Org:    org,
		Year:   year,
		Status: c.Query("status"),
		Query:  c.Query("q"),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{"count": len(list)})
}

// Get GET /api/entrusted-projects/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ID("project_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Get(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", v, nil)
}

// Create POST /api/entrusted-projects
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in projectsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Create(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Project created", v, nil)
}

// Update PATCH|PUT /api/entrusted-projects/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("project_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var in projectsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Update(c.UserContext(), middleware.CurrentActor(c), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Project updated", v, nil)
}

// Delete DELETE /api/entrusted-projects/:id
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("project_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Project deleted", fiber.Map{"deleted": true}, nil)
}

// ForceDelete DELETE /api/entrusted-projects/:id/force-delete
func (h *Handlers) ForceDelete(c *fiber.Ctx) error {
	id, err := validation.ID("project_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	n, err := h.Service.ForceDelete(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Project and linked entries deleted", fiber.Map{"deleted": true, "deleted_entry_count": n}, nil)
}

// Clone POST /api/entrusted-projects/:id/clone
func (h *Handlers) Clone(c *fiber.Ctx) error {
	id, err := validation.ID("project_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var in projectsvc.CloneInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Clone(c.UserContext(), middleware.CurrentActor(c), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Project cloned", v, nil)
}
