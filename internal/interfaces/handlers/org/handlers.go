package org

import (
	orgsvc "ibms-backend/internal/application/org"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers bundles organization handlers. Write routes are gated with ManageOrganizations.
type Handlers struct {
	Service *orgsvc.Service
}

// List GET /api/orgs?org_type=&parent=&q=
func (h *Handlers) List(c *fiber.Ctx) error {
	orgs, err := h.Service.List(c.UserContext(), orgsvc.ListFilter{
		OrgType: c.Query("org_type"),
		Parent:  c.Query("parent"),
		Query:   c.Query("q"),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", orgs, fiber.Map{"count": len(orgs)})
}

// Get GET /api/orgs/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ID("org_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	o, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", o, nil)
}

// Create POST /api/orgs
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in orgsvc.CreateInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	o, err := h.Service.Create(c.UserContext(), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Organization created", o, nil)
}

// Update PATCH|PUT /api/orgs/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("org_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	fields, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	o, err := h.Service.Update(c.UserContext(), id, fields)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Organization updated", o, nil)
}

// Delete DELETE /api/orgs/:id
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("org_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Organization deleted", fiber.Map{"deleted": true}, nil)
}

// Reorder POST /api/orgs/reorder {"ordered_ids": [...]}
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
	return response.Success(c, "Organizations reordered", fiber.Map{"updated": n}, nil)
}
