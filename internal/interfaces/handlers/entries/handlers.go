package entries

import (
	entrysvc "ibms-backend/internal/application/entries"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves budget entries, their workflow and executions.
type Handlers struct {
	Service *entrysvc.Service
}

// List GET /api/entries?org_id=&year=&round=&entrusted_project_id=&q=
func (h *Handlers) List(c *fiber.Ctx) error {
	year, err := validation.OptionalInt("year", c.Query("year"))
	if err != nil {
		return response.FromError(c, err)
	}
	roundRaw := c.Query("round")
	if roundRaw == "" {
		roundRaw = c.Query("supplemental_round")
	}
	round, err := validation.OptionalInt("round", roundRaw)
	if err != nil {
		return response.FromError(c, err)
	}
	project, err := validation.OptionalID("entrusted_project_id", c.Query("entrusted_project_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	list, err := h.Service.List(c.UserContext(), middleware.CurrentActor(c), entrysvc.ListFilter{
		Org:                c.Query("org_id"),
		Year:               year,
		Round:              round,
		EntrustedProjectID: project,
		Query:              c.Query("q"),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{"count": len(list)})
}

// Get GET /api/entries/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ID("entry_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Get(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", v, nil)
}

// Create POST /api/entries
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in entrysvc.CreateInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	e, err := h.Service.Create(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Budget entry created", e, nil)
}

// Update PATCH|PUT /api/entries/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("entry_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	fields, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	e, err := h.Service.Update(c.UserContext(), middleware.CurrentActor(c), id, fields)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Budget entry updated", e, nil)
}

// Delete DELETE /api/entries/:id
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("entry_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Budget entry deleted", fiber.Map{"deleted": true}, nil)
}

// Transition returns the handler for POST /api/entries/:id/<action>.
func (h *Handlers) Transition(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ID("entry_id", c.Params("id"))
		if err != nil {
			return response.FromError(c, err)
		}
		var in entrysvc.TransitionInput
		if err := validation.Decode(c.Body(), &in); err != nil {
			return response.FromError(c, err)
		}
		res, err := h.Service.Transition(c.UserContext(), middleware.CurrentActor(c), id, action, in)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.Success(c, res.Status, res, nil)
	}
}

// BulkWorkflow POST /api/entries/workflow
func (h *Handlers) BulkWorkflow(c *fiber.Ctx) error {
	var in entrysvc.BulkInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.BulkWorkflow(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, res.Message, res, nil)
}

// Dashboard GET /api/dashboard/summary?year=&round=
func (h *Handlers) Dashboard(c *fiber.Ctx) error {
	year, err := validation.OptionalInt("year", c.Query("year"))
	if err != nil {
		return response.FromError(c, err)
	}
	round, err := validation.OptionalInt("round", c.Query("round"))
	if err != nil {
		return response.FromError(c, err)
	}
	r := 0
	if round != nil {
		r = *round
	}
	sum, err := h.Service.Dashboard(c.UserContext(), middleware.CurrentActor(c), year, r)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", sum, nil)
}

// ListExecutions GET /api/executions?entry=
func (h *Handlers) ListExecutions(c *fiber.Ctx) error {
	entryID, err := validation.OptionalID("entry", c.Query("entry"))
	if err != nil {
		return response.FromError(c, err)
	}
	list, err := h.Service.ListExecutions(c.UserContext(), middleware.CurrentActor(c), entryID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{"count": len(list)})
}

// CreateExecution POST /api/executions
func (h *Handlers) CreateExecution(c *fiber.Ctx) error {
	var in entrysvc.ExecutionInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	ex, err := h.Service.CreateExecution(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Execution recorded", ex, nil)
}

// UpdateExecution PUT|PATCH /api/executions/:id
func (h *Handlers) UpdateExecution(c *fiber.Ctx) error {
	id, err := validation.ID("execution_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var in entrysvc.ExecutionInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	ex, err := h.Service.UpdateExecution(c.UserContext(), middleware.CurrentActor(c), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Execution updated", ex, nil)
}

// DeleteExecution DELETE /api/executions/:id
func (h *Handlers) DeleteExecution(c *fiber.Ctx) error {
	id, err := validation.ID("execution_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.DeleteExecution(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Execution deleted", fiber.Map{"deleted": true}, nil)
}
