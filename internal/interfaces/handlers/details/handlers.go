package details

import (
	"errors"
	"fmt"

	"ibms-backend/internal/application/calc"
	detailsvc "ibms-backend/internal/application/details"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// TokenHeader carries the detail updated_at token when the body does not.
const TokenHeader = "X-Detail-Updated-At"

// Handlers serves budget detail lines.
type Handlers struct {
	Service *detailsvc.Service
}

// List GET /api/details?entry=
func (h *Handlers) List(c *fiber.Ctx) error {
	entryID, err := validation.ID("entry", c.Query("entry"))
	if err != nil {
		return response.FromError(c, err)
	}
	list, err := h.Service.List(c.UserContext(), middleware.CurrentActor(c), entryID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{"count": len(list)})
}

// Get GET /api/details/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ID("detail_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Get(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", v, nil)
}

// Create POST /api/details
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in detailsvc.CreateInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	d, err := h.Service.Create(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := detailsvc.NewView(*d)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Budget detail created", v, nil)
}

// Update PATCH|PUT /api/details/:id
// The concurrency token is "_updated_at" in the body, else the X-Detail-Updated-At header.
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("detail_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	fields, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	raw := c.Get(TokenHeader)
	if v, ok := fields["_updated_at"]; ok && v != nil {
		raw = fmt.Sprint(v)
	}
	delete(fields, "_updated_at")
	token, err := detailsvc.ParseToken(raw)
	if err != nil {
		return response.FromError(c, err)
	}
	d, err := h.Service.Update(c.UserContext(), middleware.CurrentActor(c), id, fields, token)
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := detailsvc.NewView(*d)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Budget detail updated", v, nil)
}

// Delete DELETE /api/details/:id
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("detail_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Budget detail deleted", fiber.Map{"deleted": true}, nil)
}

// ParseExpression POST /api/details/parse-expression {"expression": "50,000 x 3 x 12"}
func (h *Handlers) ParseExpression(c *fiber.Ctx) error {
	var body struct {
		Expression string `json:"expression"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	parsed, err := calc.ParseExpression(body.Expression)
	if err != nil {
		code := "invalid_expression"
		if errors.Is(err, calc.ErrEmptyExpression) {
			code = "expression_required"
		}
		return response.FromError(c, apperr.Validation(code, err.Error()).WithField("expression").Wrap(err))
	}
	return response.Success(c, "OK", parsed, nil)
}
