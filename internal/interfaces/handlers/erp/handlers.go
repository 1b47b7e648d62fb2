package erp

import (
	"fmt"

	erpsvc "ibms-backend/internal/application/erp"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves the ERPNext integration endpoints.
type Handlers struct {
	Service *erpsvc.Service
}

// Me GET /api/erpnext/me
func (h *Handlers) Me(c *fiber.Ctx) error {
	out, err := h.Service.Me(c.UserContext(), middleware.CurrentActor(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", out, nil)
}

// SyncBudgets POST /api/erpnext/budgets/sync
// update_existing defaults to true; dry_run returns the payloads without calling ERPNext.
func (h *Handlers) SyncBudgets(c *fiber.Ctx) error {
	body, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	in := erpsvc.SyncInput{
		Company:        str(body["company"]),
		FiscalYear:     str(body["fiscal_year"]),
		BudgetAgainst:  str(body["budget_against"]),
		DryRun:         erpsvc.ParseFlag(body["dry_run"], false),
		UpdateExisting: erpsvc.ParseFlag(body["update_existing"], true),
	}
	year, err := validation.OptionalInt("year", str(body["year"]))
	if err != nil {
		return response.FromError(c, err)
	}
	if year != nil {
		in.Year = *year
	}
	res, err := h.Service.SyncBudgets(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", res, nil)
}

// ClosingVoucher POST /api/erpnext/closing-voucher
func (h *Handlers) ClosingVoucher(c *fiber.Ctx) error {
	body, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	out, err := h.Service.CreateClosingVoucher(c.UserContext(), middleware.CurrentActor(c), body)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Closing voucher created", out, nil)
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
