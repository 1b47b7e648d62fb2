package versions

import (
	"encoding/json"
	"errors"
	"strconv"

	exportsvc "ibms-backend/internal/application/export"
	"ibms-backend/internal/application/scope"
	versionsvc "ibms-backend/internal/application/versions"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Export response headers.
const (
	HeaderRowCount          = "X-Budget-Book-Row-Count"
	HeaderOverrideCount     = "X-Template-Override-Count"
	HeaderWarningCount      = "X-Template-Warning-Count"
	HeaderTemplateWarnings  = "X-Template-Warnings"
	maxWarningHeaderEntries = 20
)

// Handlers serves budget versions and their exports.
type Handlers struct {
	Service *versionsvc.Service
	Exports *exportsvc.Service
	Scopes  *scope.Resolver
}

type idsBody struct {
	IDs    []int64 `json:"ids"`
	Status string  `json:"status"`
	Force  bool    `json:"force"`
}

// List GET /api/versions?year=
func (h *Handlers) List(c *fiber.Ctx) error {
	year, err := validation.OptionalInt("year", c.Query("year"))
	if err != nil {
		return response.FromError(c, err)
	}
	list, err := h.Service.List(c.UserContext(), year)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", list, fiber.Map{"count": len(list)})
}

// Get GET /api/versions/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", v, nil)
}

// Create POST /api/versions
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in versionsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Create(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Version created", v, nil)
}

// Update PATCH|PUT /api/versions/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var in versionsvc.Input
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Update(c.UserContext(), middleware.CurrentActor(c), id, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Version updated", v, nil)
}

// Close POST /api/versions/:id/close
func (h *Handlers) Close(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Close(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Version closed", v, nil)
}

// Reopen POST /api/versions/:id/reopen
func (h *Handlers) Reopen(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Reopen(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Version reopened", v, nil)
}

// BulkUpdateStatus POST /api/versions/bulk-update-status
func (h *Handlers) BulkUpdateStatus(c *fiber.Ctx) error {
	var body idsBody
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.BulkUpdateStatus(c.UserContext(), middleware.CurrentActor(c), body.IDs, body.Status)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Statuses updated", res, nil)
}

// Delete DELETE /api/versions/:id
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Delete(c.UserContext(), middleware.CurrentActor(c), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Version deleted", fiber.Map{"deleted": true}, nil)
}

// ForceDelete DELETE /api/versions/:id/force-delete
func (h *Handlers) ForceDelete(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	n, err := h.Service.ForceDelete(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Version and entries deleted", fiber.Map{"deleted": true, "deleted_entry_count": n}, nil)
}

// BulkDelete POST /api/versions/bulk-delete
func (h *Handlers) BulkDelete(c *fiber.Ctx) error {
	var body idsBody
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.BulkDelete(c.UserContext(), middleware.CurrentActor(c), body.IDs, body.Force)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Versions deleted", res, nil)
}

// CreateNextRound POST /api/versions/create-next-round
func (h *Handlers) CreateNextRound(c *fiber.Ctx) error {
	var in versionsvc.NextRoundInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.CreateNextRound(c.UserContext(), middleware.CurrentActor(c), in)
	if err != nil {
		return response.FromError(c, err)
	}
	if res.Created {
		return response.SuccessCreated(c, "Next round created", res, nil)
	}
	return response.Success(c, "Round already exists", res, nil)
}

// CloneFromPrevious POST /api/versions/:id/clone-from-previous
func (h *Handlers) CloneFromPrevious(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var body struct {
		SourceYear  *int `json:"source_year"`
		SourceRound int  `json:"source_round"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.CloneFromPrevious(c.UserContext(), middleware.CurrentActor(c), id, body.SourceYear, body.SourceRound)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Cloned", res, nil)
}

// Progress GET /api/versions/:id/progress
func (h *Handlers) Progress(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	rows, err := h.Service.Progress(c.UserContext(), middleware.CurrentActor(c), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", rows, fiber.Map{"count": len(rows)})
}

// Export GET /api/versions/:id/export streams the budget book workbook.
func (h *Handlers) Export(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	file, err := h.Exports.BuildBudgetBook(c.UserContext(), &v.BudgetVersion)
	if err != nil {
		return response.FromError(c, err)
	}

	rep := file.Report
	c.Set(HeaderRowCount, strconv.Itoa(rep.RowCount))
	c.Set(HeaderOverrideCount, strconv.Itoa(len(rep.TemplateOverrides)))
	c.Set(HeaderWarningCount, strconv.Itoa(rep.TemplateWarningCount))
	if len(rep.TemplateWarnings) > 0 {
		warnings := rep.TemplateWarnings
		if len(warnings) > maxWarningHeaderEntries {
			warnings = warnings[:maxWarningHeaderEntries]
		}
		if b, err := json.Marshal(warnings); err == nil {
			c.Set(HeaderTemplateWarnings, string(b))
		} else {
			log.Warn().Err(err).Int64("version_id", id).Msg("export: warnings header skipped")
		}
	}
	return sendFile(c, file)
}

// ExportReport GET /api/versions/:id/export-report
func (h *Handlers) ExportReport(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	rep, err := h.Exports.LastReport(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, exportsvc.ErrReportNotFound) {
			return response.Error(c, "No export report for this version", fiber.StatusNotFound, fiber.Map{"code": "report_not_found"})
		}
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", rep, nil)
}

// ExportDepartment GET /api/versions/:id/export-department-budget?org_id=
func (h *Handlers) ExportDepartment(c *fiber.Ctx) error {
	id, err := validation.ID("version_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	orgID, err := validation.OptionalID("org_id", c.Query("org_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	v, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	sc, err := h.Scopes.Resolve(c.UserContext(), middleware.CurrentActor(c))
	if err != nil {
		return response.FromError(c, err)
	}
	var org int64
	if orgID != nil {
		org = *orgID
	}
	file, err := h.Exports.DepartmentBudget(c.UserContext(), sc, &v.BudgetVersion, org)
	if err != nil {
		return response.FromError(c, err)
	}
	return sendFile(c, file)
}

func sendFile(c *fiber.Ctx, file *exportsvc.File) error {
	c.Set(fiber.HeaderContentType, exportsvc.ContentType)
	c.Set(fiber.HeaderContentDisposition, file.Disposition)
	return c.Send(file.Data)
}
