package logs

import (
	"strings"
	"time"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

const dateLayout = "2006-01-02"

// Handlers serves the audit log listing.
type Handlers struct {
	Service *audit.Service
}

// List GET /api/logs
func (h *Handlers) List(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return response.FromError(c, err)
	}
	rows, err := h.Service.List(c.UserContext(), middleware.CurrentActor(c), f)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", rows, fiber.Map{"count": len(rows)})
}

func parseFilter(c *fiber.Ctx) (audit.Filter, error) {
	var f audit.Filter
	var err error
	if f.EntryID, err = validation.OptionalID("entry", c.Query("entry")); err != nil {
		return f, err
	}
	if f.Year, err = validation.OptionalInt("year", c.Query("year")); err != nil {
		return f, err
	}
	if f.Round, err = validation.OptionalInt("round", c.Query("round")); err != nil {
		return f, err
	}
	if f.OrgID, err = validation.OptionalID("org", c.Query("org")); err != nil {
		return f, err
	}
	if f.StatusCode, err = validation.OptionalInt("status_code", c.Query("status_code")); err != nil {
		return f, err
	}
	limit, err := validation.OptionalInt("limit", c.Query("limit"))
	if err != nil {
		return f, err
	}
	if limit != nil {
		f.Limit = *limit
	}
	if f.From, err = optionalDate("date_from", c.Query("date_from")); err != nil {
		return f, err
	}
	if f.To, err = optionalDate("date_to", c.Query("date_to")); err != nil {
		return f, err
	}
	f.EntryIDs = audit.ParseIntList(c.Query("entry_ids"))
	f.OrgIDs = audit.ParseIntList(c.Query("org_ids"))
	f.LogTypes = upper(audit.ParseCSV(c.Query("log_type")))
	f.Actions = upper(audit.ParseCSV(c.Query("action")))
	f.ResourceType = strings.TrimSpace(c.Query("resource_type"))
	f.ResourceID = strings.TrimSpace(c.Query("resource_id"))
	f.Method = strings.TrimSpace(c.Query("method"))
	f.Actor = strings.TrimSpace(c.Query("actor"))
	f.Status = strings.TrimSpace(c.Query("status"))
	f.Query = strings.TrimSpace(c.Query("q"))
	return f, nil
}

func optionalDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return nil, apperr.Validation("invalid_"+field, field+" must be YYYY-MM-DD").WithField(field)
	}
	return &t, nil
}

func upper(vals []string) []string {
	for i := range vals {
		vals[i] = strings.ToUpper(vals[i])
	}
	return vals
}
