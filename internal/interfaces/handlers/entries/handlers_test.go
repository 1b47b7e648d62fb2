package entries

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ibms-backend/internal/application/audit"
	entrysvc "ibms-backend/internal/application/entries"
	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/constants"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupEntryHandlers(t *testing.T, actor *domain.Actor) (*fiber.App, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "총무과", Code: "D02", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "6000", Name: "인건비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	for _, e := range []struct{ id, org int64 }{{1, 1}, {3, 2}} {
		require.NoError(t, db.Create(&domain.BudgetEntry{
			ID: e.id, SubjectID: 1, OrganizationID: e.org, Year: 2026,
			Status: domain.EntryDraft, BudgetCategory: domain.CategoryOriginal, CarryoverType: domain.CarryoverNone,
		}).Error)
	}

	svc := &entrysvc.Service{
		DB:     db,
		Scopes: &scope.Resolver{DB: db},
		Audit:  &audit.Writer{DB: db},
		Now:    func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}
	h := &Handlers{Service: svc}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetActor(c, actor)
		return c.Next()
	})
	app.Get("/api/entries", h.List)
	app.Post("/api/entries/workflow", h.BulkWorkflow)
	app.Post("/api/entries/:id/submit", h.Transition(entrysvc.ActionSubmit))
	app.Post("/api/entries/:id/reject", h.Transition(entrysvc.ActionReject))
	app.Get("/api/entries/:id", h.Get)
	app.Get("/api/dashboard/summary", h.Dashboard)
	app.Get("/api/executions", h.ListExecutions)
	app.Post("/api/executions", h.CreateExecution)
	app.Delete("/api/executions/:id", h.DeleteExecution)
	return app, db
}

func staff() *domain.Actor {
	org := int64(1)
	return &domain.Actor{UserID: 10, Username: "staff", Role: constants.Staff, OrganizationID: &org}
}

func manager() *domain.Actor {
	org := int64(1)
	return &domain.Actor{UserID: 11, Username: "manager", Role: constants.Manager, OrganizationID: &org}
}

func send(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func detailsOf(out map[string]interface{}) map[string]interface{} {
	e, _ := out["error"].(map[string]interface{})
	d, _ := e["details"].(map[string]interface{})
	return d
}

func TestList_Scoped(t *testing.T) {
	app, _ := setupEntryHandlers(t, staff())
	status, out := send(t, app, "GET", "/api/entries?year=2026", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), out["metadata"].(map[string]interface{})["count"])

	status, _ = send(t, app, "GET", "/api/entries/3", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, out = send(t, app, "GET", "/api/entries?year=abc", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_year", detailsOf(out)["code"])
}

func TestTransition_SubmitWritesOneLog(t *testing.T) {
	app, db := setupEntryHandlers(t, staff())

	status, out := send(t, app, "POST", "/api/entries/1/submit", "")
	assert.Equal(t, fiber.StatusOK, status)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, domain.EntryPending, data["to_status"])

	var logs []domain.ApprovalLog
	require.NoError(t, db.Where("entry_id = ?", 1).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.LogTypeWorkflow, logs[0].LogType)

	status, out = send(t, app, "POST", "/api/entries/1/submit", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_transition", detailsOf(out)["code"])
}

func TestTransition_RejectNeedsManagerAndReason(t *testing.T) {
	app, _ := setupEntryHandlers(t, staff())
	status, _ := send(t, app, "POST", "/api/entries/1/reject", `{"reason":"x"}`)
	assert.Equal(t, fiber.StatusForbidden, status)

	app, db := setupEntryHandlers(t, manager())
	require.NoError(t, db.Model(&domain.BudgetEntry{}).Where("id = ?", 1).Update("status", domain.EntryPending).Error)
	status, out := send(t, app, "POST", "/api/entries/1/reject", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "reason_required", detailsOf(out)["code"])

	status, _ = send(t, app, "POST", "/api/entries/1/reject", `{"reason":"단가 근거 부족"}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestBulkWorkflow_NothingToDo(t *testing.T) {
	app, _ := setupEntryHandlers(t, manager())
	status, out := send(t, app, "POST", "/api/entries/workflow", `{"action":"approve","org_id":1,"year":2026,"round":0}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "error", out["status"])

	status, _ = send(t, app, "POST", "/api/entries/workflow", `{"action":"approve"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestDashboard_RequiresYear(t *testing.T) {
	app, _ := setupEntryHandlers(t, staff())
	status, out := send(t, app, "GET", "/api/dashboard/summary", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "year_required", detailsOf(out)["code"])

	status, out = send(t, app, "GET", "/api/dashboard/summary?year=2026", "")
	assert.Equal(t, fiber.StatusOK, status)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["status_counts"].(map[string]interface{})[domain.EntryDraft])
}

func TestExecutions_CreateUpdatesTotals(t *testing.T) {
	app, db := setupEntryHandlers(t, staff())

	status, out := send(t, app, "POST", "/api/executions", `{"entry":1,"executed_at":"2026-03-01","amount":1500,"description":"집행"}`)
	require.Equal(t, fiber.StatusCreated, status, out)

	var e domain.BudgetEntry
	require.NoError(t, db.First(&e, 1).Error)
	assert.Equal(t, int64(1500), e.ExecutedAmount)
	assert.Equal(t, int64(-1500), e.RemainingAmount)

	status, out = send(t, app, "GET", "/api/executions?entry=1", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, _ = send(t, app, "DELETE", "/api/executions/1", "")
	assert.Equal(t, fiber.StatusForbidden, status)
}
