package versions

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	exportsvc "ibms-backend/internal/application/export"
	"ibms-backend/internal/application/scope"
	versionsvc "ibms-backend/internal/application/versions"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/constants"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupVersionHandlers(t *testing.T) (*Handlers, *gorm.DB, *miniredis.Miniredis) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	dept1 := int64(1)
	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept, SortOrder: 1}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "총무과", Code: "D02", OrgType: domain.OrgTypeDept, SortOrder: 2}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 3, Name: "예산팀", Code: "T01", OrgType: domain.OrgTypeTeam, ParentID: &dept1}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "6000", Name: "인건비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.BudgetEntry{ID: 1, SubjectID: 1, OrganizationID: 1, Year: 2026, Status: domain.EntryFinalized,
		TotalAmount: 120000, BudgetCategory: domain.CategoryOriginal, CarryoverType: domain.CarryoverNone}).Error)
	require.NoError(t, db.Create(&domain.BudgetVersion{ID: 7, Year: 2026, Round: 0, Name: "2026년 본예산",
		Status: domain.VersionDraft, CreationMode: domain.CreationModeNew}).Error)

	now := func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	resolver := &scope.Resolver{DB: db}
	return &Handlers{
		Service: &versionsvc.Service{DB: db, Scopes: resolver, Now: now},
		Exports: &exportsvc.Service{DB: db, Cache: &exportsvc.ReportCache{RDB: rdb}, Now: now},
		Scopes:  resolver,
	}, db, mr
}

func as(actor *domain.Actor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		middleware.SetActor(c, actor)
		return c.Next()
	}
}

func managerOf(org int64) *domain.Actor {
	return &domain.Actor{UserID: 11, Role: constants.Manager, OrganizationID: &org}
}

func adminActor() *domain.Actor {
	return &domain.Actor{UserID: 1, Role: constants.Admin}
}

func decode(t *testing.T, r io.Reader) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestListAndGet(t *testing.T) {
	h, _, _ := setupVersionHandlers(t)
	app := fiber.New()
	app.Get("/versions", as(adminActor()), h.List)
	app.Get("/versions/:id", as(adminActor()), h.Get)

	resp, err := app.Test(httptest.NewRequest("GET", "/versions?year=2026", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, float64(1), out["metadata"].(map[string]interface{})["count"])

	resp, err = app.Test(httptest.NewRequest("GET", "/versions?year=abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/versions/99", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/versions/7", nil))
	require.NoError(t, err)
	out = decode(t, resp.Body)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, domain.VersionDraft, data["computed_status"])
}

func TestCreateNextRound_CreatedThenExisting(t *testing.T) {
	h, _, _ := setupVersionHandlers(t)
	app := fiber.New()
	app.Post("/versions/create-next-round", as(managerOf(1)), h.CreateNextRound)

	post := func() int {
		req := httptest.NewRequest("POST", "/versions/create-next-round", strings.NewReader(`{"year": 2027}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}
	assert.Equal(t, fiber.StatusCreated, post())
	assert.Equal(t, fiber.StatusOK, post())
}

func TestBulkDelete_AdminOnly(t *testing.T) {
	h, db, _ := setupVersionHandlers(t)
	app := fiber.New()
	app.Post("/manager/bulk-delete", as(managerOf(1)), h.BulkDelete)
	app.Post("/bulk-delete", as(adminActor()), h.BulkDelete)

	body := `{"ids": [7], "force": true}`
	req := httptest.NewRequest("POST", "/manager/bulk-delete", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("POST", "/bulk-delete", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var n int64
	require.NoError(t, db.Model(&domain.BudgetVersion{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestExport_HeadersAndReport(t *testing.T) {
	h, _, mr := setupVersionHandlers(t)
	app := fiber.New()
	app.Get("/versions/:id/export", as(adminActor()), h.Export)
	app.Get("/versions/:id/export-report", as(adminActor()), h.ExportReport)

	resp, err := app.Test(httptest.NewRequest("GET", "/versions/7/export-report", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/versions/7/export", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, exportsvc.ContentType, resp.Header.Get(fiber.HeaderContentType))
	assert.True(t, strings.HasPrefix(resp.Header.Get(fiber.HeaderContentDisposition), "attachment; filename=budget_book_2026.xlsx"))
	assert.Equal(t, "1", resp.Header.Get(HeaderRowCount))

	warnings, err := strconv.Atoi(resp.Header.Get(HeaderWarningCount))
	require.NoError(t, err)
	assert.Greater(t, warnings, 0)
	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get(HeaderTemplateWarnings)), &listed))
	assert.NotEmpty(t, listed)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "PK"))
	assert.True(t, mr.Exists("export:report:7"))

	resp, err = app.Test(httptest.NewRequest("GET", "/versions/7/export-report", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, float64(1), out["data"].(map[string]interface{})["row_count"])
}

func TestExportDepartment_Scoped(t *testing.T) {
	h, _, _ := setupVersionHandlers(t)
	app := fiber.New()
	app.Get("/m1/:id", as(managerOf(1)), h.ExportDepartment)
	app.Get("/m2/:id", as(managerOf(2)), h.ExportDepartment)

	resp, err := app.Test(httptest.NewRequest("GET", "/m1/7", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/m1/7?org_id=1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, exportsvc.ContentType, resp.Header.Get(fiber.HeaderContentType))

	resp, err = app.Test(httptest.NewRequest("GET", "/m2/7?org_id=1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
