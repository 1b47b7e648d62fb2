package details

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	detailsvc "ibms-backend/internal/application/details"
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

var seededAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupDetailHandlers(t *testing.T) (*fiber.App, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "6000", Name: "인건비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.BudgetEntry{
		ID: 1, SubjectID: 1, OrganizationID: 1, Year: 2026, Status: domain.EntryDraft,
		BudgetCategory: domain.CategoryOriginal, CarryoverType: domain.CarryoverNone,
	}).Error)
	require.NoError(t, db.Create(&domain.BudgetDetail{
		ID: 1, EntryID: 1, Name: "급여", Price: 1000, Qty: 2, Freq: 3,
		CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF", UpdatedAt: seededAt,
	}).Error)

	h := &Handlers{Service: &detailsvc.Service{DB: db, Scopes: &scope.Resolver{DB: db}}}
	org := int64(1)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetActor(c, &domain.Actor{UserID: 10, Role: constants.Staff, OrganizationID: &org})
		return c.Next()
	})
	app.Post("/api/details/parse-expression", h.ParseExpression)
	app.Get("/api/details", h.List)
	app.Patch("/api/details/:id", h.Update)
	return app, db
}

func patch(t *testing.T, app *fiber.App, path, body, header string) (int, map[string]interface{}) {
	req := httptest.NewRequest("PATCH", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(TokenHeader, header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func errDetails(out map[string]interface{}) map[string]interface{} {
	e, _ := out["error"].(map[string]interface{})
	d, _ := e["details"].(map[string]interface{})
	return d
}

func TestUpdate_TokenRequired(t *testing.T) {
	app, _ := setupDetailHandlers(t)
	status, out := patch(t, app, "/api/details/1", `{"name":"변경"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "updated_at_required", errDetails(out)["code"])
}

func TestUpdate_StaleBodyTokenConflicts(t *testing.T) {
	app, db := setupDetailHandlers(t)
	status, out := patch(t, app, "/api/details/1", `{"name":"변경","_updated_at":"2026-02-01T00:00:00Z"}`, seededAt.Format(time.RFC3339Nano))
	assert.Equal(t, fiber.StatusConflict, status)
	d := errDetails(out)
	assert.Equal(t, detailsvc.ConflictCode, d["code"])
	assert.Equal(t, float64(1), d["detail_id"])

	var row domain.BudgetDetail
	require.NoError(t, db.First(&row, 1).Error)
	assert.Equal(t, "급여", row.Name)
}

func TestUpdate_HeaderTokenAccepted(t *testing.T) {
	app, db := setupDetailHandlers(t)
	status, out := patch(t, app, "/api/details/1", `{"qty":4}`, seededAt.Format(time.RFC3339Nano))
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, float64(12000), out["data"].(map[string]interface{})["total_price"])

	var e domain.BudgetEntry
	require.NoError(t, db.First(&e, 1).Error)
	assert.Equal(t, int64(12000), e.TotalAmount)
}

func TestList_RequiresEntry(t *testing.T) {
	app, _ := setupDetailHandlers(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/details", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/details?entry=1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestParseExpression(t *testing.T) {
	app, _ := setupDetailHandlers(t)
	cases := []struct {
		body   string
		status int
		amount float64
	}{
		{`{"expression":"5만원 x 2 x 12"}`, fiber.StatusOK, 1200000},
		{`{"expression":"50,000 * 3"}`, fiber.StatusBadRequest, 0},
		{`{"expression":""}`, fiber.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("POST", "/api/details/parse-expression", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, tc.body)
		if tc.status == fiber.StatusOK {
			var out map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tc.amount, out["data"].(map[string]interface{})["amount"])
		}
	}
}
