package org

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	orgsvc "ibms-backend/internal/application/org"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/middleware"
	rc "ibms-backend/internal/pkg/constants"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupOrgTest(t *testing.T, role string) (*fiber.App, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	dept := int64(1)
	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept, SortOrder: 1}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "예산팀", Code: "T01", OrgType: domain.OrgTypeTeam, ParentID: &dept}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 3, Name: "총무과", Code: "D02", OrgType: domain.OrgTypeDept, SortOrder: 0}).Error)

	h := &Handlers{Service: &orgsvc.Service{DB: db}}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetActor(c, &domain.Actor{UserID: 1, Role: role})
		return c.Next()
	})
	app.Get("/api/orgs", h.List)
	app.Get("/api/orgs/:id", h.Get)
	manage := middleware.AuthorizePermission(constants.ManageOrganizations)
	app.Post("/api/orgs/reorder", manage, h.Reorder)
	app.Post("/api/orgs", manage, h.Create)
	app.Patch("/api/orgs/:id", manage, h.Update)
	app.Delete("/api/orgs/:id", manage, h.Delete)
	return app, db
}

func readData(t *testing.T, body string) interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out["data"]
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, string) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	b := new(bytes.Buffer)
	_, _ = b.ReadFrom(resp.Body)
	return resp.StatusCode, b.String()
}

func TestList_FiltersByParent(t *testing.T) {
	app, _ := setupOrgTest(t, rc.Staff)

	status, body := do(t, app, "GET", "/api/orgs?parent=null", "")
	assert.Equal(t, fiber.StatusOK, status)
	list := readData(t, body).([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "총무과", list[0].(map[string]interface{})["name"])

	status, body = do(t, app, "GET", "/api/orgs?parent=1", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, readData(t, body), 1)
}

func TestCreate_RequiresAdmin(t *testing.T) {
	app, _ := setupOrgTest(t, rc.Manager)
	status, _ := do(t, app, "POST", "/api/orgs", `{"name":"복지과","code":"D03","org_type":"dept"}`)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestCreate_TeamWithoutParent(t *testing.T) {
	app, _ := setupOrgTest(t, rc.Admin)
	status, body := do(t, app, "POST", "/api/orgs", `{"name":"무소속팀","code":"T09","org_type":"team"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, `"status":"error"`)

	status, _ = do(t, app, "POST", "/api/orgs", `{"name":"복지과","code":"D03","org_type":"dept"}`)
	assert.Equal(t, fiber.StatusCreated, status)
}

func TestDelete_GuardsChildren(t *testing.T) {
	app, db := setupOrgTest(t, rc.Admin)

	status, _ := do(t, app, "DELETE", "/api/orgs/1", "")
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = do(t, app, "DELETE", "/api/orgs/3", "")
	assert.Equal(t, fiber.StatusOK, status)
	var n int64
	require.NoError(t, db.Model(&domain.Organization{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)

	status, _ = do(t, app, "GET", "/api/orgs/3", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestReorder(t *testing.T) {
	app, db := setupOrgTest(t, rc.Admin)

	status, _ := do(t, app, "POST", "/api/orgs/reorder", `{"ordered_ids":[]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := do(t, app, "POST", "/api/orgs/reorder", `{"ordered_ids":[1,3]}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), readData(t, body).(map[string]interface{})["updated"])
	var o domain.Organization
	require.NoError(t, db.First(&o, 3).Error)
	assert.Equal(t, 1, o.SortOrder)
}
