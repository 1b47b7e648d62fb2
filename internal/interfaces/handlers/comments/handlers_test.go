package comments

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	commentsvc "ibms-backend/internal/application/comments"
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

func setupCommentHandlers(t *testing.T) (*fiber.App, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "6000", Name: "인건비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.BudgetVersion{ID: 1, Year: 2026, Round: 0, Name: "2026년 본예산"}).Error)
	require.NoError(t, db.Create(&domain.BudgetEntry{
		ID: 1, SubjectID: 1, OrganizationID: 1, Year: 2026, Status: domain.EntryPending,
		BudgetCategory: domain.CategoryOriginal, CarryoverType: domain.CarryoverNone,
	}).Error)

	h := &Handlers{Service: &commentsvc.Service{DB: db, Scopes: &scope.Resolver{DB: db}}}
	org := int64(1)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		actor := &domain.Actor{UserID: 11, Role: constants.Manager, OrganizationID: &org}
		if c.Get("X-As") == "staff" {
			actor = &domain.Actor{UserID: 10, Role: constants.Staff, OrganizationID: &org}
		}
		middleware.SetActor(c, actor)
		return c.Next()
	})
	app.Get("/api/comments", h.List)
	app.Post("/api/comments", h.Create)
	app.Patch("/api/comments/:id", h.Update)
	app.Delete("/api/comments/:id", h.Delete)
	return app, db
}

func request(t *testing.T, app *fiber.App, method, path, body, as string) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("X-As", as)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestThread_RequestResolvedByDoneReply(t *testing.T) {
	app, _ := setupCommentHandlers(t)

	status, out := request(t, app, "POST", "/api/comments", `{"entry":1,"comment_type":"request","body":"산출근거 보완 바랍니다"}`, "")
	require.Equal(t, fiber.StatusCreated, status, out)
	parentID := out["data"].(map[string]interface{})["id"].(float64)

	status, out = request(t, app, "GET", "/api/comments?entry=1", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	meta := out["metadata"].(map[string]interface{})
	assert.Equal(t, []interface{}{domain.CommentRequest}, meta["unresolved_types"])
	assert.Equal(t, domain.CommentRequest, meta["latest_comment_type"])

	status, _ = request(t, app, "POST", "/api/comments", fmt.Sprintf(`{"parent":%d,"comment_type":"DONE","body":"보완했습니다"}`, int64(parentID)), "staff")
	require.Equal(t, fiber.StatusCreated, status)

	status, out = request(t, app, "GET", "/api/comments?entry=1", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	meta = out["metadata"].(map[string]interface{})
	assert.Empty(t, meta["unresolved_types"])
	assert.Equal(t, float64(2), meta["count"])

	status, out = request(t, app, "GET", "/api/comments?entry=1&top_level=true", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)
}

func TestUpdateDelete_AuthorOnly(t *testing.T) {
	app, db := setupCommentHandlers(t)
	status, out := request(t, app, "POST", "/api/comments", `{"entry":1,"comment_type":"QUESTION","body":"단가 기준은?"}`, "")
	require.Equal(t, fiber.StatusCreated, status, out)
	id := int64(out["data"].(map[string]interface{})["id"].(float64))
	path := fmt.Sprintf("/api/comments/%d", id)

	status, _ = request(t, app, "PATCH", path, `{"body":"수정"}`, "staff")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, out = request(t, app, "PATCH", path, `{"comment_type":"bogus"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = request(t, app, "DELETE", path, "", "")
	assert.Equal(t, fiber.StatusOK, status)
	var c domain.SubmissionComment
	require.NoError(t, db.First(&c, id).Error)
	assert.True(t, c.IsDeleted)

	status, _ = request(t, app, "DELETE", path, "", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}
