package middleware

import (
	"errors"
	"regexp"
	"strings"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

var (
	auditSkipPrefixes = []string{"/api/logs/", "/api/auth/"}
	auditSkipExact    = map[string]bool{"/api/entries/workflow/": true}
	entryActionPath   = regexp.MustCompile(`^/api/entries/\d+/(submit|approve|reject|reopen|recall|note)/?$`)
)

// AuditTrail writes one audit row for every mutating /api/ request. Workflow and auth
// endpoints are skipped because their services log richer events themselves.
func AuditTrail(w *audit.Writer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		method := strings.ToUpper(c.Method())
		path := c.Path()
		if !shouldAudit(method, path) {
			return err
		}
		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}
		resourceType, resourceID := resourceFromPath(path)
		action := auditAction(method, resourceID)
		logType := domain.LogTypeSystem
		switch action {
		case "CREATE", "UPDATE", "DELETE":
			logType = domain.LogTypeCRUD
		}
		reason := action + " "
		if resourceType == "" {
			reason += "api"
		} else {
			reason += resourceType
		}
		w.Write(c.UserContext(), audit.Event{
			Actor:        CurrentActor(c),
			LogType:      logType,
			Action:       action,
			FromStatus:   "API",
			ToStatus:     action,
			Reason:       reason,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			StatusCode:   &status,
			Metadata:     map[string]interface{}{"ok": status < 400},
			Request:      RequestInfo(c),
		})
		return err
	}
}

func shouldAudit(method, path string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
	default:
		return false
	}
	if !strings.HasPrefix(path, "/api/") {
		return false
	}
	slashed := strings.TrimSuffix(path, "/") + "/"
	for _, p := range auditSkipPrefixes {
		if strings.HasPrefix(slashed, p) {
			return false
		}
	}
	if auditSkipExact[slashed] {
		return false
	}
	return !entryActionPath.MatchString(path)
}

// resourceFromPath reads /api/{resource}/{id}/...; the id is kept only when numeric.
func resourceFromPath(path string) (string, string) {
	var parts []string
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	var resourceType, resourceID string
	if len(parts) > 1 {
		resourceType = parts[1]
	}
	if len(parts) > 2 && isDigits(parts[2]) {
		resourceID = parts[2]
	}
	return resourceType, resourceID
}

func auditAction(method, resourceID string) string {
	switch method {
	case fiber.MethodDelete:
		return "DELETE"
	case fiber.MethodPut, fiber.MethodPatch:
		return "UPDATE"
	case fiber.MethodPost:
		if resourceID == "" {
			return "CREATE"
		}
		return "ACTION"
	}
	return method
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// RequestInfo extracts the audit request fields.
func RequestInfo(c *fiber.Ctx) *audit.RequestInfo {
	return &audit.RequestInfo{
		Method:       c.Method(),
		Path:         c.Path(),
		ForwardedFor: c.Get(fiber.HeaderXForwardedFor),
		RemoteAddr:   c.Context().RemoteIP().String(),
		UserAgent:    c.Get(fiber.HeaderUserAgent),
	}
}

// errorStatus is the status the error handler will send for err.
func errorStatus(err error) int {
	if _, ok := apperr.As(err); ok {
		return apperr.StatusOf(err)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
