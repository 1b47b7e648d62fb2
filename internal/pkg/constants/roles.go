package constants

import "strings"

const (
	Staff     = "STAFF"
	Manager   = "MANAGER"
	Admin     = "ADMIN"
	OrgViewer = "ORG_VIEWER"
)

// Legacy role labels still found in older profiles.
const (
	Requestor = "REQUESTOR"
	Reviewer  = "REVIEWER"
)

// ValidRoles is the set of current role values.
var ValidRoles = []string{Staff, Manager, Admin, OrgViewer}

var legacyRoles = map[string]string{
	Requestor: Staff,
	Reviewer:  Manager,
}

// NormalizeRole maps legacy labels to current ones. Empty or unknown roles become STAFF.
func NormalizeRole(role string) string {
	r := strings.ToUpper(strings.TrimSpace(role))
	if mapped, ok := legacyRoles[r]; ok {
		return mapped
	}
	if !IsValidRole(r) {
		return Staff
	}
	return r
}

// IsValidRole returns true if role is one of the current role values.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
