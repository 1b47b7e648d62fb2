package constants

import rc "ibms-backend/internal/pkg/constants"

// PermissionRoles maps each permission to the roles allowed to perform it.
var PermissionRoles = map[string][]string{
	ViewData:            {rc.Staff, rc.Manager, rc.Admin, rc.OrgViewer},
	WriteBudgetData:     {rc.Staff, rc.Manager, rc.Admin},
	SubmitEntry:         {rc.Staff, rc.Admin},
	ApproveEntry:        {rc.Manager, rc.Admin},
	RejectEntry:         {rc.Manager, rc.Admin},
	RecallEntry:         {rc.Staff, rc.Admin},
	ReopenEntry:         {rc.Admin},
	NoteEntry:           {rc.Staff, rc.Manager, rc.Admin},
	ManageSubjects:      {rc.Manager, rc.Admin},
	RestoreSubjects:     {rc.Manager, rc.Admin},
	ManageOrganizations: {rc.Admin},
	ManageVersions:      {rc.Manager, rc.Admin},
	DeleteVersions:      {rc.Admin},
	ManageProjects:      {rc.Manager, rc.Admin},
	ForceDeleteProject:  {rc.Admin},
	ManageExecutions:    {rc.Manager, rc.Admin},
	UseERP:              {rc.Manager, rc.Admin},
}

// AllowedRole returns true if the (normalized) role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	role = rc.NormalizeRole(role)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
