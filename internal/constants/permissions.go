package constants

const (
	ViewData            = "view_data"
	WriteBudgetData     = "write_budget_data"
	SubmitEntry         = "submit_entry"
	ApproveEntry        = "approve_entry"
	RejectEntry         = "reject_entry"
	RecallEntry         = "recall_entry"
	ReopenEntry         = "reopen_entry"
	NoteEntry           = "note_entry"
	ManageSubjects      = "manage_subjects"
	RestoreSubjects     = "restore_subjects"
	ManageOrganizations = "manage_organizations"
	ManageVersions      = "manage_versions"
	DeleteVersions      = "delete_versions"
	ManageProjects      = "manage_projects"
	ForceDeleteProject  = "force_delete_project"
	ManageExecutions    = "manage_executions"
	UseERP              = "use_erp"
)
