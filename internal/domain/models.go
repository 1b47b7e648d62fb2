package domain

// Models lists every persisted type in migration order.
func Models() []interface{} {
	return []interface{}{
		&User{},
		&UserProfile{},
		&Organization{},
		&BudgetSubject{},
		&BudgetVersion{},
		&EntrustedProject{},
		&BudgetEntry{},
		&BudgetDetail{},
		&BudgetExecution{},
		&ApprovalLog{},
		&SubmissionComment{},
		&Notification{},
	}
}
