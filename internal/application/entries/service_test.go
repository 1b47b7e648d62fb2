package entries

import (
	"context"
	"testing"
	"time"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/constants"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupEntryTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	deptA := int64(1)
	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "총무과", Code: "D02", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "6000", Name: "인건비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 2, Code: "7000", Name: "운영비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.User{ID: 10, Username: "staff", FirstName: "김직원", PasswordHash: "x"}).Error)
	require.NoError(t, db.Create(&domain.User{ID: 11, Username: "manager", PasswordHash: "x"}).Error)
	require.NoError(t, db.Create(&domain.UserProfile{UserID: 10, OrganizationID: &deptA, Role: constants.Staff}).Error)
	require.NoError(t, db.Create(&domain.UserProfile{UserID: 11, OrganizationID: &deptA, Role: constants.Manager}).Error)

	return &Service{
		DB:     db,
		Scopes: &scope.Resolver{DB: db},
		Audit:  &audit.Writer{DB: db},
		Now:    func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}, db
}

func staffA() *domain.Actor {
	org := int64(1)
	return &domain.Actor{UserID: 10, Username: "staff", Role: constants.Staff, OrganizationID: &org}
}

func managerA() *domain.Actor {
	org := int64(1)
	return &domain.Actor{UserID: 11, Username: "manager", Role: constants.Manager, OrganizationID: &org}
}

func admin() *domain.Actor {
	return &domain.Actor{UserID: 1, Username: "admin", Role: constants.Admin}
}

func seedEntry(t *testing.T, db *gorm.DB, id, subject, org int64, status string) *domain.BudgetEntry {
	e := &domain.BudgetEntry{
		ID: id, SubjectID: subject, OrganizationID: org, Year: 2026, Status: status,
		BudgetCategory: domain.CategoryOriginal, CarryoverType: domain.CarryoverNone,
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

func logCount(t *testing.T, db *gorm.DB, entryID int64) int64 {
	var n int64
	require.NoError(t, db.Model(&domain.ApprovalLog{}).Where("entry_id = ?", entryID).Count(&n).Error)
	return n
}

func TestTransition_ReviewingApprovedByManagerFinalizes(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryReviewing)

	res, err := s.Transition(context.Background(), managerA(), 1, ActionApprove, TransitionInput{})
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Status)
	assert.Equal(t, domain.EntryFinalized, res.ToStatus)

	var logs []domain.ApprovalLog
	require.NoError(t, db.Where("entry_id = ?", 1).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.EntryReviewing, logs[0].FromStatus)
	assert.Equal(t, domain.EntryFinalized, logs[0].ToStatus)
	assert.Equal(t, domain.LogTypeWorkflow, logs[0].LogType)

	var e domain.BudgetEntry
	require.NoError(t, db.First(&e, 1).Error)
	assert.Equal(t, domain.EntryFinalized, e.Status)
}

func TestTransition_RoleAndStateChecks(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryDraft)
	ctx := context.Background()

	_, err := s.Transition(ctx, managerA(), 1, ActionSubmit, TransitionInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	_, err = s.Transition(ctx, managerA(), 1, ActionApprove, TransitionInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindState))
	assert.Equal(t, "Cannot approve in current status", err.Error())

	_, err = s.Transition(ctx, staffA(), 1, ActionRecall, TransitionInput{})
	assert.Equal(t, "Entry is already in DRAFT.", err.Error())

	_, err = s.Transition(ctx, managerA(), 1, ActionNote, TransitionInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	assert.Zero(t, logCount(t, db, 1))
}

func TestTransition_OutOfScopeEntryIsNotFound(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 5, 1, 2, domain.EntryDraft)

	_, err := s.Transition(context.Background(), staffA(), 5, ActionSubmit, TransitionInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = s.Get(context.Background(), staffA(), 5)
	require.Error(t, err)
	assert.Equal(t, 404, apperr.StatusOf(err))
}

func TestTransition_RecallNotifiesOrganization(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryPending)

	res, err := s.Transition(context.Background(), staffA(), 1, ActionRecall, TransitionInput{})
	require.NoError(t, err)
	assert.Equal(t, "recalled", res.Status)
	assert.Equal(t, domain.EntryDraft, res.ToStatus)

	var l domain.ApprovalLog
	require.NoError(t, db.Where("entry_id = ?", 1).First(&l).Error)
	assert.Equal(t, "[Recall] Entry recall", l.Reason)

	var notes []domain.Notification
	require.NoError(t, db.Find(&notes).Error)
	assert.Len(t, notes, 2)
	assert.Equal(t, "Entry recalled: 인건비 (PENDING -> DRAFT)", notes[0].Message)
}

func TestTransition_ReopenTargets(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryFinalized)
	ctx := context.Background()

	_, err := s.Transition(ctx, managerA(), 1, ActionReopen, TransitionInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	_, err = s.Transition(ctx, admin(), 1, ActionReopen, TransitionInput{ToStatus: "PENDING"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	res, err := s.Transition(ctx, admin(), 1, ActionReopen, TransitionInput{ToStatus: "reviewing"})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryReviewing, res.ToStatus)

	var l domain.ApprovalLog
	require.NoError(t, db.Where("entry_id = ?", 1).First(&l).Error)
	assert.Equal(t, "reopen from finalized", l.Reason)
}

func TestTransition_NoteKeepsStatus(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryPending)

	res, err := s.Transition(context.Background(), staffA(), 1, ActionNote, TransitionInput{Reason: "증빙 보완 예정"})
	require.NoError(t, err)
	assert.Equal(t, "logged", res.Status)
	assert.Equal(t, domain.EntryPending, res.FromStatus)
	assert.Equal(t, domain.EntryPending, res.ToStatus)

	var l domain.ApprovalLog
	require.NoError(t, db.Where("entry_id = ?", 1).First(&l).Error)
	assert.Equal(t, "NOTE", l.Action)
}

func TestBulkWorkflow_ApprovePrefersPending(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryPending)
	seedEntry(t, db, 2, 2, 1, domain.EntryReviewing)
	org, year, round := int64(1), 2026, 0

	res, err := s.BulkWorkflow(context.Background(), managerA(), BulkInput{Action: "approve", OrgID: &org, Year: &year, Round: &round})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryPending, res.FromStatus)
	assert.Equal(t, domain.EntryReviewing, res.ToStatus)
	assert.Equal(t, 1, res.UpdatedCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Equal(t, "1 item(s) Approve processed (1 skipped)", res.Message)

	assert.EqualValues(t, 1, logCount(t, db, 1))
	assert.Zero(t, logCount(t, db, 2))

	var l domain.ApprovalLog
	require.NoError(t, db.Where("entry_id = ?", 1).First(&l).Error)
	assert.Equal(t, "Department bulk Approve", l.Reason)
}

func TestBulkWorkflow_Rejections(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryDraft)
	ctx := context.Background()
	org, other, year, round := int64(1), int64(2), 2026, 0

	_, err := s.BulkWorkflow(ctx, managerA(), BulkInput{Action: "archive", OrgID: &org, Year: &year, Round: &round})
	assert.Equal(t, "Invalid action.", err.Error())

	_, err = s.BulkWorkflow(ctx, managerA(), BulkInput{Action: "approve", OrgID: &org})
	assert.Equal(t, "org_id, year, and round are required.", err.Error())

	_, err = s.BulkWorkflow(ctx, staffA(), BulkInput{Action: "submit", OrgID: &other, Year: &year, Round: &round})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	_, err = s.BulkWorkflow(ctx, managerA(), BulkInput{Action: "approve", OrgID: &org, Year: &year, Round: &round})
	assert.Equal(t, "No entries are in approvable status.", err.Error())

	_, err = s.BulkWorkflow(ctx, admin(), BulkInput{Action: "reopen", OrgID: &org, Year: &year, Round: &round})
	assert.True(t, apperr.IsKind(err, apperr.KindState))
	assert.Contains(t, err.Error(), "current statuses: DRAFT")

	_, err = s.BulkWorkflow(ctx, managerA(), BulkInput{Action: "submit", OrgID: &org, Year: &year, Round: &round})
	assert.Equal(t, "No permission to submit. (STAFF/ADMIN only)", err.Error())

	var e domain.BudgetEntry
	require.NoError(t, db.First(&e, 1).Error)
	assert.Equal(t, domain.EntryDraft, e.Status)
}

func TestBulkWorkflow_ReopenToReviewing(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryFinalized)
	seedEntry(t, db, 2, 2, 1, domain.EntryFinalized)
	ctx := context.Background()
	org, year, round := int64(1), 2026, 0

	_, err := s.BulkWorkflow(ctx, admin(), BulkInput{Action: "reopen", OrgID: &org, Year: &year, Round: &round, ToStatus: "PENDING"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, "Invalid target status.", err.Error())

	var e domain.BudgetEntry
	require.NoError(t, db.First(&e, 1).Error)
	assert.Equal(t, domain.EntryFinalized, e.Status)

	res, err := s.BulkWorkflow(ctx, admin(), BulkInput{Action: "reopen", OrgID: &org, Year: &year, Round: &round, ToStatus: "reviewing"})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryFinalized, res.FromStatus)
	assert.Equal(t, domain.EntryReviewing, res.ToStatus)
	assert.Equal(t, 2, res.UpdatedCount)

	var e2 domain.BudgetEntry
	require.NoError(t, db.First(&e2, 2).Error)
	assert.Equal(t, domain.EntryReviewing, e2.Status)
}

func TestBulkWorkflow_ReopenDefaultsToDraft(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryFinalized)
	org, year, round := int64(1), 2026, 0

	res, err := s.BulkWorkflow(context.Background(), admin(), BulkInput{Action: "reopen", OrgID: &org, Year: &year, Round: &round})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryDraft, res.ToStatus)
}

func TestBulkWorkflow_SubmitNotifiesProfiles(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryDraft)
	seedEntry(t, db, 2, 2, 1, domain.EntryDraft)
	org, year, round := int64(1), 2026, 0

	res, err := s.BulkWorkflow(context.Background(), staffA(), BulkInput{Action: "submit", OrgID: &org, Year: &year, Round: &round})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedCount)
	assert.Equal(t, "2 item(s) Submit processed", res.Message)

	var notes []domain.Notification
	require.NoError(t, db.Find(&notes).Error)
	require.Len(t, notes, 2)
	assert.Equal(t, "[기획예산과] Budget Submit processed: 2 item(s) (DRAFT -> PENDING)", notes[0].Message)
}

func TestCreate_ScopeAndUniqueness(t *testing.T) {
	s, _ := setupEntryTest(t)
	ctx := context.Background()

	_, err := s.Create(ctx, staffA(), CreateInput{SubjectID: 1, OrganizationID: 2, Year: 2026})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	e, err := s.Create(ctx, staffA(), CreateInput{SubjectID: 1, OrganizationID: 1, Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryDraft, e.Status)
	assert.Equal(t, domain.CategoryOriginal, e.BudgetCategory)

	_, err = s.Create(ctx, staffA(), CreateInput{SubjectID: 1, OrganizationID: 1, Year: 2026})
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateEntry.Error(), err.Error())
}

func TestUpdate_BaselineImmutableInTransferVersion(t *testing.T) {
	s, db := setupEntryTest(t)
	require.NoError(t, db.Create(&domain.BudgetVersion{Year: 2026, Round: 1, Name: "2026년 1차 추경", Status: domain.VersionDraft, CreationMode: domain.CreationModeTransfer}).Error)
	e := &domain.BudgetEntry{ID: 1, SubjectID: 1, OrganizationID: 1, Year: 2026, SupplementalRound: 1, Status: domain.EntryDraft,
		LastYearAmount: 5000, BudgetCategory: domain.CategorySupplemental, CarryoverType: domain.CarryoverNone}
	require.NoError(t, db.Create(e).Error)
	ctx := context.Background()

	_, err := s.Update(ctx, staffA(), 1, map[string]interface{}{"last_year_amount": float64(7000)})
	require.Error(t, err)
	assert.Equal(t, ErrBaselineLocked.Error(), err.Error())

	updated, err := s.Update(ctx, staffA(), 1, map[string]interface{}{"last_year_amount": float64(5000), "carryover_type": "SPECIFIC"})
	require.NoError(t, err)
	assert.EqualValues(t, 5000, updated.LastYearAmount)
	assert.Equal(t, domain.CarryoverSpecific, updated.CarryoverType)
}

func TestUpdate_BaselineLockedWhenMovedIntoTransferVersion(t *testing.T) {
	s, db := setupEntryTest(t)
	require.NoError(t, db.Create(&domain.BudgetVersion{Year: 2026, Round: 1, Name: "2026년 1차 추경", Status: domain.VersionDraft, CreationMode: domain.CreationModeTransfer}).Error)
	e := seedEntry(t, db, 1, 1, 1, domain.EntryDraft)
	e.LastYearAmount = 5000
	require.NoError(t, db.Save(e).Error)
	ctx := context.Background()

	_, err := s.Update(ctx, staffA(), 1, map[string]interface{}{"supplemental_round": float64(1), "last_year_amount": float64(9000)})
	require.Error(t, err)
	assert.Equal(t, ErrBaselineLocked.Error(), err.Error())

	var stored domain.BudgetEntry
	require.NoError(t, db.First(&stored, 1).Error)
	assert.Equal(t, 0, stored.SupplementalRound)
	assert.EqualValues(t, 5000, stored.LastYearAmount)

	updated, err := s.Update(ctx, staffA(), 1, map[string]interface{}{"last_year_amount": float64(9000)})
	require.NoError(t, err)
	assert.EqualValues(t, 9000, updated.LastYearAmount)
}

func TestDelete_ClosedRoundConflicts(t *testing.T) {
	s, db := setupEntryTest(t)
	require.NoError(t, db.Create(&domain.BudgetVersion{Year: 2026, Round: 0, Name: "2026년 본예산", Status: domain.VersionClosed, CreationMode: domain.CreationModeNew}).Error)
	seedEntry(t, db, 1, 1, 1, domain.EntryDraft)

	err := s.Delete(context.Background(), staffA(), 1)
	require.Error(t, err)
	assert.Equal(t, 409, apperr.StatusOf(err))

	require.NoError(t, db.Model(&domain.BudgetVersion{}).Where("year = ?", 2026).Update("status", domain.VersionDraft).Error)
	require.NoError(t, s.Delete(context.Background(), staffA(), 1))
	var n int64
	require.NoError(t, db.Model(&domain.BudgetEntry{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRecalculateTotals_DetailsAndExecutions(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryDraft)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 1, Name: "급여", Price: 50000, Qty: 3, Freq: 12, CurrencyUnit: "원", Unit: "명", FreqUnit: "월", Source: "SELF"}).Error)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 1, Name: "부담금", Price: 1000000, Qty: 4.5, Freq: 1, IsRate: true, CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)

	_, err := s.CreateExecution(context.Background(), staffA(), ExecutionInput{EntryID: 1, ExecutedAt: "2026-03-01", Amount: 300000, Description: "3월 급여"})
	require.NoError(t, err)

	var e domain.BudgetEntry
	require.NoError(t, db.First(&e, 1).Error)
	assert.EqualValues(t, 1800000+45000, e.TotalAmount)
	assert.EqualValues(t, 300000, e.ExecutedAmount)
	assert.Equal(t, e.TotalAmount-e.ExecutedAmount, e.RemainingAmount)

	var ex domain.BudgetExecution
	require.NoError(t, db.First(&ex).Error)
	err = s.DeleteExecution(context.Background(), staffA(), ex.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))
	require.NoError(t, s.DeleteExecution(context.Background(), managerA(), ex.ID))
	require.NoError(t, db.First(&e, 1).Error)
	assert.Equal(t, e.TotalAmount, e.RemainingAmount)
}

func TestList_ViewsCarryLogMeta(t *testing.T) {
	s, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryDraft)
	seedEntry(t, db, 2, 2, 2, domain.EntryDraft)
	ctx := context.Background()

	_, err := s.Transition(ctx, staffA(), 1, ActionSubmit, TransitionInput{})
	require.NoError(t, err)
	_, err = s.Transition(ctx, managerA(), 1, ActionApprove, TransitionInput{})
	require.NoError(t, err)

	views, err := s.List(ctx, staffA(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "인건비", v.SubjectName)
	assert.Equal(t, "기획예산과", v.OrganizationName)
	require.NotNil(t, v.SubmittedBy)
	assert.EqualValues(t, 10, *v.SubmittedBy)
	assert.Equal(t, "김직원", *v.SubmittedByDisplay)
	require.NotNil(t, v.LatestActionBy)
	assert.EqualValues(t, 11, *v.LatestActionBy)
	assert.Equal(t, "manager", *v.LatestActionByDisplay)
	assert.Empty(t, v.UnresolvedTypes)

	views, err = s.List(ctx, admin(), ListFilter{Org: "D02"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.EqualValues(t, 2, views[0].ID)
}

func TestDashboard_ScopedTotalsAndProgress(t *testing.T) {
	s, db := setupEntryTest(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 3, Code: "1000", Name: "세외수입", Level: 1, SubjectType: domain.SubjectIncome}).Error)
	seedEntry(t, db, 1, 1, 1, domain.EntryFinalized)
	seedEntry(t, db, 2, 3, 1, domain.EntryDraft)
	seedEntry(t, db, 3, 2, 2, domain.EntryPending)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 1, Name: "급여", Price: 1000, Qty: 2, Freq: 3, CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 2, Name: "사용료", Price: 500, Qty: 1, Freq: 1, CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 3, Name: "소모품", Price: 700, Qty: 1, Freq: 1, CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)

	_, err := s.Dashboard(ctx, admin(), nil, 0)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	year := 2026
	all, err := s.Dashboard(ctx, admin(), &year, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), all.TotalIncome)
	assert.Equal(t, int64(6700), all.TotalExpense)
	assert.Equal(t, map[string]int{domain.EntryFinalized: 1, domain.EntryDraft: 1, domain.EntryPending: 1}, all.StatusCounts)
	require.Len(t, all.OrgProgress, 2)
	assert.Equal(t, OrgProgress{ID: 1, Name: "기획예산과", Total: 2, Finalized: 1, Ratio: 50}, all.OrgProgress[0])

	mine, err := s.Dashboard(ctx, staffA(), &year, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), mine.TotalExpense)
	require.Len(t, mine.OrgProgress, 1)

	empty, err := s.Dashboard(ctx, admin(), &year, 1)
	require.NoError(t, err)
	assert.Empty(t, empty.StatusCounts)
	assert.Empty(t, empty.OrgProgress)
}

func TestLogMetas_SubmittedIsFirstSubmission(t *testing.T) {
	_, db := setupEntryTest(t)
	seedEntry(t, db, 1, 1, 1, domain.EntryPending)
	entryID, staff, manager := int64(1), int64(10), int64(11)
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	steps := []struct {
		from, to string
		actor    int64
		at       time.Time
	}{
		{domain.EntryDraft, domain.EntryPending, staff, first},
		{domain.EntryPending, domain.EntryDraft, manager, first.Add(time.Hour)},
		{domain.EntryDraft, domain.EntryPending, manager, first.Add(2 * time.Hour)},
	}
	for _, st := range steps {
		actor := st.actor
		require.NoError(t, db.Create(&domain.ApprovalLog{EntryID: &entryID, ActorID: &actor, FromStatus: st.from,
			ToStatus: st.to, LogType: domain.LogTypeWorkflow, Action: "STATUS_CHANGE", CreatedAt: st.at}).Error)
	}

	metas, err := logMetas(db, []int64{entryID})
	require.NoError(t, err)
	m := metas[entryID]
	require.NotNil(t, m.SubmittedAt)
	assert.True(t, first.Equal(*m.SubmittedAt))
	assert.Equal(t, staff, *m.SubmittedBy)
	assert.Equal(t, "김직원", *m.SubmittedByDisplay)
	require.NotNil(t, m.LatestActionAt)
	assert.True(t, first.Add(2*time.Hour).Equal(*m.LatestActionAt))
	assert.Equal(t, manager, *m.LatestActionBy)
}
