package projects

import (
	"context"
	"regexp"
	"testing"
	"time"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/constants"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupProjectTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "Guard Dept", Code: "GD01", OrgType: domain.OrgTypeDept}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "Other Dept", Code: "GD02", OrgType: domain.OrgTypeDept}).Error)
	root := int64(1)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "7100", Name: "Guard Root", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 2, Code: "7110", Name: "Guard Child", Level: 2, ParentID: &root, SubjectType: domain.SubjectExpense}).Error)

	return &Service{
		DB:     db,
		Scopes: &scope.Resolver{DB: db},
		Now:    func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) },
	}, db
}

func admin() *domain.Actor {
	return &domain.Actor{UserID: 1, Username: "admin", Role: constants.Admin}
}

func manager(org int64) *domain.Actor {
	return &domain.Actor{UserID: 2, Username: "manager", Role: constants.Manager, OrganizationID: &org}
}

func seedProject(t *testing.T, db *gorm.DB, id, org int64, code string) {
	require.NoError(t, db.Create(&domain.EntrustedProject{ID: id, OrganizationID: org, Year: 2026, Code: code, Name: "Guard Project", Status: domain.ProjectPlanned}).Error)
}

func TestGenerateCode(t *testing.T) {
	code := GenerateCode(time.UnixMilli(0x19A2B3C4D5E))
	assert.Regexp(t, regexp.MustCompile(`^EP_19A2B3C4D5E_[A-Z0-9]{5}$`), code)
}

func TestCreate_AssignsCodeAndChecksScope(t *testing.T) {
	svc, _ := setupProjectTest(t)
	ctx := context.Background()

	v, err := svc.Create(ctx, manager(1), Input{OrganizationID: 1, Year: 2026, Name: " 청년 지원 "})
	require.NoError(t, err)
	assert.Equal(t, "청년 지원", v.Name)
	assert.Equal(t, domain.ProjectPlanned, v.Status)
	assert.Regexp(t, `^EP_[0-9A-F]+_[A-Z0-9]{5}$`, v.Code)
	assert.Equal(t, "Guard Dept", v.OrganizationName)

	_, err = svc.Create(ctx, manager(1), Input{OrganizationID: 2, Year: 2026, Name: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	staff := &domain.Actor{UserID: 3, Role: constants.Staff}
	_, err = svc.Create(ctx, staff, Input{OrganizationID: 1, Year: 2026, Name: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	_, err = svc.Create(ctx, admin(), Input{OrganizationID: 1, Year: 2026, Name: "x", Status: "DONE"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestDelete_KeepsSubjectsUnchanged(t *testing.T) {
	svc, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_GUARD_001")

	require.NoError(t, svc.Delete(context.Background(), admin(), 1))

	var ids []int64
	require.NoError(t, db.Model(&domain.BudgetSubject{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []int64{1, 2}, ids)
	var n int64
	db.Model(&domain.EntrustedProject{}).Count(&n)
	assert.Zero(t, n)
}

func TestDelete_BlockedByLinkedEntries(t *testing.T) {
	svc, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_GUARD_002")
	pid := int64(1)
	require.NoError(t, db.Create(&domain.BudgetEntry{ID: 1, SubjectID: 2, OrganizationID: 1, EntrustedProjectID: &pid, Year: 2026}).Error)

	err := svc.Delete(context.Background(), admin(), 1)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, e.Kind)
	assert.Equal(t, int64(1), e.Details["entry_count"])
	assert.Equal(t, true, e.Details["can_force"])

	var n int64
	db.Model(&domain.EntrustedProject{}).Where("id = 1").Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestForceDelete_AdminOnlyAndPurgesEntries(t *testing.T) {
	svc, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_GUARD_003")
	pid := int64(1)
	require.NoError(t, db.Create(&domain.BudgetEntry{ID: 1, SubjectID: 2, OrganizationID: 1, EntrustedProjectID: &pid, Year: 2026}).Error)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 1, Name: "a", Price: 10, Qty: 1, Freq: 1, CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)

	_, err := svc.ForceDelete(context.Background(), manager(1), 1)
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	n, err := svc.ForceDelete(context.Background(), admin(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int64
	db.Model(&domain.BudgetDetail{}).Count(&count)
	assert.Zero(t, count)
	db.Model(&domain.BudgetSubject{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestGuardSubjects_RollsBackOnDrift(t *testing.T) {
	_, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_GUARD_004")

	err := db.Transaction(func(tx *gorm.DB) error {
		return GuardSubjects(tx, 1, func(tx *gorm.DB) error {
			if err := tx.Delete(&domain.BudgetSubject{}, 2).Error; err != nil {
				return err
			}
			return tx.Delete(&domain.EntrustedProject{}, 1).Error
		})
	})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "subject_drift", e.Code)
	assert.Equal(t, 1, e.Details["removed_subject_count"])

	var n int64
	db.Model(&domain.BudgetSubject{}).Count(&n)
	assert.Equal(t, int64(2), n)
	db.Model(&domain.EntrustedProject{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestClone_CopiesEntriesWithBaseline(t *testing.T) {
	svc, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_SRC")
	pid := int64(1)
	require.NoError(t, db.Create(&domain.BudgetEntry{ID: 1, SubjectID: 2, OrganizationID: 1, EntrustedProjectID: &pid, Year: 2026,
		Status: domain.EntryFinalized, TotalAmount: 3000, RemainingAmount: 3000}).Error)
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 1, Name: "a", Price: 1000, Qty: 3, Freq: 1, CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)

	v, err := svc.Clone(context.Background(), manager(1), 1, CloneInput{Year: 2027, Name: "청년 지원 2027"})
	require.NoError(t, err)
	assert.Equal(t, 2027, v.Year)
	require.NotNil(t, v.SourceProjectName)
	assert.Equal(t, "[2026] Guard Project", *v.SourceProjectName)
	assert.Equal(t, int64(3000), v.TotalBudget)

	var cloned domain.BudgetEntry
	require.NoError(t, db.Where("entrusted_project_id = ?", v.ID).First(&cloned).Error)
	assert.Equal(t, domain.EntryDraft, cloned.Status)
	assert.Equal(t, int64(3000), cloned.LastYearAmount)
	assert.Equal(t, 0, cloned.SupplementalRound)

	src, err := svc.Get(context.Background(), admin(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.DerivedCount)
}

func TestClone_Validation(t *testing.T) {
	svc, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_SRC")
	ctx := context.Background()

	_, err := svc.Clone(ctx, manager(1), 1, CloneInput{Year: 2027})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	other := int64(2)
	_, err = svc.Clone(ctx, manager(1), 1, CloneInput{Year: 2027, Name: "x", OrganizationID: &other})
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))

	_, err = svc.Clone(ctx, manager(2), 1, CloneInput{Year: 2027, Name: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestList_Filters(t *testing.T) {
	svc, db := setupProjectTest(t)
	seedProject(t, db, 1, 1, "EP_A")
	require.NoError(t, db.Create(&domain.EntrustedProject{ID: 2, OrganizationID: 2, Year: 2025, Code: "EP_B", Name: "Bridge Repair", Status: domain.ProjectActive}).Error)
	ctx := context.Background()

	rows, err := svc.List(ctx, admin(), ListFilter{Org: "GD02"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)

	rows, err = svc.List(ctx, admin(), ListFilter{Query: "bridge"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = svc.List(ctx, manager(1), ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].ID)
}
