package subjects

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupSubjectTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	return &Service{DB: db}, db
}

func seedSubject(t *testing.T, db *gorm.DB, id int64, code string, level int, parent *int64, typ string) {
	require.NoError(t, db.Create(&domain.BudgetSubject{
		ID: id, Code: code, Name: "과목" + code, Level: level, ParentID: parent, SubjectType: typ,
	}).Error)
}

func idp(v int64) *int64 { return &v }

func codesByID(t *testing.T, db *gorm.DB) map[int64]string {
	var subs []domain.BudgetSubject
	require.NoError(t, db.Find(&subs).Error)
	out := map[int64]string{}
	for _, s := range subs {
		out[s.ID] = s.Code
	}
	return out
}

func TestCodeRuleError(t *testing.T) {
	byID := map[int64]*node{
		1: {ID: 1, Code: "1000", Level: 1, SubjectType: "income"},
		2: {ID: 2, Code: "1100", Level: 2, ParentID: idp(1), SubjectType: "income"},
		3: {ID: 3, Code: "1110", Level: 3, ParentID: idp(2), SubjectType: "income"},
	}
	cases := []struct {
		name string
		n    node
		ok   bool
	}{
		{"root ok", node{ID: 9, Code: "A000", Level: 1}, true},
		{"root bad padding", node{ID: 9, Code: "A100", Level: 1}, false},
		{"too short", node{ID: 9, Code: "100", Level: 1}, false},
		{"lowercase normalized", node{ID: 9, Code: "b000", Level: 1}, true},
		{"level2 ok", node{ID: 9, Code: "1B00", Level: 2, ParentID: idp(1)}, true},
		{"level2 prefix", node{ID: 9, Code: "2100", Level: 2, ParentID: idp(1)}, false},
		{"level3 ok", node{ID: 9, Code: "1120", Level: 3, ParentID: idp(2)}, true},
		{"level3 padding", node{ID: 9, Code: "1121", Level: 3, ParentID: idp(2)}, false},
		{"level4 ok", node{ID: 9, Code: "111Z", Level: 4, ParentID: idp(3)}, true},
		{"level4 prefix", node{ID: 9, Code: "1121", Level: 4, ParentID: idp(3)}, false},
		{"missing parent", node{ID: 9, Code: "1200", Level: 2, ParentID: idp(42)}, false},
		{"level out of range", node{ID: 9, Code: "1111", Level: 5, ParentID: idp(3)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := codeRuleError(tc.n, byID)
			if tc.ok {
				assert.Empty(t, msg)
			} else {
				assert.Contains(t, msg, "[9]")
			}
		})
	}
}

func TestBulkUpdateTree_SwapsRootCodes(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "income")
	seedSubject(t, db, 2, "2000", 1, nil, "income")

	res, err := s.BulkUpdateTree(context.Background(), []TreeUpdate{
		{"id": float64(1), "code": "2000"},
		{"id": float64(2), "code": "1000"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedCount)
	assert.Equal(t, map[int64]string{1: "2000", 2: "1000"}, codesByID(t, db))
}

func TestBulkUpdateTree_InvalidRowRollsBackAll(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "income")
	seedSubject(t, db, 2, "2000", 1, nil, "income")
	seedSubject(t, db, 3, "1100", 2, idp(1), "income")

	_, err := s.BulkUpdateTree(context.Background(), []TreeUpdate{
		{"id": float64(1), "code": "2000"},
		{"id": float64(2), "code": "1000"},
		{"id": float64(3), "code": "1200"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "[3]")
	assert.Equal(t, map[int64]string{1: "1000", 2: "2000", 3: "1100"}, codesByID(t, db))
}

func TestBulkUpdateTree_SwapWithChildrenRenamed(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "expense")
	seedSubject(t, db, 2, "2000", 1, nil, "expense")
	seedSubject(t, db, 3, "1100", 2, idp(1), "expense")

	res, err := s.BulkUpdateTree(context.Background(), []TreeUpdate{
		{"id": "1", "code": "2000"},
		{"id": "2", "code": "1000"},
		{"id": "3", "code": "2100"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.UpdatedCount)
	assert.Equal(t, map[int64]string{1: "2000", 2: "1000", 3: "2100"}, codesByID(t, db))
}

func TestBulkUpdateTree_RejectsHierarchyAndCycles(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "income")
	seedSubject(t, db, 2, "1100", 2, idp(1), "income")
	seedSubject(t, db, 3, "6000", 1, nil, "expense")

	_, err := s.BulkUpdateTree(context.Background(), []TreeUpdate{{"id": float64(2), "parent": float64(3), "code": "6100"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject_type must match parent")

	_, err = s.BulkUpdateTree(context.Background(), []TreeUpdate{{"id": float64(1), "parent": float64(1), "level": float64(2)}})
	require.Error(t, err)

	_, err = s.BulkUpdateTree(context.Background(), []TreeUpdate{{"id": float64(99)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown subject id: 99")

	_, err = s.BulkUpdateTree(context.Background(), []TreeUpdate{{"id": float64(2), "code": "1000"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duplicate code")
}

func TestBulkUpdateTree_NoChanges(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "income")
	res, err := s.BulkUpdateTree(context.Background(), []TreeUpdate{{"id": float64(1), "code": "1000"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Empty(t, res.Subjects)
}

func TestCycleFrom(t *testing.T) {
	byID := map[int64]*node{
		1: {ID: 1, ParentID: idp(2)},
		2: {ID: 2, ParentID: idp(1)},
		3: {ID: 3},
	}
	assert.True(t, cycleFrom(1, byID))
	assert.False(t, cycleFrom(3, byID))
}

func TestForceDelete_RefusesLinkedSubtree(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "6000", 1, nil, "expense")
	seedSubject(t, db, 2, "6100", 2, idp(1), "expense")
	seedSubject(t, db, 3, "6110", 3, idp(2), "expense")
	require.NoError(t, db.Create(&domain.BudgetEntry{SubjectID: 3, OrganizationID: 1, Year: 2026, Status: domain.EntryDraft}).Error)

	_, err := s.ForceDelete(context.Background(), 1)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 409, e.Status())
	assert.Equal(t, int64(1), e.Details["linked_entry_count"])

	require.NoError(t, db.Where("subject_id = ?", 3).Delete(&domain.BudgetEntry{}).Error)
	res, err := s.ForceDelete(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.DeletedSubjectsCount)
	assert.Empty(t, codesByID(t, db))
}

func TestCreate_EnforcesHierarchy(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "income")

	_, err := s.Create(context.Background(), Input{Code: "1100", Name: "사업수익", Level: 2, ParentID: idp(1), SubjectType: "income"})
	require.NoError(t, err)

	_, err = s.Create(context.Background(), Input{Code: "1200", Name: "x", Level: 3, ParentID: idp(1), SubjectType: "income"})
	require.Error(t, err)

	_, err = s.Create(context.Background(), Input{Code: "2200", Name: "x", Level: 2, ParentID: idp(1), SubjectType: "income"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "First char")
}

func TestReorder(t *testing.T) {
	s, db := setupSubjectTest(t)
	seedSubject(t, db, 1, "1000", 1, nil, "income")
	seedSubject(t, db, 2, "2000", 1, nil, "income")
	n, err := s.Reorder(context.Background(), []int64{2, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.List(context.Background(), ListFilter{RootsOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].ID)
}

func TestRestoreDefaults_UpsertsAndSkipsReferenced(t *testing.T) {
	s, db := setupSubjectTest(t)
	ctx := context.Background()

	res, err := s.RestoreDefaults(ctx, "income", false)
	require.NoError(t, err)
	assert.Greater(t, res.Created, 0)
	assert.Zero(t, res.Updated)
	assert.Equal(t, int64(res.Created), res.Total)

	var income int64
	db.Model(&domain.BudgetSubject{}).Where("subject_type = ?", "income").Count(&income)
	assert.Equal(t, res.Total, income)

	seedSubject(t, db, 900, "Z000", 1, nil, "income")
	seedSubject(t, db, 901, "Y000", 1, nil, "income")
	require.NoError(t, db.Create(&domain.BudgetEntry{SubjectID: 901, OrganizationID: 1, Year: 2026, Status: domain.EntryDraft}).Error)

	again, err := s.RestoreDefaults(ctx, "income", false)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, res.Created, again.Updated)
	assert.Equal(t, 1, again.Deleted)
	assert.Equal(t, 1, again.Skipped)

	forced, err := s.RestoreDefaults(ctx, "income", true)
	require.NoError(t, err)
	assert.Equal(t, 1, forced.Deleted)
	var entries int64
	db.Model(&domain.BudgetEntry{}).Count(&entries)
	assert.Zero(t, entries)
}

func TestRestoreDefaults_CodesFollowRules(t *testing.T) {
	s, db := setupSubjectTest(t)
	_, err := s.RestoreDefaults(context.Background(), "all", false)
	require.NoError(t, err)

	var subs []domain.BudgetSubject
	require.NoError(t, db.Find(&subs).Error)
	byID := map[int64]*node{}
	for _, sub := range subs {
		sub := sub
		byID[sub.ID] = &node{ID: sub.ID, Code: sub.Code, Level: sub.Level, ParentID: sub.ParentID, SubjectType: sub.SubjectType}
	}
	for _, n := range byID {
		assert.Equal(t, n.Level == 1, n.ParentID == nil, n.Code)
		assert.Empty(t, hierarchyError(*n, byID))
		assert.Empty(t, codeRuleError(*n, byID))
	}
}

func TestRestoreDefaults_InvalidTypeAndOverridePath(t *testing.T) {
	s, _ := setupSubjectTest(t)
	_, err := s.RestoreDefaults(context.Background(), "assets", false)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"expense_budget":{"children":[{"code":"6000","name":"사무비"}]}}`), 0o600))
	s.DefaultsPath = path
	res, err := s.RestoreDefaults(context.Background(), "expense", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	_, err = s.RestoreDefaults(context.Background(), "income", false)
	require.Error(t, err)
}

func TestParseForce(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y"} {
		assert.True(t, ParseForce(v), v)
	}
	assert.False(t, ParseForce("no"))
	assert.False(t, ParseForce(""))
}
