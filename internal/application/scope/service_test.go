package scope

import (
	"context"
	"testing"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/constants"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupScopeTest(t *testing.T) (*Resolver, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Organization{}))

	dept := domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept}
	require.NoError(t, db.Create(&dept).Error)
	parent := dept.ID
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "예산팀", Code: "T01", OrgType: domain.OrgTypeTeam, ParentID: &parent}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 3, Name: "회계팀", Code: "T02", OrgType: domain.OrgTypeTeam, ParentID: &parent}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 4, Name: "총무과", Code: "D02", OrgType: domain.OrgTypeDept}).Error)
	return &Resolver{DB: db}, db
}

func ptr(v int64) *int64 { return &v }

func TestResolve_AdminIsUnrestricted(t *testing.T) {
	r, _ := setupScopeTest(t)
	s, err := r.Resolve(context.Background(), &domain.Actor{UserID: 1, Role: constants.Admin})
	require.NoError(t, err)
	assert.True(t, s.Unrestricted)
	assert.True(t, s.Contains(4))
	assert.Nil(t, s.IDs())
}

func TestResolve_TeamAssignmentIsSingleTeam(t *testing.T) {
	r, _ := setupScopeTest(t)
	s, err := r.Resolve(context.Background(), &domain.Actor{UserID: 2, Role: constants.Staff, OrganizationID: ptr(1), TeamID: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, s.IDs())
	assert.False(t, s.Contains(1))
}

func TestResolve_DepartmentIncludesChildTeams(t *testing.T) {
	r, _ := setupScopeTest(t)
	s, err := r.Resolve(context.Background(), &domain.Actor{UserID: 3, Role: constants.Manager, OrganizationID: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, s.IDs())
	assert.False(t, s.Contains(4))
	assert.False(t, s.Contains(0))
}

func TestResolve_OrganizationThatIsTeam(t *testing.T) {
	r, _ := setupScopeTest(t)
	s, err := r.Resolve(context.Background(), &domain.Actor{UserID: 4, Role: constants.Reviewer, OrganizationID: ptr(3)})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, s.IDs())
}

func TestResolve_NoAssignmentIsEmpty(t *testing.T) {
	r, db := setupScopeTest(t)
	s, err := r.Resolve(context.Background(), &domain.Actor{UserID: 5, Role: constants.Staff})
	require.NoError(t, err)
	assert.True(t, s.Empty())

	var n int64
	require.NoError(t, s.Apply(db.Model(&domain.Organization{}), "id").Count(&n).Error)
	assert.Zero(t, n)
}

func TestResolve_UnknownOrganizationIsEmpty(t *testing.T) {
	r, _ := setupScopeTest(t)
	s, err := r.Resolve(context.Background(), &domain.Actor{UserID: 6, Role: constants.Staff, OrganizationID: ptr(99)})
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestScope_ApplyFiltersByColumn(t *testing.T) {
	_, db := setupScopeTest(t)
	var ids []int64
	require.NoError(t, Of(1, 4).Apply(db.Model(&domain.Organization{}), "id").Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []int64{1, 4}, ids)

	ids = nil
	require.NoError(t, Unrestricted().Apply(db.Model(&domain.Organization{}), "id").Order("id").Pluck("id", &ids).Error)
	assert.Len(t, ids, 4)
}
