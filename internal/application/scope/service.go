package scope

import (
	"context"
	"errors"
	"sort"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/constants"

	"gorm.io/gorm"
)

// Scope is the set of organizations a caller may read or write. Unrestricted wins over OrgIDs.
type Scope struct {
	Unrestricted bool
	orgIDs       map[int64]struct{}
}

// Unrestricted is the ADMIN scope.
func Unrestricted() Scope {
	return Scope{Unrestricted: true}
}

// Of builds a restricted scope from ids.
func Of(ids ...int64) Scope {
	s := Scope{orgIDs: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		if id != 0 {
			s.orgIDs[id] = struct{}{}
		}
	}
	return s
}

// Contains reports whether orgID is visible. A zero id is never in a restricted scope.
func (s Scope) Contains(orgID int64) bool {
	if s.Unrestricted {
		return true
	}
	if orgID == 0 {
		return false
	}
	_, ok := s.orgIDs[orgID]
	return ok
}

// ContainsPtr is Contains for nullable columns.
func (s Scope) ContainsPtr(orgID *int64) bool {
	if orgID == nil {
		return s.Unrestricted
	}
	return s.Contains(*orgID)
}

// Empty reports a restricted scope with no organizations.
func (s Scope) Empty() bool {
	return !s.Unrestricted && len(s.orgIDs) == 0
}

// IDs returns the sorted organization ids; nil when unrestricted.
func (s Scope) IDs() []int64 {
	if s.Unrestricted {
		return nil
	}
	ids := make([]int64, 0, len(s.orgIDs))
	for id := range s.orgIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Apply narrows a query to rows whose column is in scope.
func (s Scope) Apply(q *gorm.DB, column string) *gorm.DB {
	if s.Unrestricted {
		return q
	}
	if len(s.orgIDs) == 0 {
		return q.Where("1 = 0")
	}
	return q.Where(column+" IN ?", s.IDs())
}

// Resolver computes scopes from user profiles and the organization tree.
type Resolver struct {
	DB *gorm.DB
}

// Resolve returns the caller's scope.
// ADMIN is unrestricted; a team assignment is exactly that team; a team-like organization is itself;
// a department covers itself and its direct children; no assignment sees nothing.
func (r *Resolver) Resolve(ctx context.Context, actor *domain.Actor) (Scope, error) {
	if actor == nil {
		return Of(), nil
	}
	if constants.NormalizeRole(actor.Role) == constants.Admin {
		return Unrestricted(), nil
	}
	if actor.TeamID != nil && *actor.TeamID != 0 {
		return Of(*actor.TeamID), nil
	}
	if actor.OrganizationID == nil || *actor.OrganizationID == 0 {
		return Of(), nil
	}

	var org domain.Organization
	err := r.DB.WithContext(ctx).Select("id", "org_type", "parent_id").
		Where("id = ?", *actor.OrganizationID).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Of(), nil
		}
		return Scope{}, err
	}
	if org.IsTeam() {
		return Of(org.ID), nil
	}

	var children []int64
	if err := r.DB.WithContext(ctx).Model(&domain.Organization{}).
		Where("parent_id = ?", org.ID).Pluck("id", &children).Error; err != nil {
		return Scope{}, err
	}
	return Of(append([]int64{org.ID}, children...)...), nil
}

// OrgInScope resolves and checks in one call.
func (r *Resolver) OrgInScope(ctx context.Context, actor *domain.Actor, orgID int64) (bool, error) {
	s, err := r.Resolve(ctx, actor)
	if err != nil {
		return false, err
	}
	return s.Contains(orgID), nil
}
