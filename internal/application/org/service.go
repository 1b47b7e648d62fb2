package org

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"gorm.io/gorm"
)

var (
	ErrOrgNotFound      = errors.New("Organization not found")
	ErrHasChildren      = errors.New("Cannot delete organization with child organizations. Delete children first.")
	ErrHasBudgetData    = errors.New("Cannot delete organization with linked budget data.")
	ErrOrderedIDsNeeded = errors.New("ordered_ids array is required.")
)

// Service encapsulates organization operations. Callers gate writes to ADMIN.
type Service struct {
	DB *gorm.DB
}

// ListFilter mirrors the list query parameters.
type ListFilter struct {
	OrgType string
	Parent  string
	Query   string
}

// CreateInput is the organization create payload.
type CreateInput struct {
	Name              string  `json:"name"`
	Code              string  `json:"code"`
	OrgType           string  `json:"org_type"`
	ParentID          *int64  `json:"parent"`
	ERPNextCostCenter *string `json:"erpnext_cost_center"`
	SortOrder         int     `json:"sort_order"`
}

// List returns organizations ordered by sort_order then id.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Organization, error) {
	q := s.DB.WithContext(ctx).Model(&domain.Organization{})
	if f.OrgType != "" {
		q = q.Where("org_type = ?", f.OrgType)
	}
	switch p := strings.ToLower(strings.TrimSpace(f.Parent)); {
	case f.Parent == "":
	case p == "null" || p == "none":
		q = q.Where("parent_id IS NULL")
	default:
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			q = q.Where("parent_id = ?", id)
		}
	}
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", like, like)
	}
	var out []domain.Organization
	if err := q.Order("sort_order ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one organization.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Organization, error) {
	var o domain.Organization
	if err := s.DB.WithContext(ctx).First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("org_not_found", ErrOrgNotFound.Error()).Wrap(ErrOrgNotFound)
		}
		return nil, err
	}
	return &o, nil
}

// Create validates hierarchy rules and inserts the organization.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Organization, error) {
	o := &domain.Organization{
		Name:              strings.TrimSpace(in.Name),
		Code:              strings.TrimSpace(in.Code),
		OrgType:           strings.ToLower(strings.TrimSpace(in.OrgType)),
		ParentID:          in.ParentID,
		ERPNextCostCenter: in.ERPNextCostCenter,
		SortOrder:         in.SortOrder,
	}
	if o.OrgType == "" {
		o.OrgType = domain.OrgTypeDept
	}
	if err := s.validate(ctx, s.DB.WithContext(ctx), o); err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

// Update applies the allowed fields and re-validates the result.
func (s *Service) Update(ctx context.Context, id int64, fields map[string]interface{}) (*domain.Organization, error) {
	allowed := map[string]string{
		"name":                "name",
		"code":                "code",
		"org_type":            "org_type",
		"parent":              "parent_id",
		"erpnext_cost_center": "erpnext_cost_center",
		"sort_order":          "sort_order",
	}

	var out *domain.Organization
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o domain.Organization
		if err := tx.First(&o, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("org_not_found", ErrOrgNotFound.Error())
			}
			return err
		}
		valid := map[string]interface{}{}
		for k, v := range fields {
			col, ok := allowed[k]
			if !ok {
				continue
			}
			valid[col] = v
		}
		if len(valid) == 0 {
			return apperr.Validation("no_fields", "No valid fields to update")
		}
		if err := applyFields(&o, valid); err != nil {
			return err
		}
		if err := s.validate(ctx, tx, &o); err != nil {
			return err
		}
		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		out = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete refuses when children or linked entries exist.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o domain.Organization
		if err := tx.First(&o, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("org_not_found", ErrOrgNotFound.Error())
			}
			return err
		}
		var n int64
		if err := tx.Model(&domain.Organization{}).Where("parent_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("org_has_children", ErrHasChildren.Error())
		}
		if err := tx.Model(&domain.BudgetEntry{}).Where("organization_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("org_has_budget_data", ErrHasBudgetData.Error())
		}
		return tx.Delete(&o).Error
	})
}

// Reorder sets sort_order to the position of each id in orderedIDs and returns how many rows changed.
func (s *Service) Reorder(ctx context.Context, orderedIDs []int64) (int, error) {
	if len(orderedIDs) == 0 {
		return 0, apperr.Validation("ordered_ids_required", ErrOrderedIDsNeeded.Error()).WithField("ordered_ids")
	}
	updated := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var orgs []domain.Organization
		if err := tx.Where("id IN ?", orderedIDs).Find(&orgs).Error; err != nil {
			return err
		}
		byID := make(map[int64]*domain.Organization, len(orgs))
		for i := range orgs {
			byID[orgs[i].ID] = &orgs[i]
		}
		for idx, id := range orderedIDs {
			o, ok := byID[id]
			if !ok || o.SortOrder == idx {
				continue
			}
			if err := tx.Model(o).Update("sort_order", idx).Error; err != nil {
				return err
			}
			o.SortOrder = idx
			updated++
		}
		return nil
	})
	return updated, err
}

func (s *Service) validate(ctx context.Context, db *gorm.DB, o *domain.Organization) error {
	if o.Name == "" {
		return apperr.Validation("name_required", "name is required").WithField("name")
	}
	if o.Code == "" {
		return apperr.Validation("code_required", "code is required").WithField("code")
	}
	if o.OrgType != domain.OrgTypeDept && o.OrgType != domain.OrgTypeTeam {
		return apperr.Validation("invalid_org_type", "org_type must be dept or team").WithField("org_type")
	}
	if o.OrgType == domain.OrgTypeTeam && o.ParentID == nil {
		return apperr.Validation("team_parent_required", "A team requires a parent organization.").WithField("parent")
	}
	var dup int64
	q := db.Model(&domain.Organization{}).Where("code = ?", o.Code)
	if o.ID != 0 {
		q = q.Where("id <> ?", o.ID)
	}
	if err := q.Count(&dup).Error; err != nil {
		return err
	}
	if dup > 0 {
		return apperr.Validation("duplicate_code", "organization with this code already exists.").WithField("code")
	}
	if o.ParentID == nil {
		return nil
	}
	if o.ID != 0 && *o.ParentID == o.ID {
		return apperr.Validation("invalid_parent", "cannot set self as parent.").WithField("parent")
	}
	var parent domain.Organization
	if err := db.First(&parent, *o.ParentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Validation("parent_not_found", "parent organization does not exist.").WithField("parent")
		}
		return err
	}
	if parent.IsTeam() {
		return apperr.Validation("invalid_parent", "a team cannot own other organizations.").WithField("parent")
	}
	return nil
}

func applyFields(o *domain.Organization, valid map[string]interface{}) error {
	for col, v := range valid {
		switch col {
		case "name":
			s, _ := v.(string)
			o.Name = strings.TrimSpace(s)
		case "code":
			s, _ := v.(string)
			o.Code = strings.TrimSpace(s)
		case "org_type":
			s, _ := v.(string)
			o.OrgType = strings.ToLower(strings.TrimSpace(s))
		case "parent_id":
			id, err := optionalID(v)
			if err != nil {
				return apperr.Validation("invalid_parent", "invalid parent value.").WithField("parent")
			}
			o.ParentID = id
		case "erpnext_cost_center":
			if v == nil {
				o.ERPNextCostCenter = nil
				continue
			}
			s, _ := v.(string)
			o.ERPNextCostCenter = &s
		case "sort_order":
			f, ok := v.(float64)
			if !ok {
				return apperr.Validation("invalid_sort_order", "sort_order must be a number.").WithField("sort_order")
			}
			o.SortOrder = int(f)
		}
	}
	return nil
}

// optionalID reads a nullable id from decoded JSON.
func optionalID(v interface{}) (*int64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		id := int64(t)
		return &id, nil
	case string:
		if t == "" || strings.EqualFold(t, "null") {
			return nil, nil
		}
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}
	return nil, errors.New("unsupported id value")
}
