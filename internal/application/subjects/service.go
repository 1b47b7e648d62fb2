package subjects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"gorm.io/gorm"
)

var (
	ErrSubjectNotFound = errors.New("Subject not found")
	ErrSubjectInUse    = errors.New("Cannot delete: this subject is still in use.")
)

// Service owns the budget subject tree.
type Service struct {
	DB *gorm.DB
	// DefaultsPath overrides the embedded canonical tree when set.
	DefaultsPath string
}

// ListFilter narrows List.
type ListFilter struct {
	SubjectType string
	Level       int
	ParentID    *int64
	RootsOnly   bool
}

// Input is the create/update payload of a single subject.
type Input struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Level          int     `json:"level"`
	ParentID       *int64  `json:"parent"`
	SubjectType    string  `json:"subject_type"`
	ERPNextAccount *string `json:"erpnext_account"`
	SortOrder      int     `json:"sort_order"`
}

// DeleteResult reports a force delete.
type DeleteResult struct {
	Status               string `json:"status"`
	DeletedSubjectsCount int    `json:"deleted_subjects_count"`
	DeletedEntriesCount  int    `json:"deleted_entries_count"`
	Message              string `json:"message"`
}

func notFound() error {
	return apperr.NotFound("subject_not_found", ErrSubjectNotFound.Error()).Wrap(ErrSubjectNotFound)
}

// List returns subjects ordered by sort_order then id.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.BudgetSubject, error) {
	q := s.DB.WithContext(ctx).Model(&domain.BudgetSubject{})
	if f.SubjectType != "" {
		q = q.Where("subject_type = ?", f.SubjectType)
	}
	if f.Level > 0 {
		q = q.Where("level = ?", f.Level)
	}
	if f.RootsOnly {
		q = q.Where("parent_id IS NULL")
	} else if f.ParentID != nil {
		q = q.Where("parent_id = ?", *f.ParentID)
	}
	var out []domain.BudgetSubject
	if err := q.Order("sort_order ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one subject.
func (s *Service) Get(ctx context.Context, id int64) (*domain.BudgetSubject, error) {
	var sub domain.BudgetSubject
	if err := s.DB.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, err
	}
	return &sub, nil
}

// Create inserts a subject after hierarchy and code checks.
func (s *Service) Create(ctx context.Context, in Input) (*domain.BudgetSubject, error) {
	sub := &domain.BudgetSubject{
		Code:           NormCode(in.Code),
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Level:          in.Level,
		ParentID:       in.ParentID,
		SubjectType:    strings.ToLower(strings.TrimSpace(in.SubjectType)),
		ERPNextAccount: in.ERPNextAccount,
		SortOrder:      in.SortOrder,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateSingle(tx, sub); err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Update replaces the editable fields of a subject. Structural moves should use BulkUpdateTree.
func (s *Service) Update(ctx context.Context, id int64, in Input) (*domain.BudgetSubject, error) {
	var out domain.BudgetSubject
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound()
			}
			return err
		}
		if in.Code != "" {
			out.Code = NormCode(in.Code)
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			out.Name = name
		}
		out.Description = strings.TrimSpace(in.Description)
		if in.Level > 0 {
			out.Level = in.Level
		}
		out.ParentID = in.ParentID
		if in.SubjectType != "" {
			out.SubjectType = strings.ToLower(strings.TrimSpace(in.SubjectType))
		}
		out.ERPNextAccount = in.ERPNextAccount
		out.SortOrder = in.SortOrder
		if err := validateSingle(tx, &out); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a subject and its descendants unless any entry references the subtree.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := subtreeIDs(tx, id)
		if err != nil {
			return err
		}
		linked, err := linkedEntryCount(tx, ids)
		if err != nil {
			return err
		}
		if linked > 0 {
			return apperr.Validation("subject_in_use", ErrSubjectInUse.Error()).
				WithDetail("details", "Linked budget data exists. Reassign or remove linked data first, then retry.")
		}
		return deleteSubtree(tx, ids)
	})
}

// ForceDelete removes the subject and every descendant. It is refused with a conflict when
// entries reference the subtree; entries themselves are never deleted here.
func (s *Service) ForceDelete(ctx context.Context, id int64) (*DeleteResult, error) {
	var res *DeleteResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := subtreeIDs(tx, id)
		if err != nil {
			return err
		}
		linked, err := linkedEntryCount(tx, ids)
		if err != nil {
			return err
		}
		if linked > 0 {
			return apperr.Conflict("linked_entries_exist",
				fmt.Sprintf("Cannot delete: linked budget entries exist (%d). Remove linked entries first and retry.", linked)).
				WithDetail("linked_entry_count", linked)
		}
		if err := deleteSubtree(tx, ids); err != nil {
			return err
		}
		res = &DeleteResult{
			Status:               "ok",
			DeletedSubjectsCount: len(ids),
			DeletedEntriesCount:  0,
			Message:              fmt.Sprintf("Deleted %d subject(s).", len(ids)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Reorder sets sort_order to each id's position and returns the number of changed rows.
func (s *Service) Reorder(ctx context.Context, orderedIDs []int64) (int, error) {
	if len(orderedIDs) == 0 {
		return 0, apperr.Validation("ordered_ids_required", "ordered_ids array is required.").WithField("ordered_ids")
	}
	updated := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var subs []domain.BudgetSubject
		if err := tx.Where("id IN ?", orderedIDs).Find(&subs).Error; err != nil {
			return err
		}
		current := make(map[int64]int, len(subs))
		for _, sub := range subs {
			current[sub.ID] = sub.SortOrder
		}
		for idx, id := range orderedIDs {
			so, ok := current[id]
			if !ok || so == idx {
				continue
			}
			if err := tx.Model(&domain.BudgetSubject{}).Where("id = ?", id).Update("sort_order", idx).Error; err != nil {
				return err
			}
			current[id] = idx
			updated++
		}
		return nil
	})
	return updated, err
}

// subtreeIDs collects id and its descendants breadth first.
func subtreeIDs(tx *gorm.DB, id int64) ([]int64, error) {
	var root domain.BudgetSubject
	if err := tx.Select("id").First(&root, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, err
	}
	ids := []int64{}
	seen := map[int64]bool{}
	queue := []int64{root.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		ids = append(ids, cur)
		var children []int64
		if err := tx.Model(&domain.BudgetSubject{}).Where("parent_id = ?", cur).Pluck("id", &children).Error; err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}
	return ids, nil
}

func linkedEntryCount(tx *gorm.DB, ids []int64) (int64, error) {
	var n int64
	err := tx.Model(&domain.BudgetEntry{}).Where("subject_id IN ?", ids).Count(&n).Error
	return n, err
}

// deleteSubtree deletes deepest rows first so parent references never dangle.
// Comments keyed to the subjects go with them.
func deleteSubtree(tx *gorm.DB, bfsIDs []int64) error {
	if err := tx.Where("subject_id IN ?", bfsIDs).Delete(&domain.SubmissionComment{}).Error; err != nil {
		return err
	}
	for i := len(bfsIDs) - 1; i >= 0; i-- {
		if err := tx.Delete(&domain.BudgetSubject{}, bfsIDs[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func validateSingle(tx *gorm.DB, sub *domain.BudgetSubject) error {
	if sub.Name == "" {
		return apperr.Validation("name_required", "name is required").WithField("name")
	}
	if !domain.ValidSubjectType(sub.SubjectType) {
		return apperr.Validation("invalid_subject_type", "subject_type must be income or expense").WithField("subject_type")
	}
	byID := map[int64]*node{}
	self := node{ID: sub.ID, Code: sub.Code, Name: sub.Name, Level: sub.Level, ParentID: sub.ParentID, SubjectType: sub.SubjectType}
	if sub.ParentID != nil {
		var parent domain.BudgetSubject
		if err := tx.First(&parent, *sub.ParentID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		} else {
			byID[parent.ID] = &node{ID: parent.ID, Code: parent.Code, Level: parent.Level, ParentID: parent.ParentID, SubjectType: parent.SubjectType}
		}
	}
	byID[self.ID] = &self
	if msg := hierarchyError(self, byID); msg != "" {
		return apperr.Validation("invalid_subject_tree", msg).WithField("parent")
	}
	if msg := codeRuleError(self, byID); msg != "" {
		return apperr.Validation("invalid_code_format", msg).WithField("code")
	}
	var dup int64
	q := tx.Model(&domain.BudgetSubject{}).Where("code = ?", sub.Code)
	if sub.ID != 0 {
		q = q.Where("id <> ?", sub.ID)
	}
	if err := q.Count(&dup).Error; err != nil {
		return err
	}
	if dup > 0 {
		return apperr.Validation("duplicate_code", "Duplicate code: "+sub.Code).WithField("code")
	}
	return nil
}
