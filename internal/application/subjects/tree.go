package subjects

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// TreeUpdate is one patch of bulk-update-tree. Only present keys (id, code, name, level, parent) apply.
type TreeUpdate map[string]interface{}

// TreeResult is returned by BulkUpdateTree.
type TreeResult struct {
	UpdatedCount int                    `json:"updated_count"`
	Subjects     []domain.BudgetSubject `json:"subjects"`
}

func treeError(msg string) error {
	return apperr.Validation("invalid_subject_tree", msg)
}

// BulkUpdateTree applies all patches against the final tree state and persists only when every
// hierarchy, cycle, uniqueness and code rule holds. Changed codes detour through temporary
// placeholders so swaps and rotations do not collide on the unique index.
func (s *Service) BulkUpdateTree(ctx context.Context, updates []TreeUpdate) (*TreeResult, error) {
	if len(updates) == 0 {
		return nil, apperr.Validation("updates_required", "updates array is required.").WithField("updates")
	}

	var result *TreeResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var subjects []domain.BudgetSubject
		if err := tx.Order("sort_order ASC").Order("id ASC").Find(&subjects).Error; err != nil {
			return err
		}

		origin := make(map[int64]domain.BudgetSubject, len(subjects))
		final := make(map[int64]*node, len(subjects))
		order := make([]int64, 0, len(subjects))
		for _, sub := range subjects {
			origin[sub.ID] = sub
			final[sub.ID] = &node{
				ID:          sub.ID,
				Code:        NormCode(sub.Code),
				Name:        sub.Name,
				Level:       sub.Level,
				ParentID:    sub.ParentID,
				SubjectType: sub.SubjectType,
			}
			order = append(order, sub.ID)
		}

		for _, row := range updates {
			if err := applyPatch(row, final); err != nil {
				return err
			}
		}

		for _, id := range order {
			if msg := hierarchyError(*final[id], final); msg != "" {
				return treeError(msg)
			}
		}
		for _, id := range order {
			if cycleFrom(id, final) {
				return apperr.Validation("cycle_detected", fmt.Sprintf("Cycle detected. (subject id: %d)", id))
			}
		}
		owners := map[string]int64{}
		for _, id := range order {
			code := NormCode(final[id].Code)
			if owner, ok := owners[code]; ok && owner != id {
				return apperr.Validation("duplicate_code", "Duplicate code: "+code)
			}
			owners[code] = id
		}
		for _, id := range order {
			if msg := codeRuleError(*final[id], final); msg != "" {
				return apperr.Validation("invalid_code_format", msg)
			}
		}

		var changed, codeChanged []int64
		for _, id := range order {
			o, n := origin[id], final[id]
			codeDiff := NormCode(o.Code) != n.Code
			if codeDiff || o.Name != n.Name || o.Level != n.Level || !sameID(o.ParentID, n.ParentID) {
				changed = append(changed, id)
				if codeDiff {
					codeChanged = append(codeChanged, id)
				}
			}
		}
		if len(changed) == 0 {
			result = &TreeResult{UpdatedCount: 0, Subjects: []domain.BudgetSubject{}}
			return nil
		}

		prefix := "TMP" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "_"
		for idx, id := range codeChanged {
			if err := tx.Model(&domain.BudgetSubject{}).Where("id = ?", id).
				Update("code", prefix+strconv.Itoa(idx)).Error; err != nil {
				return err
			}
		}

		updated := make([]domain.BudgetSubject, 0, len(changed))
		for _, id := range changed {
			n := final[id]
			if err := tx.Model(&domain.BudgetSubject{}).Where("id = ?", id).Updates(map[string]interface{}{
				"code":      n.Code,
				"name":      n.Name,
				"level":     n.Level,
				"parent_id": n.ParentID,
			}).Error; err != nil {
				return err
			}
			sub := origin[id]
			sub.Code, sub.Name, sub.Level, sub.ParentID = n.Code, n.Name, n.Level, n.ParentID
			updated = append(updated, sub)
		}
		result = &TreeResult{UpdatedCount: len(updated), Subjects: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("updated_count", result.UpdatedCount).Msg("subject tree updated")
	return result, nil
}

func applyPatch(row TreeUpdate, final map[int64]*node) error {
	rawID, ok := row["id"]
	if !ok {
		return apperr.Validation("id_required", "Each update item requires id.").WithField("id")
	}
	sid, err := toInt64(rawID)
	if err != nil {
		return apperr.Validation("invalid_id", fmt.Sprintf("invalid id: %v", rawID)).WithField("id")
	}
	cur, ok := final[sid]
	if !ok {
		return apperr.Validation("unknown_subject", fmt.Sprintf("Unknown subject id: %d", sid)).WithField("id")
	}

	if v, ok := row["code"]; ok {
		code := NormCode(stringOf(v))
		if code == "" {
			return treeError(fmt.Sprintf("[%d] code cannot be empty.", sid))
		}
		if len(code) > 20 {
			return treeError(fmt.Sprintf("[%d] code cannot exceed 20 chars.", sid))
		}
		cur.Code = code
	}
	if v, ok := row["name"]; ok {
		name := strings.TrimSpace(stringOf(v))
		if name == "" {
			return treeError(fmt.Sprintf("[%d] name cannot be empty.", sid))
		}
		cur.Name = name
	}
	if v, ok := row["level"]; ok {
		lvl, err := toInt64(v)
		if err != nil {
			return treeError(fmt.Sprintf("[%d] invalid level value.", sid))
		}
		cur.Level = int(lvl)
	}
	if v, ok := row["parent"]; ok {
		switch p := v.(type) {
		case nil:
			cur.ParentID = nil
		case string:
			if p == "" || p == "null" || p == "None" {
				cur.ParentID = nil
				break
			}
			id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return treeError(fmt.Sprintf("[%d] invalid parent value.", sid))
			}
			cur.ParentID = &id
		default:
			id, err := toInt64(p)
			if err != nil {
				return treeError(fmt.Sprintf("[%d] invalid parent value.", sid))
			}
			cur.ParentID = &id
		}
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	}
	return 0, fmt.Errorf("unsupported value %T", v)
}

func stringOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
