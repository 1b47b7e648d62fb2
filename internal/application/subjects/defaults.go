package subjects

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"ibms-backend/internal/application/entries"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed data/budget_account_system_v1.json
var defaultTree []byte

// RestoreResult reports a restore-defaults run.
type RestoreResult struct {
	Status      string `json:"status"`
	SubjectType string `json:"subject_type"`
	Force       bool   `json:"force"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	Skipped     int    `json:"skipped"`
	Total       int64  `json:"total"`
}

type treeNode struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Children    []treeNode `json:"children"`
}

type treeRoot struct {
	Children []treeNode `json:"children"`
}

type treeFile struct {
	System *struct {
		Income  treeRoot `json:"income_budget"`
		Expense treeRoot `json:"expense_budget"`
	} `json:"budget_account_system"`
	Income  treeRoot `json:"income_budget"`
	Expense treeRoot `json:"expense_budget"`
}

type defaultRecord struct {
	Code        string
	Name        string
	Description string
	Level       int
	ParentCode  string
	SubjectType string
	SortOrder   int
}

// ParseForce accepts 1/true/yes/y in any case.
func ParseForce(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func targetTypes(subjectType string) []string {
	if subjectType == "all" {
		return []string{domain.SubjectIncome, domain.SubjectExpense}
	}
	return []string{subjectType}
}

func (s *Service) loadDefaultRecords(subjectType string) ([]defaultRecord, error) {
	raw := defaultTree
	if s.DefaultsPath != "" {
		b, err := os.ReadFile(s.DefaultsPath)
		if err != nil {
			return nil, fmt.Errorf("default subject file not found: %w", err)
		}
		raw = b
	}
	var f treeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("default subject json parse failed: %w", err)
	}
	income, expense := f.Income, f.Expense
	if f.System != nil {
		income, expense = f.System.Income, f.System.Expense
	}

	wanted := map[string]bool{}
	for _, t := range targetTypes(subjectType) {
		wanted[t] = true
	}

	var records []defaultRecord
	var walk func(n treeNode, typ string, level int, parentCode string, sortOrder int)
	walk = func(n treeNode, typ string, level int, parentCode string, sortOrder int) {
		if !wanted[typ] || level < 1 || level > 4 {
			return
		}
		code := strings.TrimSpace(n.Code)
		name := strings.TrimSpace(n.Name)
		if code == "" || name == "" {
			return
		}
		records = append(records, defaultRecord{
			Code:        code,
			Name:        name,
			Description: strings.TrimSpace(n.Description),
			Level:       level,
			ParentCode:  parentCode,
			SubjectType: typ,
			SortOrder:   sortOrder,
		})
		for i, child := range n.Children {
			walk(child, typ, level+1, code, i)
		}
	}
	for i, n := range income.Children {
		walk(n, domain.SubjectIncome, 1, "", i)
	}
	for i, n := range expense.Children {
		walk(n, domain.SubjectExpense, 1, "", i)
	}
	return records, nil
}

// RestoreDefaults upserts the canonical tree for subjectType (income, expense or all) and removes
// subjects missing from it. Subjects still referenced by entries are reported as skipped.
// With force, entries of the target types are deleted first.
func (s *Service) RestoreDefaults(ctx context.Context, subjectType string, force bool) (*RestoreResult, error) {
	subjectType = strings.ToLower(strings.TrimSpace(subjectType))
	if subjectType != domain.SubjectIncome && subjectType != domain.SubjectExpense && subjectType != "all" {
		return nil, apperr.Validation("invalid_subject_type", "subject_type must be one of income, expense, all").WithField("subject_type")
	}
	records, err := s.loadDefaultRecords(subjectType)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperr.Validation("no_default_records", "no default records found for target type")
	}
	types := targetTypes(subjectType)
	res := &RestoreResult{Status: "ok", SubjectType: subjectType, Force: force}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		typedSubjects := tx.Model(&domain.BudgetSubject{}).Select("id").Where("subject_type IN ?", types)
		if force {
			var ids []int64
			if err := tx.Model(&domain.BudgetEntry{}).Where("subject_id IN (?)", typedSubjects).Pluck("id", &ids).Error; err != nil {
				return err
			}
			if _, err := entries.PurgeEntries(tx, ids); err != nil {
				return err
			}
		}
		var protected []int64
		if err := tx.Model(&domain.BudgetEntry{}).Distinct("subject_id").
			Where("subject_id IN (?)", typedSubjects).Pluck("subject_id", &protected).Error; err != nil {
			return err
		}
		protectedSet := map[int64]bool{}
		for _, id := range protected {
			protectedSet[id] = true
		}

		var existing []domain.BudgetSubject
		if err := tx.Select("id", "code").Find(&existing).Error; err != nil {
			return err
		}
		codeToID := make(map[string]int64, len(existing))
		for _, e := range existing {
			codeToID[e.Code] = e.ID
		}

		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Level != records[j].Level {
				return records[i].Level < records[j].Level
			}
			return records[i].SortOrder < records[j].SortOrder
		})

		incoming := map[string]bool{}
		for _, rec := range records {
			incoming[rec.Code] = true
			var parentID *int64
			if rec.ParentCode != "" {
				if pid, ok := codeToID[rec.ParentCode]; ok {
					parentID = &pid
				}
			}
			sub := domain.BudgetSubject{
				Code:        rec.Code,
				Name:        rec.Name,
				Description: rec.Description,
				Level:       rec.Level,
				ParentID:    parentID,
				SubjectType: rec.SubjectType,
				SortOrder:   rec.SortOrder,
			}
			_, existed := codeToID[rec.Code]
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "description", "level", "parent_id", "subject_type", "sort_order", "updated_at"}),
			}).Create(&sub).Error; err != nil {
				return err
			}
			var saved domain.BudgetSubject
			if err := tx.Select("id").Where("code = ?", rec.Code).First(&saved).Error; err != nil {
				return err
			}
			codeToID[rec.Code] = saved.ID
			if existed {
				res.Updated++
			} else {
				res.Created++
			}
		}

		var stale []domain.BudgetSubject
		if err := tx.Where("subject_type IN ?", types).Order("level DESC").Order("id DESC").Find(&stale).Error; err != nil {
			return err
		}
		for _, sub := range stale {
			if incoming[sub.Code] {
				continue
			}
			if protectedSet[sub.ID] {
				res.Skipped++
				continue
			}
			var children int64
			if err := tx.Model(&domain.BudgetSubject{}).Where("parent_id = ?", sub.ID).Count(&children).Error; err != nil {
				return err
			}
			if children > 0 {
				res.Skipped++
				continue
			}
			if err := tx.Transaction(func(inner *gorm.DB) error {
				return deleteSubtree(inner, []int64{sub.ID})
			}); err != nil {
				log.Warn().Err(err).Int64("subject_id", sub.ID).Msg("stale subject delete failed")
				res.Skipped++
				continue
			}
			res.Deleted++
		}

		return tx.Model(&domain.BudgetSubject{}).Where("subject_type IN ?", types).Count(&res.Total).Error
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("subject_type", subjectType).Bool("force", force).
		Int("created", res.Created).Int("updated", res.Updated).Int("deleted", res.Deleted).Int("skipped", res.Skipped).
		Msg("subject defaults restored")
	return res, nil
}
