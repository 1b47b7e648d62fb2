package entries

import (
	"context"
	"errors"
	"strings"
	"time"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"gorm.io/gorm"
)

// ExecutionInput is the create/update payload of a spending record.
type ExecutionInput struct {
	EntryID     int64   `json:"entry"`
	ExecutedAt  string  `json:"executed_at"`
	Amount      int64   `json:"amount"`
	Description string  `json:"description"`
	DocumentNo  *string `json:"document_no"`
}

func (in ExecutionInput) validate() (time.Time, error) {
	at, err := time.Parse("2006-01-02", strings.TrimSpace(in.ExecutedAt))
	if err != nil {
		return time.Time{}, apperr.Validation("invalid_executed_at", "executed_at must be YYYY-MM-DD.").WithField("executed_at")
	}
	if in.Amount < 0 {
		return time.Time{}, apperr.Validation("invalid_amount", "amount must be zero or positive.").WithField("amount")
	}
	if strings.TrimSpace(in.Description) == "" {
		return time.Time{}, apperr.Validation("description_required", "description is required.").WithField("description")
	}
	return at, nil
}

// ListExecutions returns the executions of entries in scope, optionally for one entry.
func (s *Service) ListExecutions(ctx context.Context, actor *domain.Actor, entryID *int64) ([]domain.BudgetExecution, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	visible := sc.Apply(db.Model(&domain.BudgetEntry{}).Select("id"), "organization_id")
	q := db.Where("entry_id IN (?)", visible)
	if entryID != nil {
		q = q.Where("entry_id = ?", *entryID)
	}
	var out []domain.BudgetExecution
	if err := q.Order("executed_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateExecution records spending against an entry and recomputes its totals.
func (s *Service) CreateExecution(ctx context.Context, actor *domain.Actor, in ExecutionInput) (*domain.BudgetExecution, error) {
	if err := requireWriter(actor); err != nil {
		return nil, err
	}
	at, err := in.validate()
	if err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	row := &domain.BudgetExecution{
		EntryID:     in.EntryID,
		ExecutedAt:  at,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		DocumentNo:  in.DocumentNo,
		CreatedByID: actor.UserID,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := loadScoped(tx, sc, in.EntryID, true)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return apperr.Permission("entry_out_of_scope", "No permission to record execution for this entry.").WithField("entry")
			}
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return RecalculateTotals(tx, e.ID)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateExecution edits a spending record; MANAGER and ADMIN only.
func (s *Service) UpdateExecution(ctx context.Context, actor *domain.Actor, id int64, in ExecutionInput) (*domain.BudgetExecution, error) {
	if actor == nil || !constants.AllowedRole(constants.ManageExecutions, actor.Role) {
		return nil, apperr.Permission("role_not_allowed", "No permission to modify executions. (MANAGER/ADMIN only)")
	}
	at, err := in.validate()
	if err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	var row domain.BudgetExecution
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadExecution(tx, sc, id, &row); err != nil {
			return err
		}
		row.ExecutedAt = at
		row.Amount = in.Amount
		row.Description = strings.TrimSpace(in.Description)
		row.DocumentNo = in.DocumentNo
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return RecalculateTotals(tx, row.EntryID)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteExecution removes a spending record; MANAGER and ADMIN only.
func (s *Service) DeleteExecution(ctx context.Context, actor *domain.Actor, id int64) error {
	if actor == nil || !constants.AllowedRole(constants.ManageExecutions, actor.Role) {
		return apperr.Permission("role_not_allowed", "No permission to modify executions. (MANAGER/ADMIN only)")
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.BudgetExecution
		if err := loadExecution(tx, sc, id, &row); err != nil {
			return err
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		return RecalculateTotals(tx, row.EntryID)
	})
}

func loadExecution(tx *gorm.DB, sc scope.Scope, id int64, row *domain.BudgetExecution) error {
	notFound := apperr.NotFound("execution_not_found", "Execution not found")
	if err := tx.First(row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound
		}
		return err
	}
	var entry domain.BudgetEntry
	if err := tx.Select("id", "organization_id").First(&entry, row.EntryID).Error; err != nil {
		return err
	}
	if !sc.Contains(entry.OrganizationID) {
		return notFound
	}
	return nil
}
