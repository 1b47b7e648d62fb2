package entries

import (
	"ibms-backend/internal/domain"

	"gorm.io/gorm"
)

// PurgeEntries deletes entries with their details, executions and comments.
// Audit rows are kept and detached from the deleted entries.
func PurgeEntries(tx *gorm.DB, entryIDs []int64) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	if err := tx.Model(&domain.ApprovalLog{}).Where("entry_id IN ?", entryIDs).Update("entry_id", nil).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&domain.BudgetDetail{}).
		Where("transfer_source_detail_id IN (?)", tx.Model(&domain.BudgetDetail{}).Select("id").Where("entry_id IN ?", entryIDs)).
		Update("transfer_source_detail_id", nil).Error; err != nil {
		return 0, err
	}
	for _, model := range []interface{}{&domain.BudgetDetail{}, &domain.BudgetExecution{}, &domain.SubmissionComment{}} {
		if err := tx.Where("entry_id IN ?", entryIDs).Delete(model).Error; err != nil {
			return 0, err
		}
	}
	res := tx.Where("id IN ?", entryIDs).Delete(&domain.BudgetEntry{})
	return res.RowsAffected, res.Error
}
