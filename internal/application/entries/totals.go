package entries

import (
	"ibms-backend/internal/domain"

	"gorm.io/gorm"
)

// RecalculateTotals rewrites total, executed and remaining amounts of one entry from its
// details and executions. It is the only writer of those columns.
func RecalculateTotals(tx *gorm.DB, entryID int64) error {
	var details []domain.BudgetDetail
	if err := tx.Select("id", "price", "qty", "freq", "is_rate").Where("entry_id = ?", entryID).Find(&details).Error; err != nil {
		return err
	}
	var total int64
	for i := range details {
		total += details[i].TotalPrice()
	}
	var executed int64
	if err := tx.Model(&domain.BudgetExecution{}).Where("entry_id = ?", entryID).
		Select("COALESCE(SUM(amount), 0)").Scan(&executed).Error; err != nil {
		return err
	}
	return tx.Model(&domain.BudgetEntry{}).Where("id = ?", entryID).Updates(map[string]interface{}{
		"total_amount":     total,
		"executed_amount":  executed,
		"remaining_amount": total - executed,
	}).Error
}
