package domain

import "time"

const (
	SubjectIncome  = "income"
	SubjectExpense = "expense"
)

// Subject levels: 1 장 (chapter), 2 관 (section), 3 항 (item), 4 목 (sub-item).
const (
	LevelChapter = 1
	LevelSection = 2
	LevelItem    = 3
	LevelSubItem = 4
)

// BudgetSubject is one node of the 4-level account tree.
type BudgetSubject struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Code           string    `gorm:"column:code;size:20;not null;uniqueIndex" json:"code"`
	Name           string    `gorm:"column:name;size:200;not null" json:"name"`
	Description    string    `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Level          int       `gorm:"column:level;not null" json:"level"`
	ParentID       *int64    `gorm:"column:parent_id;index" json:"parent"`
	SubjectType    string    `gorm:"column:subject_type;size:10;not null" json:"subject_type"`
	ERPNextAccount *string   `gorm:"column:erpnext_account;size:140" json:"erpnext_account"`
	SortOrder      int       `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (BudgetSubject) TableName() string {
	return "budget_subjects"
}

// ValidSubjectType returns true for income and expense.
func ValidSubjectType(t string) bool {
	return t == SubjectIncome || t == SubjectExpense
}
