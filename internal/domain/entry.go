package domain

import "time"

// Entry workflow statuses.
const (
	EntryDraft     = "DRAFT"
	EntryPending   = "PENDING"
	EntryReviewing = "REVIEWING"
	EntryFinalized = "FINALIZED"
)

const (
	CategoryOriginal     = "ORIGINAL"
	CategorySupplemental = "SUPPLEMENTAL"
	CategoryCarryover    = "CARRYOVER"
)

const (
	CarryoverNone       = "NONE"
	CarryoverSpecific   = "SPECIFIC"
	CarryoverAccident   = "ACCIDENT"
	CarryoverContinuing = "CONTINUING"
)

// BudgetEntry is one (subject, organization, project, year, round) budget proposal.
// TotalAmount, ExecutedAmount and RemainingAmount are written only by the totals recompute.
type BudgetEntry struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	SubjectID          int64     `gorm:"column:subject_id;not null;uniqueIndex:idx_budget_entries_key" json:"subject"`
	OrganizationID     int64     `gorm:"column:organization_id;not null;uniqueIndex:idx_budget_entries_key;index:idx_budget_entries_org_year" json:"organization"`
	EntrustedProjectID *int64    `gorm:"column:entrusted_project_id;uniqueIndex:idx_budget_entries_key" json:"entrusted_project"`
	Year               int       `gorm:"column:year;not null;uniqueIndex:idx_budget_entries_key;index:idx_budget_entries_org_year;index:idx_budget_entries_year_round" json:"year"`
	SupplementalRound  int       `gorm:"column:supplemental_round;not null;default:0;uniqueIndex:idx_budget_entries_key;index:idx_budget_entries_year_round" json:"supplemental_round"`
	Status             string    `gorm:"column:status;size:20;not null;default:DRAFT;index" json:"status"`
	LastYearAmount     int64     `gorm:"column:last_year_amount;not null;default:0" json:"last_year_amount"`
	BudgetCategory     string    `gorm:"column:budget_category;size:20;not null;default:ORIGINAL" json:"budget_category"`
	CarryoverType      string    `gorm:"column:carryover_type;size:20;not null;default:NONE" json:"carryover_type"`
	TotalAmount        int64     `gorm:"column:total_amount;not null;default:0" json:"total_amount"`
	ExecutedAmount     int64     `gorm:"column:executed_amount;not null;default:0" json:"executed_amount"`
	RemainingAmount    int64     `gorm:"column:remaining_amount;not null;default:0" json:"remaining_amount"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (BudgetEntry) TableName() string {
	return "budget_entries"
}

// VarianceAmount is the current total minus the baseline.
func (e *BudgetEntry) VarianceAmount() int64 {
	return e.TotalAmount - e.LastYearAmount
}

// BudgetExecution is a spending record against an entry.
type BudgetExecution struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	EntryID     int64     `gorm:"column:entry_id;not null;index" json:"entry"`
	ExecutedAt  time.Time `gorm:"column:executed_at;type:date;not null" json:"executed_at"`
	Amount      int64     `gorm:"column:amount;not null" json:"amount"`
	Description string    `gorm:"column:description;size:255;not null" json:"description"`
	DocumentNo  *string   `gorm:"column:document_no;size:100" json:"document_no"`
	CreatedByID int64     `gorm:"column:created_by_id;not null" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func (BudgetExecution) TableName() string {
	return "budget_executions"
}
