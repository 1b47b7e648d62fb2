package domain

import (
	"strings"
	"time"
)

// Raw and computed version statuses. EXPIRED is only ever computed.
const (
	VersionDraft     = "DRAFT"
	VersionPending   = "PENDING"
	VersionConfirmed = "CONFIRMED"
	VersionClosed    = "CLOSED"
	VersionExpired   = "EXPIRED"
)

const (
	CreationModeNew      = "NEW"
	CreationModeTransfer = "TRANSFER"
)

// BudgetVersion is a (year, round) budget cycle. Round 0 is the original budget.
type BudgetVersion struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	Year            int        `gorm:"column:year;not null;uniqueIndex:idx_budget_versions_year_round" json:"year"`
	Round           int        `gorm:"column:round;not null;default:0;uniqueIndex:idx_budget_versions_year_round" json:"round"`
	Name            string     `gorm:"column:name;size:100;not null" json:"name"`
	Status          string     `gorm:"column:status;size:20;not null;default:DRAFT" json:"status"`
	ConfirmedAt     *time.Time `gorm:"column:confirmed_at" json:"confirmed_at"`
	StartDate       *time.Time `gorm:"column:start_date;type:date" json:"start_date"`
	EndDate         *time.Time `gorm:"column:end_date;type:date" json:"end_date"`
	Guidelines      *string    `gorm:"column:guidelines;type:text" json:"guidelines"`
	CreationMode    string     `gorm:"column:creation_mode;size:20;not null;default:NEW" json:"creation_mode"`
	SourceVersionID *int64     `gorm:"column:source_version_id;index" json:"source_version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (BudgetVersion) TableName() string {
	return "budget_versions"
}

// ComputedStatus derives the effective status from the raw status and the submission window.
func (v *BudgetVersion) ComputedStatus(now time.Time) string {
	if v.Status == VersionClosed || v.Status == VersionConfirmed {
		return v.Status
	}
	if v.StartDate != nil && v.EndDate != nil {
		today := dateOnly(now)
		switch {
		case today.Before(dateOnly(*v.StartDate)):
			return VersionDraft
		case today.After(dateOnly(*v.EndDate)):
			return VersionExpired
		default:
			return VersionPending
		}
	}
	return v.Status
}

// Locked reports whether detail rows of this version may no longer be created or edited.
func (v *BudgetVersion) Locked(now time.Time) bool {
	switch v.ComputedStatus(now) {
	case VersionExpired, VersionClosed, VersionConfirmed:
		return true
	}
	return false
}

// IsTransfer reports whether the version was cloned from another one.
func (v *BudgetVersion) IsTransfer() bool {
	return strings.EqualFold(strings.TrimSpace(v.CreationMode), CreationModeTransfer) || v.SourceVersionID != nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
