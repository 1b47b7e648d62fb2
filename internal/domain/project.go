package domain

import "time"

const (
	ProjectPlanned = "PLANNED"
	ProjectActive  = "ACTIVE"
	ProjectClosed  = "CLOSED"
)

// EntrustedProject is an externally funded project owned by one organization for one year.
type EntrustedProject struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	OrganizationID  int64      `gorm:"column:organization_id;not null;index" json:"organization"`
	Year            int        `gorm:"column:year;not null;index" json:"year"`
	Code            string     `gorm:"column:code;size:50;not null;index" json:"-"`
	Name            string     `gorm:"column:name;size:200;not null" json:"name"`
	Status          string     `gorm:"column:status;size:20;not null;default:PLANNED" json:"status"`
	StartsOn        *time.Time `gorm:"column:starts_on;type:date" json:"starts_on"`
	EndsOn          *time.Time `gorm:"column:ends_on;type:date" json:"ends_on"`
	SourceProjectID *int64     `gorm:"column:source_project_id;index" json:"source_project"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (EntrustedProject) TableName() string {
	return "entrusted_projects"
}
