package domain

import (
	"strings"
	"time"
)

const (
	OrgTypeDept = "dept"
	OrgTypeTeam = "team"
)

// Organization is a department or a team under a department.
type Organization struct {
	ID                int64     `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"column:name;size:100;not null" json:"name"`
	Code              string    `gorm:"column:code;size:20;not null;uniqueIndex" json:"code"`
	OrgType           string    `gorm:"column:org_type;size:20;not null;default:dept" json:"org_type"`
	ParentID          *int64    `gorm:"column:parent_id;index" json:"parent"`
	ERPNextCostCenter *string   `gorm:"column:erpnext_cost_center;size:140" json:"erpnext_cost_center"`
	SortOrder         int       `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

// IsTeam reports whether the organization is scoped as a team (explicit type or any parent).
func (o *Organization) IsTeam() bool {
	if o == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(o.OrgType), OrgTypeTeam) || o.ParentID != nil
}
