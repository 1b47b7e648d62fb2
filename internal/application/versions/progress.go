package versions

import (
	"context"

	"ibms-backend/internal/domain"
)

// Department progress states.
const (
	ProgressEmpty      = "EMPTY"
	ProgressCompleted  = "COMPLETED"
	ProgressSubmitted  = "SUBMITTED"
	ProgressWriting    = "WRITING"
	ProgressNotStarted = "NOT_STARTED"
)

// OrgProgress summarizes one organization's entries in a version.
type OrgProgress struct {
	OrgID        int64          `json:"org_id"`
	OrgName      string         `json:"org_name"`
	ParentID     *int64         `json:"parent_id"`
	OrgType      string         `json:"org_type"`
	TotalEntries int            `json:"total_entries"`
	TotalAmount  int64          `json:"total_amount"`
	StatusCounts map[string]int `json:"status_counts"`
	DeptStatus   string         `json:"dept_status"`
}

func newStatusCounts() map[string]int {
	return map[string]int{domain.EntryDraft: 0, domain.EntryPending: 0, domain.EntryReviewing: 0, domain.EntryFinalized: 0}
}

// Progress reports per-organization submission state for every organization in scope.
func (s *Service) Progress(ctx context.Context, actor *domain.Actor, id int64) ([]OrgProgress, error) {
	db := s.DB.WithContext(ctx)
	v, err := load(db, id)
	if err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	var orgs []domain.Organization
	if err := sc.Apply(db.Model(&domain.Organization{}), "id").Order("sort_order ASC, id ASC").Find(&orgs).Error; err != nil {
		return nil, err
	}
	var rows []domain.BudgetEntry
	if err := sc.Apply(db.Model(&domain.BudgetEntry{}), "organization_id").
		Select("id", "organization_id", "status", "total_amount").
		Where("year = ? AND supplemental_round = ?", v.Year, v.Round).Find(&rows).Error; err != nil {
		return nil, err
	}

	stats := map[int64]*OrgProgress{}
	for _, e := range rows {
		p, ok := stats[e.OrganizationID]
		if !ok {
			p = &OrgProgress{OrgID: e.OrganizationID, StatusCounts: newStatusCounts()}
			stats[e.OrganizationID] = p
		}
		p.TotalEntries++
		p.TotalAmount += e.TotalAmount
		p.StatusCounts[e.Status]++
	}

	out := make([]OrgProgress, 0, len(orgs))
	for _, o := range orgs {
		p, ok := stats[o.ID]
		if !ok {
			out = append(out, OrgProgress{
				OrgID: o.ID, OrgName: o.Name, ParentID: o.ParentID, OrgType: o.OrgType,
				StatusCounts: newStatusCounts(), DeptStatus: ProgressNotStarted,
			})
			continue
		}
		p.OrgName, p.ParentID, p.OrgType = o.Name, o.ParentID, o.OrgType
		p.DeptStatus = deptStatus(p)
		out = append(out, *p)
	}
	return out, nil
}

func deptStatus(p *OrgProgress) string {
	switch {
	case p.TotalEntries == 0:
		return ProgressEmpty
	case p.StatusCounts[domain.EntryFinalized] == p.TotalEntries:
		return ProgressCompleted
	case p.StatusCounts[domain.EntryReviewing] > 0 || p.StatusCounts[domain.EntryPending] > 0:
		return ProgressSubmitted
	}
	return ProgressWriting
}
