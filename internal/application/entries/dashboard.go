package entries

import (
	"context"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/shopspring/decimal"
)

// OrgProgress is the finalized ratio of one department and its teams.
type OrgProgress struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Total     int     `json:"total"`
	Finalized int     `json:"finalized"`
	Ratio     float64 `json:"ratio"`
}

// Summary is the dashboard aggregate for one (year, round).
type Summary struct {
	Year         int            `json:"year"`
	Round        int            `json:"round"`
	TotalIncome  int64          `json:"total_income"`
	TotalExpense int64          `json:"total_expense"`
	StatusCounts map[string]int `json:"status_counts"`
	OrgProgress  []OrgProgress  `json:"org_progress"`
}

// Dashboard sums detail totals by subject type, counts statuses and reports per-department
// progress for the entries in the caller's scope.
func (s *Service) Dashboard(ctx context.Context, actor *domain.Actor, year *int, round int) (*Summary, error) {
	if year == nil {
		return nil, apperr.Validation("year_required", "year parameter is required").WithField("year")
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := &Summary{Year: *year, Round: round, StatusCounts: map[string]int{}, OrgProgress: []OrgProgress{}}

	db := s.DB.WithContext(ctx)
	var rows []domain.BudgetEntry
	q := sc.Apply(db.Model(&domain.BudgetEntry{}), "organization_id").
		Where("year = ? AND supplemental_round = ?", *year, round)
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return out, nil
	}

	entryIDs := make([]int64, 0, len(rows))
	subjectIDs := make([]int64, 0, len(rows))
	for _, e := range rows {
		entryIDs = append(entryIDs, e.ID)
		subjectIDs = append(subjectIDs, e.SubjectID)
		out.StatusCounts[e.Status]++
	}
	var subjects []domain.BudgetSubject
	if err := db.Where("id IN ?", subjectIDs).Find(&subjects).Error; err != nil {
		return nil, err
	}
	typeOf := make(map[int64]string, len(subjects))
	for _, sub := range subjects {
		typeOf[sub.ID] = sub.SubjectType
	}
	entryType := make(map[int64]string, len(rows))
	for _, e := range rows {
		entryType[e.ID] = typeOf[e.SubjectID]
	}

	var details []domain.BudgetDetail
	if err := db.Where("entry_id IN ?", entryIDs).Find(&details).Error; err != nil {
		return nil, err
	}
	for i := range details {
		switch entryType[details[i].EntryID] {
		case domain.SubjectIncome:
			out.TotalIncome += details[i].TotalPrice()
		case domain.SubjectExpense:
			out.TotalExpense += details[i].TotalPrice()
		}
	}

	var orgs []domain.Organization
	if err := db.Order("sort_order, id").Find(&orgs).Error; err != nil {
		return nil, err
	}
	deptOf := make(map[int64]int64, len(orgs))
	for _, o := range orgs {
		if o.IsTeam() {
			if o.ParentID != nil {
				deptOf[o.ID] = *o.ParentID
			}
			continue
		}
		deptOf[o.ID] = o.ID
	}
	type tally struct{ total, finalized int }
	byDept := map[int64]*tally{}
	for _, e := range rows {
		dept, ok := deptOf[e.OrganizationID]
		if !ok {
			continue
		}
		t := byDept[dept]
		if t == nil {
			t = &tally{}
			byDept[dept] = t
		}
		t.total++
		if e.Status == domain.EntryFinalized {
			t.finalized++
		}
	}
	for _, o := range orgs {
		t := byDept[o.ID]
		if o.IsTeam() || t == nil {
			continue
		}
		ratio := decimal.NewFromInt(int64(t.finalized * 100)).Div(decimal.NewFromInt(int64(t.total))).Round(1)
		out.OrgProgress = append(out.OrgProgress, OrgProgress{
			ID: o.ID, Name: o.Name, Total: t.total, Finalized: t.finalized, Ratio: ratio.InexactFloat64(),
		})
	}
	return out, nil
}
