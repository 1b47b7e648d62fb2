package export

import (
	"context"
	"sort"
	"strings"

	"ibms-backend/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// entryRow is one budget entry flattened with its subject path and root department.
type entryRow struct {
	SubjectType    string
	Jang           string
	Gwan           string
	Hang           string
	Mok            string
	SubjectCode    string
	SubjectName    string
	Description    string
	DepartmentName string
	OrgName        string
	ProjectName    string
	Current        int64
	Previous       int64
	DetailCount    int
	Status         string
	Category       string
	CarryoverType  string

	orgID   int64
	entryID int64
}

// maxWalk bounds parent walks in case of a corrupt cycle.
const maxWalk = 8

type lookups struct {
	subjects map[int64]domain.BudgetSubject
	orgs     map[int64]domain.Organization
}

func loadLookups(db *gorm.DB) (*lookups, error) {
	var subjects []domain.BudgetSubject
	if err := db.Find(&subjects).Error; err != nil {
		return nil, err
	}
	var orgs []domain.Organization
	if err := db.Find(&orgs).Error; err != nil {
		return nil, err
	}
	l := &lookups{
		subjects: make(map[int64]domain.BudgetSubject, len(subjects)),
		orgs:     make(map[int64]domain.Organization, len(orgs)),
	}
	for _, s := range subjects {
		l.subjects[s.ID] = s
	}
	for _, o := range orgs {
		l.orgs[o.ID] = o
	}
	return l, nil
}

// subjectPath returns the names at levels 1 to 4 walking up from the subject.
func (l *lookups) subjectPath(id int64) [4]string {
	var path [4]string
	seen := map[int]bool{}
	cur, ok := l.subjects[id]
	for i := 0; ok && i < maxWalk; i++ {
		if cur.Level >= 1 && cur.Level <= 4 && !seen[cur.Level] {
			path[cur.Level-1] = strings.TrimSpace(cur.Name)
			seen[cur.Level] = true
		}
		if cur.ParentID == nil {
			break
		}
		cur, ok = l.subjects[*cur.ParentID]
	}
	return path
}

func (l *lookups) rootDepartment(orgID int64) string {
	cur, ok := l.orgs[orgID]
	if !ok {
		return ""
	}
	for i := 0; cur.ParentID != nil && i < maxWalk; i++ {
		parent, ok := l.orgs[*cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	return strings.TrimSpace(cur.Name)
}

type detailAgg struct {
	EntryID int64
	Count   int
	Total   int64
}

func detailTotals(db *gorm.DB, entryIDs []int64) (map[int64]detailAgg, error) {
	out := map[int64]detailAgg{}
	if len(entryIDs) == 0 {
		return out, nil
	}
	var details []domain.BudgetDetail
	if err := db.Where("entry_id IN ?", entryIDs).Find(&details).Error; err != nil {
		return nil, err
	}
	for i := range details {
		agg := out[details[i].EntryID]
		agg.EntryID = details[i].EntryID
		agg.Count++
		agg.Total += details[i].TotalPrice()
		out[details[i].EntryID] = agg
	}
	return out, nil
}

// collectRows loads every entry of (year, round) ordered by subject type, subject code, organization and id.
func collectRows(ctx context.Context, db *gorm.DB, year, round int) ([]entryRow, *lookups, error) {
	db = db.WithContext(ctx)
	var entries []domain.BudgetEntry
	if err := db.Where("year = ? AND supplemental_round = ?", year, round).Find(&entries).Error; err != nil {
		return nil, nil, err
	}
	l, err := loadLookups(db)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int64, 0, len(entries))
	var projectIDs []int64
	for _, e := range entries {
		ids = append(ids, e.ID)
		if e.EntrustedProjectID != nil {
			projectIDs = append(projectIDs, *e.EntrustedProjectID)
		}
	}
	aggs, err := detailTotals(db, ids)
	if err != nil {
		return nil, nil, err
	}
	projects := map[int64]string{}
	if len(projectIDs) > 0 {
		var rows []domain.EntrustedProject
		if err := db.Select("id", "name").Where("id IN ?", projectIDs).Find(&rows).Error; err != nil {
			return nil, nil, err
		}
		for _, p := range rows {
			projects[p.ID] = strings.TrimSpace(p.Name)
		}
	}

	out := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		subject := l.subjects[e.SubjectID]
		path := l.subjectPath(e.SubjectID)
		name := strings.TrimSpace(subject.Name)
		leaf := firstNonEmpty(path[3], path[2], path[1], path[0], name)
		agg := aggs[e.ID]
		current := e.TotalAmount
		if current == 0 {
			current = agg.Total
		}
		row := entryRow{
			SubjectType:    strings.TrimSpace(subject.SubjectType),
			Jang:           path[0],
			Gwan:           path[1],
			Hang:           path[2],
			Mok:            firstNonEmpty(path[3], leaf),
			SubjectCode:    strings.TrimSpace(subject.Code),
			SubjectName:    name,
			Description:    strings.TrimSpace(subject.Description),
			DepartmentName: l.rootDepartment(e.OrganizationID),
			OrgName:        strings.TrimSpace(l.orgs[e.OrganizationID].Name),
			Current:        current,
			Previous:       e.LastYearAmount,
			DetailCount:    agg.Count,
			Status:         e.Status,
			Category:       e.BudgetCategory,
			CarryoverType:  e.CarryoverType,
			orgID:          e.OrganizationID,
			entryID:        e.ID,
		}
		if e.EntrustedProjectID != nil {
			row.ProjectName = projects[*e.EntrustedProjectID]
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SubjectType != b.SubjectType {
			return a.SubjectType < b.SubjectType
		}
		if a.SubjectCode != b.SubjectCode {
			return a.SubjectCode < b.SubjectCode
		}
		if a.orgID != b.orgID {
			return a.orgID < b.orgID
		}
		return a.entryID < b.entryID
	})
	return out, l, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// toThousandWon converts won to thousands of won, rounding half to even.
func toThousandWon(amount int64) int64 {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(1000)).RoundBank(0).IntPart()
}

type subjectTotals struct {
	current      int64
	previous     int64
	byDepartment map[string]int64
}

func totalsFor(rows []entryRow, subjectType string) subjectTotals {
	t := subjectTotals{byDepartment: map[string]int64{}}
	for _, r := range rows {
		if r.SubjectType != subjectType {
			continue
		}
		t.current += r.Current
		t.previous += r.Previous
		if key := normalizeKey(r.DepartmentName); key != "" {
			t.byDepartment[key] += r.Current
		}
	}
	return t
}
