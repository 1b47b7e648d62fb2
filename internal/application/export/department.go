package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// node is one level of the 장/관/항/목 grouping. Children keep insertion order.
type node struct {
	name     string
	current  int64
	previous int64
	order    []string
	children map[string]*node
	entries  []domain.BudgetEntry
}

func newNode(name string) *node {
	return &node{name: name, children: map[string]*node{}}
}

func (n *node) child(name string) *node {
	c, ok := n.children[name]
	if !ok {
		c = newNode(name)
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

type deptStyles struct {
	header, label, amount, detail, total int
}

func newDeptStyles(f *excelize.File) (*deptStyles, error) {
	thin := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	font := &excelize.Font{Family: "맑은 고딕", Size: 11}
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	var s deptStyles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Family: "맑은 고딕", Size: 11, Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"EAEAEA"}, Pattern: 1},
		Border:    thin,
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	}); err != nil {
		return nil, err
	}
	if s.label, err = f.NewStyle(&excelize.Style{Font: font, Border: thin, Alignment: center}); err != nil {
		return nil, err
	}
	if s.amount, err = f.NewStyle(&excelize.Style{Font: font, Border: thin, NumFmt: 3}); err != nil {
		return nil, err
	}
	if s.detail, err = f.NewStyle(&excelize.Style{Font: font, Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"}}); err != nil {
		return nil, err
	}
	if s.total, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Family: "맑은 고딕", Size: 11, Bold: true}, Border: thin, Alignment: center,
	}); err != nil {
		return nil, err
	}
	return &s, nil
}

// departmentSheetTitle is "지출(기획예산과)"; names ending in 실 or 본부 are shortened to two characters.
func departmentSheetTitle(orgName, kind string) string {
	name := orgName
	if utf8.RuneCountInString(orgName) >= 2 && (strings.HasSuffix(orgName, "실") || strings.HasSuffix(orgName, "본부")) {
		name = string([]rune(orgName)[:2])
	}
	return fmt.Sprintf("%s(%s)", kind, name)
}

// DepartmentBudget exports the income and expense budget of one department and its teams.
func (s *Service) DepartmentBudget(ctx context.Context, sc scope.Scope, v *domain.BudgetVersion, orgID int64) (*File, error) {
	if orgID == 0 {
		return nil, apperr.Validation("org_id_required", "org_id is required").WithField("org_id")
	}
	db := s.DB.WithContext(ctx)
	var org domain.Organization
	if err := db.First(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("organization_not_found", "Organization not found")
		}
		return nil, err
	}
	if !sc.Contains(org.ID) {
		return nil, apperr.Permission("org_out_of_scope", "No permission for this organization.")
	}
	orgIDs := []int64{org.ID}
	var children []int64
	if err := db.Model(&domain.Organization{}).Where("parent_id = ?", org.ID).Pluck("id", &children).Error; err != nil {
		return nil, err
	}
	orgIDs = append(orgIDs, children...)

	l, err := loadLookups(db)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	styles, err := newDeptStyles(f)
	if err != nil {
		return nil, err
	}
	for _, kind := range []string{domain.SubjectIncome, domain.SubjectExpense} {
		if err := s.writeDepartmentSheet(db, f, styles, l, v, org.Name, orgIDs, kind); err != nil {
			return nil, err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_부서예산서_%d.xlsx", org.Name, v.Year)
	return &File{Data: buf.Bytes(), FileName: name, Disposition: ContentDisposition(name)}, nil
}

func (s *Service) writeDepartmentSheet(db *gorm.DB, f *excelize.File, st *deptStyles, l *lookups,
	v *domain.BudgetVersion, orgName string, orgIDs []int64, subjectType string) error {
	kind := "수입"
	if subjectType == domain.SubjectExpense {
		kind = "지출"
	}
	sheet := departmentSheetTitle(orgName, kind)
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	var entries []domain.BudgetEntry
	err := db.Joins("JOIN budget_subjects ON budget_subjects.id = budget_entries.subject_id").
		Where("budget_entries.year = ? AND budget_entries.supplemental_round = ?", v.Year, v.Round).
		Where("budget_entries.organization_id IN ?", orgIDs).
		Where("budget_subjects.subject_type = ?", subjectType).
		Order("budget_subjects.code, budget_entries.organization_id, budget_entries.id").
		Find(&entries).Error
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	var details []domain.BudgetDetail
	if len(ids) > 0 {
		if err := db.Where("entry_id IN ?", ids).Order("sort_order, id").Find(&details).Error; err != nil {
			return err
		}
	}
	byEntry := map[int64][]domain.BudgetDetail{}
	for _, d := range details {
		byEntry[d.EntryID] = append(byEntry[d.EntryID], d)
	}

	w := &sheetWriter{f: f, sheet: sheet}
	w.set(1, 1, fmt.Sprintf("%s %s예산서", orgName, kind))
	headers := []string{"장", "관", "항", "목", "예산액", "전년도 예산액", "증감액", "산출내역"}
	for i, h := range headers {
		w.set(i+1, 3, h)
	}
	w.style("A3", "H3", st.header)

	var totalCurrent, totalPrevious int64
	root := newNode("")
	for _, e := range entries {
		totalCurrent += e.TotalAmount
		totalPrevious += e.LastYearAmount
		path := l.subjectPath(e.SubjectID)
		levels := []*node{root.child(path[0])}
		levels = append(levels, levels[0].child(path[1]))
		levels = append(levels, levels[1].child(path[2]))
		levels = append(levels, levels[2].child(path[3]))
		for _, n := range levels {
			n.current += e.TotalAmount
			n.previous += e.LastYearAmount
		}
		levels[3].entries = append(levels[3].entries, e)
	}

	row := 4
	w.set(1, row, kind+"계")
	w.set(5, row, totalCurrent)
	w.set(6, row, totalPrevious)
	w.formula(7, row, fmt.Sprintf("E%d-F%d", row, row))
	w.style("A4", "D4", st.total)
	w.style("E4", "G4", st.amount)
	row++

	writeGroup := func(col int, n *node) {
		w.set(col, row, n.name)
		w.set(5, row, n.current)
		w.set(6, row, n.previous)
		w.formula(7, row, fmt.Sprintf("E%d-F%d", row, row))
		w.style(cellRef(1, row), cellRef(4, row), st.label)
		w.style(cellRef(5, row), cellRef(7, row), st.amount)
		row++
	}
	writeDetail := func(text string, amount int64, unit string) {
		w.set(8, row, "  - "+text)
		w.set(9, row, amount)
		if unit != "" {
			w.set(10, row, unit)
		}
		w.style(cellRef(8, row), cellRef(8, row), st.detail)
		w.style(cellRef(9, row), cellRef(9, row), st.amount)
		row++
	}

	for _, jn := range root.order {
		j := root.children[jn]
		if j.name != "" {
			writeGroup(1, j)
		}
		for _, gn := range j.order {
			g := j.children[gn]
			if g.name != "" {
				writeGroup(2, g)
			}
			for _, hn := range g.order {
				h := g.children[hn]
				if h.name != "" {
					writeGroup(3, h)
				}
				for _, mn := range h.order {
					m := h.children[mn]
					writeGroup(4, m)
					for _, e := range m.entries {
						ds := byEntry[e.ID]
						if len(ds) == 0 {
							writeDetail(fmt.Sprintf("[%s] 산출내역 없음", orgName), e.TotalAmount, domain.DefaultCurrencyUnit)
							continue
						}
						for i := range ds {
							unit := ds[i].CurrencyUnit
							if unit == "" {
								unit = domain.DefaultCurrencyUnit
							}
							writeDetail(ds[i].Name, ds[i].TotalPrice(), unit)
						}
					}
				}
			}
		}
	}
	if w.err != nil {
		return w.err
	}

	widths := map[string][2]float64{
		"A": {10.625, 40.625}, "B": {46.625, 20.625}, "C": {14.625, 14.625}, "D": {17.625, 17.625},
		"E": {14.625, 14.625}, "F": {14.625, 14.625}, "G": {14.625, 14.625}, "H": {50.625, 55.625},
		"I": {15.625, 16.625}, "J": {16.625, 4.625},
	}
	idx := 0
	if subjectType == domain.SubjectExpense {
		idx = 1
	}
	for col, wd := range widths {
		if err := f.SetColWidth(sheet, col, col, wd[idx]); err != nil {
			return err
		}
	}
	return nil
}

// sheetWriter remembers the first write error so layout code stays linear.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) set(col, row int, v interface{}) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellValue(w.sheet, cellRef(col, row), v)
}

func (w *sheetWriter) formula(col, row int, fx string) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellFormula(w.sheet, cellRef(col, row), fx)
}

func (w *sheetWriter) style(from, to string, id int) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetCellStyle(w.sheet, from, to, id)
}
