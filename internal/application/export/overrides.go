package export

import (
	"fmt"
	"reflect"
	"strings"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/metrics"

	"github.com/rs/zerolog/log"
)

// Official template sheet names.
const (
	SheetMatrix         = "예산목별조서"
	SheetIncomeTotal    = "수입(총괄)"
	SheetExpenseTotal   = "지출(총괄)"
	SheetBasicAsset     = "기본재산명세서"
	SheetOrdinaryAsset  = "보통재산명세서"
	SheetLaborStatement = "총인건비명세서"
)

// Override reason codes. error:<Type> is produced for failures inside an override.
const (
	ReasonOK                   = "ok"
	ReasonNoRootOrganizations  = "no_root_organizations"
	ReasonSheetNotFound        = "sheet_not_found"
	ReasonSummaryRowsNotFound  = "summary_rows_not_found"
	ReasonSummaryRowNotFound   = "summary_row_not_found"
	ReasonInvalidOverrideValue = "invalid_override_result"
)

const (
	incomeLabel  = "수입계"
	expenseLabel = "지출계"
)

// OverrideRecord reports one attempted template override.
type OverrideRecord struct {
	Sheet        string `json:"sheet"`
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason"`
	UpdatedCells int    `json:"updated_cells_count"`
}

// Warning reports whether the record should be surfaced as template drift.
func (r OverrideRecord) Warning() bool {
	return !r.Applied || (r.Reason != ReasonOK && r.Reason != ReasonNoRootOrganizations)
}

func record(sheet string, applied bool, reason string, updated int) OverrideRecord {
	return OverrideRecord{Sheet: sheet, Applied: applied, Reason: reason, UpdatedCells: updated}
}

// runSafe isolates one override. Errors and panics become an error:<Type> record.
func runSafe(sheet string, fn func() (OverrideRecord, error)) (rec OverrideRecord) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Str("sheet", sheet).Interface("panic", p).Msg("template override panicked")
			rec = record(sheet, false, "error:"+typeName(p), 0)
		}
		metrics.TemplateOverrides.WithLabelValues(rec.Sheet, rec.Reason).Inc()
	}()
	r, err := fn()
	if err != nil {
		log.Warn().Err(err).Str("sheet", sheet).Msg("template override failed")
		return record(sheet, false, "error:"+typeName(err), 0)
	}
	if r.Sheet == "" {
		return record(sheet, false, ReasonInvalidOverrideValue, 0)
	}
	return r
}

func typeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

type overrideFunc struct {
	sheet string
	fn    func() (OverrideRecord, error)
}

func (b *book) writeTemplateOverrides(v *domain.BudgetVersion, rows []entryRow, topOrgs []string) []OverrideRecord {
	steps := []overrideFunc{
		{SheetMatrix, func() (OverrideRecord, error) { return b.matrixOverride(rows, topOrgs) }},
		{SheetIncomeTotal, func() (OverrideRecord, error) {
			return b.totalOverride(rows, SheetIncomeTotal, domain.SubjectIncome, incomeLabel)
		}},
		{SheetExpenseTotal, func() (OverrideRecord, error) {
			return b.totalOverride(rows, SheetExpenseTotal, domain.SubjectExpense, expenseLabel)
		}},
		{SheetBasicAsset, func() (OverrideRecord, error) { return b.basicAssetOverride(v) }},
		{SheetOrdinaryAsset, func() (OverrideRecord, error) { return b.ordinaryAssetOverride(v) }},
		{SheetLaborStatement, func() (OverrideRecord, error) { return b.laborStatementOverride(v) }},
	}
	out := make([]OverrideRecord, 0, len(steps))
	for _, s := range steps {
		out = append(out, runSafe(s.sheet, s.fn))
	}
	return out
}

// matrixHeaderColumns returns the department columns of the cross-tab, starting at F.
func (b *book) matrixHeaderColumns(sheet string, incomeHeader, expenseHeader int) ([]int, error) {
	_, cols, err := b.grid(sheet)
	if err != nil {
		return nil, err
	}
	if cols < 6 {
		cols = 6
	}
	last := 0
	for col := 6; col <= cols; col++ {
		if b.value(sheet, col, incomeHeader) != "" || b.value(sheet, col, expenseHeader) != "" {
			last = col
		}
	}
	if last == 0 {
		return []int{6}, nil
	}
	out := make([]int, 0, last-5)
	for col := 6; col <= last; col++ {
		out = append(out, col)
	}
	return out, nil
}

// headerDeptKey reads a department header. Formula headers (=F3) count as empty.
func (b *book) headerDeptKey(sheet string, col, row int) (string, error) {
	ref := cellRef(col, row)
	isFx, err := b.isFormula(sheet, ref)
	if err != nil || isFx {
		return "", err
	}
	return normalizeKey(b.value(sheet, col, row)), nil
}

func (b *book) matrixOverride(rows []entryRow, topOrgs []string) (OverrideRecord, error) {
	if !b.hasSheet(SheetMatrix) {
		return record(SheetMatrix, false, ReasonSheetNotFound, 0), nil
	}
	sheet := SheetMatrix
	incomeRow, err := b.findRow(sheet, 1, incomeLabel)
	if err != nil {
		return OverrideRecord{}, err
	}
	expenseRow, err := b.findRow(sheet, 1, expenseLabel)
	if err != nil {
		return OverrideRecord{}, err
	}
	if incomeRow == 0 && expenseRow == 0 {
		return record(sheet, false, ReasonSummaryRowsNotFound, 0), nil
	}
	incomeHeader, expenseHeader := 3, 16
	if incomeRow > 0 {
		incomeHeader = max(1, incomeRow-1)
	}
	if expenseRow > 0 {
		expenseHeader = max(1, expenseRow-1)
	}
	cols, err := b.matrixHeaderColumns(sheet, incomeHeader, expenseHeader)
	if err != nil {
		return OverrideRecord{}, err
	}

	updated := 0
	add := func(n int, err error) error {
		updated += n
		return err
	}
	if len(topOrgs) > 0 {
		for i, col := range cols {
			name := ""
			if i < len(topOrgs) {
				name = topOrgs[i]
			}
			if incomeRow > 0 {
				if err := add(b.set(sheet, col, incomeHeader, name)); err != nil {
					return OverrideRecord{}, err
				}
			}
			if expenseRow > 0 {
				if err := add(b.set(sheet, col, expenseHeader, name)); err != nil {
					return OverrideRecord{}, err
				}
			}
		}
	}

	income := totalsFor(rows, domain.SubjectIncome)
	expense := totalsFor(rows, domain.SubjectExpense)
	if incomeRow > 0 {
		if err := add(b.set(sheet, 5, incomeRow, toThousandWon(income.current))); err != nil {
			return OverrideRecord{}, err
		}
		for _, col := range cols {
			key, err := b.headerDeptKey(sheet, col, incomeHeader)
			if err != nil {
				return OverrideRecord{}, err
			}
			if key == "" {
				continue
			}
			if err := add(b.set(sheet, col, incomeRow, toThousandWon(income.byDepartment[key]))); err != nil {
				return OverrideRecord{}, err
			}
		}
	}
	if expenseRow > 0 {
		if err := add(b.set(sheet, 5, expenseRow, toThousandWon(expense.current))); err != nil {
			return OverrideRecord{}, err
		}
		for _, col := range cols {
			key, err := b.headerDeptKey(sheet, col, expenseHeader)
			if err != nil {
				return OverrideRecord{}, err
			}
			if key == "" {
				if key, err = b.headerDeptKey(sheet, col, incomeHeader); err != nil {
					return OverrideRecord{}, err
				}
			}
			if key == "" {
				continue
			}
			if err := add(b.set(sheet, col, expenseRow, toThousandWon(expense.byDepartment[key]))); err != nil {
				return OverrideRecord{}, err
			}
		}
	}

	reason := ReasonOK
	if len(topOrgs) == 0 {
		reason = ReasonNoRootOrganizations
	}
	return record(sheet, true, reason, updated), nil
}

func (b *book) totalOverride(rows []entryRow, sheet, subjectType, label string) (OverrideRecord, error) {
	if !b.hasSheet(sheet) {
		return record(sheet, false, ReasonSheetNotFound, 0), nil
	}
	row, err := b.findRow(sheet, 1, label)
	if err != nil {
		return OverrideRecord{}, err
	}
	if row == 0 {
		return record(sheet, false, ReasonSummaryRowNotFound, 0), nil
	}
	t := totalsFor(rows, subjectType)
	current, previous := toThousandWon(t.current), toThousandWon(t.previous)
	updated := 0
	for col, value := range map[int]int64{5: current, 6: previous, 7: current - previous} {
		n, err := b.set(sheet, col, row, value)
		if err != nil {
			return OverrideRecord{}, err
		}
		updated += n
	}
	return record(sheet, true, ReasonOK, updated), nil
}

func referenceDate(year int) string {
	return fmt.Sprintf("<기준일 : %d. 12. 31 >", year-1)
}

// syncReferenceDate rewrites the first "기준일" caption found in the top-left 12x12 block.
func (b *book) syncReferenceDate(sheet string, year int) (int, error) {
	rows, cols, err := b.grid(sheet)
	if err != nil {
		return 0, err
	}
	for r := 1; r <= min(rows, 12); r++ {
		for c := 1; c <= min(cols, 12); c++ {
			if strings.Contains(b.value(sheet, c, r), "기준일") {
				return b.set(sheet, c, r, referenceDate(year))
			}
		}
	}
	return 0, nil
}

func (b *book) basicAssetOverride(v *domain.BudgetVersion) (OverrideRecord, error) {
	sheet := b.findSheet(SheetBasicAsset)
	if sheet == "" {
		return record(SheetBasicAsset, false, ReasonSheetNotFound, 0), nil
	}
	updated, err := b.syncReferenceDate(sheet, v.Year)
	if err != nil {
		return OverrideRecord{}, err
	}
	n, err := b.applyValues(sheet, basicAssetValues)
	if err != nil {
		return OverrideRecord{}, err
	}
	return record(sheet, true, ReasonOK, updated+n), nil
}

func (b *book) ordinaryAssetOverride(v *domain.BudgetVersion) (OverrideRecord, error) {
	sheet := b.findSheet(SheetOrdinaryAsset)
	if sheet == "" {
		return record(SheetOrdinaryAsset, false, ReasonSheetNotFound, 0), nil
	}
	updated, err := b.setRef(sheet, "F3", referenceDate(v.Year))
	if err != nil {
		return OverrideRecord{}, err
	}
	n, err := b.applyValues(sheet, ordinaryAssetValues)
	if err != nil {
		return OverrideRecord{}, err
	}
	return record(sheet, true, ReasonOK, updated+n), nil
}

func (b *book) laborStatementOverride(v *domain.BudgetVersion) (OverrideRecord, error) {
	sheet := b.findSheet(SheetLaborStatement, SheetLaborStatement+" ")
	if sheet == "" {
		return record(SheetLaborStatement, false, ReasonSheetNotFound, 0), nil
	}
	updated, err := b.syncReferenceDate(sheet, v.Year)
	if err != nil {
		return OverrideRecord{}, err
	}
	n, err := b.applyValues(sheet, laborStatementValues)
	if err != nil {
		return OverrideRecord{}, err
	}
	return record(sheet, true, ReasonOK, updated+n), nil
}
