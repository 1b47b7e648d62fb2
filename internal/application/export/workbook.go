package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var keyStrip = regexp.MustCompile("[\\s\\-\\(\\)\\[\\]{}<>\\.,/:;|_·'\"`]+")

// normalizeKey folds case and strips whitespace and punctuation so template labels
// match regardless of spacing.
func normalizeKey(s string) string {
	return keyStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// formula is written with SetCellFormula instead of as a literal.
type formula string

// book wraps an excelize file with the write rules of the budget book:
// formula cells are kept, merged cells are written only through their top-left cell.
type book struct {
	f      *excelize.File
	merges map[string][]mergeRange
}

type mergeRange struct {
	minCol, minRow, maxCol, maxRow int
}

func newBook(f *excelize.File) *book {
	return &book{f: f, merges: map[string][]mergeRange{}}
}

func (b *book) hasSheet(name string) bool {
	idx, err := b.f.GetSheetIndex(name)
	return err == nil && idx >= 0
}

// findSheet returns the workbook sheet whose normalized name matches any candidate.
func (b *book) findSheet(candidates ...string) string {
	keys := map[string]struct{}{}
	for _, c := range candidates {
		if c != "" {
			keys[normalizeKey(c)] = struct{}{}
		}
	}
	for _, name := range b.f.GetSheetList() {
		if _, ok := keys[normalizeKey(name)]; ok {
			return name
		}
	}
	return ""
}

func (b *book) mergesOf(sheet string) ([]mergeRange, error) {
	if m, ok := b.merges[sheet]; ok {
		return m, nil
	}
	cells, err := b.f.GetMergeCells(sheet)
	if err != nil {
		return nil, err
	}
	out := make([]mergeRange, 0, len(cells))
	for _, mc := range cells {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			return nil, err
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			return nil, err
		}
		out = append(out, mergeRange{minCol: c1, minRow: r1, maxCol: c2, maxRow: r2})
	}
	b.merges[sheet] = out
	return out, nil
}

// writable reports whether (col,row) may be written. Non top-left cells of a merged range are not.
func (b *book) writable(sheet string, col, row int) (bool, error) {
	ranges, err := b.mergesOf(sheet)
	if err != nil {
		return false, err
	}
	for _, m := range ranges {
		if col >= m.minCol && col <= m.maxCol && row >= m.minRow && row <= m.maxRow {
			return col == m.minCol && row == m.minRow, nil
		}
	}
	return true, nil
}

// isFormula reports a formula cell or a literal string starting with "=".
func (b *book) isFormula(sheet, ref string) (bool, error) {
	fx, err := b.f.GetCellFormula(sheet, ref)
	if err != nil {
		return false, err
	}
	if fx != "" {
		return true, nil
	}
	raw, err := b.f.GetCellValue(sheet, ref, excelize.Options{RawCellValue: true})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.TrimSpace(raw), "="), nil
}

func (b *book) value(sheet string, col, row int) string {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return ""
	}
	v, _ := b.f.GetCellValue(sheet, ref)
	return strings.TrimSpace(v)
}

// set writes value at (col,row) and returns 1 when the cell changed. Formula cells are never written.
func (b *book) set(sheet string, col, row int, value interface{}) (int, error) {
	ok, err := b.writable(sheet, col, row)
	if err != nil || !ok {
		return 0, err
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return 0, err
	}
	isFx, err := b.isFormula(sheet, ref)
	if err != nil {
		return 0, err
	}
	if isFx {
		return 0, nil
	}
	raw, err := b.f.GetCellValue(sheet, ref, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, err
	}
	if raw == literal(value) {
		return 0, nil
	}
	if err := b.f.SetCellValue(sheet, ref, value); err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *book) setRef(sheet, ref string, value interface{}) (int, error) {
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return 0, err
	}
	return b.set(sheet, col, row, value)
}

// applyValues writes a fixed cell map in ref order and returns the number of changed cells.
func (b *book) applyValues(sheet string, values []cellValue) (int, error) {
	updated := 0
	for _, cv := range values {
		n, err := b.setRef(sheet, cv.Ref, cv.Value)
		if err != nil {
			return updated, err
		}
		updated += n
	}
	return updated, nil
}

type cellValue struct {
	Ref   string
	Value interface{}
}

func literal(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// grid returns the used size of a sheet as (rows, columns).
func (b *book) grid(sheet string) (int, int, error) {
	rows, err := b.f.GetRows(sheet)
	if err != nil {
		return 0, 0, err
	}
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return len(rows), cols, nil
}

// findRow returns the first row whose cell in col matches a candidate label, or 0.
func (b *book) findRow(sheet string, col int, candidates ...string) (int, error) {
	keys := map[string]struct{}{}
	for _, c := range candidates {
		if c != "" {
			keys[normalizeKey(c)] = struct{}{}
		}
	}
	rows, err := b.f.GetRows(sheet)
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		if col-1 < len(r) {
			if _, ok := keys[normalizeKey(r[col-1])]; ok {
				return i + 1, nil
			}
		}
	}
	return 0, nil
}

// resetSheet recreates a computed sheet so it holds only the rows written next.
func (b *book) resetSheet(name string) error {
	if b.hasSheet(name) {
		if err := b.f.DeleteSheet(name); err != nil {
			return err
		}
		delete(b.merges, name)
	}
	_, err := b.f.NewSheet(name)
	return err
}

// appendRows writes rows from row 1. Nil rows stay blank; formula values become formulas.
func (b *book) appendRows(sheet string, rows [][]interface{}) error {
	for i, values := range rows {
		if values == nil {
			continue
		}
		r := i + 1
		for j, v := range values {
			ref, err := excelize.CoordinatesToCellName(j+1, r)
			if err != nil {
				return err
			}
			switch t := v.(type) {
			case nil:
			case formula:
				if err := b.f.SetCellFormula(sheet, ref, strings.TrimPrefix(string(t), "=")); err != nil {
					return err
				}
			default:
				if err := b.f.SetCellValue(sheet, ref, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *book) freezeHeader(sheet string) error {
	return b.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func cellRef(col, row int) string {
	ref, _ := excelize.CoordinatesToCellName(col, row)
	return ref
}
