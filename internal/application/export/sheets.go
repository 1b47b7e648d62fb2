package export

import (
	"fmt"
	"sort"

	"ibms-backend/internal/domain"
)

// Computed sheet names. These are regenerated on every export.
const (
	SheetSeed           = "IBMS_기초데이터"
	SheetIncomeSummary  = "IBMS_수입총괄_자동"
	SheetExpenseSummary = "IBMS_지출총괄_자동"
	SheetDeferred       = "IBMS_보류시트_샘플"
	SheetAssetSample    = "IBMS_자산명세서_샘플"
	SheetLaborSample    = "IBMS_총인건비_샘플"
)

const sampleNote = "후속 구현 전 샘플 데이터"

// BaseAmountHeader labels the baseline column. A transfer round's baseline is the
// source round's amount, not last year's.
func BaseAmountHeader(v *domain.BudgetVersion) string {
	if v.IsTransfer() {
		return "원래 예산액(원)"
	}
	return "전년도 예산액(원)"
}

func (b *book) writeSeedSheet(v *domain.BudgetVersion, rows []entryRow) error {
	if err := b.resetSheet(SheetSeed); err != nil {
		return err
	}
	out := [][]interface{}{{
		"연도", "회차", "수입/지출", "장", "관", "항", "목", "과목코드", "과목명", "설명",
		"부서", "조직", "과제명", "현재예산액(원)", BaseAmountHeader(v), "증감액(원)",
		"산출내역수", "상태", "예산구분", "이월구분",
	}}
	for _, r := range rows {
		out = append(out, []interface{}{
			v.Year, v.Round, r.SubjectType, r.Jang, r.Gwan, r.Hang, r.Mok, r.SubjectCode,
			r.SubjectName, r.Description, r.DepartmentName, r.OrgName, r.ProjectName,
			r.Current, r.Previous, r.Current - r.Previous, r.DetailCount, r.Status,
			r.Category, r.CarryoverType,
		})
	}
	if err := b.appendRows(SheetSeed, out); err != nil {
		return err
	}
	return b.freezeHeader(SheetSeed)
}

type summaryKey struct {
	jang, gwan, hang, mok, dept string
}

type summaryValue struct {
	current, previous int64
	details, entries  int
}

func aggregate(rows []entryRow, subjectType string) ([]summaryKey, map[summaryKey]*summaryValue) {
	bucket := map[summaryKey]*summaryValue{}
	for _, r := range rows {
		if r.SubjectType != subjectType {
			continue
		}
		k := summaryKey{r.Jang, r.Gwan, r.Hang, firstNonEmpty(r.Mok, r.Hang, r.Gwan, r.Jang), r.DepartmentName}
		v, ok := bucket[k]
		if !ok {
			v = &summaryValue{}
			bucket[k] = v
		}
		v.current += r.Current
		v.previous += r.Previous
		v.details += r.DetailCount
		v.entries++
	}
	keys := make([]summaryKey, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch {
		case a.jang != b.jang:
			return a.jang < b.jang
		case a.gwan != b.gwan:
			return a.gwan < b.gwan
		case a.hang != b.hang:
			return a.hang < b.hang
		case a.mok != b.mok:
			return a.mok < b.mok
		}
		return a.dept < b.dept
	})
	return keys, bucket
}

func (b *book) writeSummarySheet(v *domain.BudgetVersion, rows []entryRow, subjectType string) error {
	title, label := SheetExpenseSummary, "지출"
	if subjectType == domain.SubjectIncome {
		title, label = SheetIncomeSummary, "수입"
	}
	if err := b.resetSheet(title); err != nil {
		return err
	}
	out := [][]interface{}{{
		"구분", "장", "관", "항", "목", "부서", "현재예산액(원)", BaseAmountHeader(v), "증감액(원)", "건수", "산출내역수",
	}}
	keys, bucket := aggregate(rows, subjectType)
	var current, previous int64
	var entries, details int
	for _, k := range keys {
		val := bucket[k]
		out = append(out, []interface{}{
			label, k.jang, k.gwan, k.hang, k.mok, k.dept,
			val.current, val.previous, val.current - val.previous, val.entries, val.details,
		})
		current += val.current
		previous += val.previous
		entries += val.entries
		details += val.details
	}
	if len(keys) == 0 {
		out = append(out, []interface{}{label, "", "", "", "", "", 0, 0, 0, 0, 0})
	}
	out = append(out, []interface{}{"합계", "", "", "", "", "", current, previous, current - previous, entries, details})
	if err := b.appendRows(title, out); err != nil {
		return err
	}
	return b.freezeHeader(title)
}

func (b *book) writeDeferredSheet(v *domain.BudgetVersion, rowCount int) error {
	if err := b.resetSheet(SheetDeferred); err != nil {
		return err
	}
	return b.appendRows(SheetDeferred, [][]interface{}{
		{"시트", "현황", "비고"},
		{SheetBasicAsset, "샘플 데이터", "후속 구현 예정"},
		{SheetOrdinaryAsset, "샘플 데이터", "후속 구현 예정"},
		{SheetLaborStatement, "샘플 데이터", "후속 구현 예정"},
		nil,
		{"기준정보", "값"},
		{"연도", v.Year},
		{"회차", v.Round},
		{"대상 엔트리 수", rowCount},
	})
}

func (b *book) writeAssetSampleSheet(v *domain.BudgetVersion) error {
	if err := b.resetSheet(SheetAssetSample); err != nil {
		return err
	}
	err := b.appendRows(SheetAssetSample, [][]interface{}{
		{"구분", "자산명", "취득일", "취득가액(원)", "내용연수(년)", "비고"},
		{"기본재산", "토지(샘플)", fmt.Sprintf("%d-01-01", v.Year-1), 100_000_000, 50, sampleNote},
		{"보통재산", "업무용 비품(샘플)", fmt.Sprintf("%d-03-01", v.Year), 3_000_000, 5, sampleNote},
		nil,
		{"기준연도", v.Year, "", "", "", ""},
	})
	if err != nil {
		return err
	}
	return b.freezeHeader(SheetAssetSample)
}

func (b *book) writeLaborSampleSheet(v *domain.BudgetVersion) error {
	if err := b.resetSheet(SheetLaborSample); err != nil {
		return err
	}
	err := b.appendRows(SheetLaborSample, [][]interface{}{
		{"구분", "인원수", "평균연봉(원)", "인건비(원)", "비고"},
		{"정규직(샘플)", 10, 50_000_000, formula("=B2*C2"), sampleNote},
		{"계약직(샘플)", 4, 32_000_000, formula("=B3*C3"), sampleNote},
		{"합계", formula("=SUM(B2:B3)"), "", formula("=SUM(D2:D3)"), fmt.Sprintf("%d년 기준", v.Year)},
	})
	if err != nil {
		return err
	}
	return b.freezeHeader(SheetLaborSample)
}
