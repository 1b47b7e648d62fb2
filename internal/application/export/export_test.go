package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/infrastructure/templatestore"
	"ibms-backend/internal/pkg/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type memTemplate struct{ data []byte }

func (m *memTemplate) Load(context.Context) (*templatestore.Template, error) {
	if m.data == nil {
		return nil, templatestore.ErrNoTemplate
	}
	return &templatestore.Template{Location: "mem://template.xlsx", Data: m.data}, nil
}

func setupExportTest(t *testing.T) (*Service, *gorm.DB, *domain.BudgetVersion) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	dept1 := int64(1)
	require.NoError(t, db.Create(&domain.Organization{ID: 1, Name: "기획예산과", Code: "D01", OrgType: domain.OrgTypeDept, SortOrder: 1}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 2, Name: "총무과", Code: "D02", OrgType: domain.OrgTypeDept, SortOrder: 2}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: 3, Name: "예산팀", Code: "T01", OrgType: domain.OrgTypeTeam, ParentID: &dept1}).Error)

	p1, p3 := int64(1), int64(3)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 1, Code: "1000", Name: "사업수입", Level: 1, SubjectType: domain.SubjectIncome}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 2, Code: "1100", Name: "용역수입", Level: 2, ParentID: &p1, SubjectType: domain.SubjectIncome}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 3, Code: "6000", Name: "인건비", Level: 1, SubjectType: domain.SubjectExpense}).Error)
	require.NoError(t, db.Create(&domain.BudgetSubject{ID: 4, Code: "6100", Name: "급여", Level: 2, ParentID: &p3, SubjectType: domain.SubjectExpense}).Error)

	entries := []domain.BudgetEntry{
		{ID: 1, SubjectID: 2, OrganizationID: 3, Year: 2026, Status: domain.EntryFinalized, TotalAmount: 1_234_500, LastYearAmount: 1_000_000},
		{ID: 2, SubjectID: 4, OrganizationID: 2, Year: 2026, Status: domain.EntryPending, TotalAmount: 2_500_499},
		{ID: 3, SubjectID: 4, OrganizationID: 1, Year: 2026, Status: domain.EntryDraft},
		{ID: 4, SubjectID: 4, OrganizationID: 1, Year: 2026, SupplementalRound: 1, TotalAmount: 9_999_999},
	}
	for i := range entries {
		entries[i].BudgetCategory = domain.CategoryOriginal
		entries[i].CarryoverType = domain.CarryoverNone
		require.NoError(t, db.Create(&entries[i]).Error)
	}
	require.NoError(t, db.Create(&domain.BudgetDetail{EntryID: 3, Name: "수당", Price: 1000, Qty: 2, Freq: 1,
		CurrencyUnit: "원", Unit: "식", FreqUnit: "회", Source: "SELF"}).Error)

	v := &domain.BudgetVersion{ID: 7, Year: 2026, Round: 0, Name: "2026년 본예산", Status: domain.VersionDraft, CreationMode: domain.CreationModeNew}
	require.NoError(t, db.Create(v).Error)

	return &Service{
		DB:  db,
		Now: func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) },
	}, db, v
}

// officialTemplate builds a reduced copy of the official workbook layout.
func officialTemplate(t *testing.T) []byte {
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", SheetMatrix))
	require.NoError(t, f.SetCellValue(SheetMatrix, "F3", "기획예산과"))
	require.NoError(t, f.SetCellValue(SheetMatrix, "G3", "총무과"))
	require.NoError(t, f.SetCellValue(SheetMatrix, "A4", "수입계"))
	require.NoError(t, f.SetCellFormula(SheetMatrix, "F16", "F3"))
	require.NoError(t, f.SetCellFormula(SheetMatrix, "G16", "G3"))
	require.NoError(t, f.SetCellValue(SheetMatrix, "A17", "지출계"))
	require.NoError(t, f.SetCellFormula(SheetMatrix, "E17", "SUM(E18:E20)"))

	_, err := f.NewSheet(SheetIncomeTotal)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(SheetIncomeTotal, "A5", "수 입 계"))

	_, err = f.NewSheet(SheetExpenseTotal)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(SheetExpenseTotal, "A5", "합계"))

	_, err = f.NewSheet(SheetLaborStatement)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(SheetLaborStatement, "B2", "<기준일 : 2024. 12. 31 >"))
	require.NoError(t, f.MergeCell(SheetLaborStatement, "F6", "G6"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func openResult(t *testing.T, out *File) *excelize.File {
	f, err := excelize.OpenReader(bytes.NewReader(out.Data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func raw(t *testing.T, f *excelize.File, sheet, ref string) string {
	v, err := f.GetCellValue(sheet, ref, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func reasons(records []OverrideRecord) map[string]string {
	out := map[string]string{}
	for _, r := range records {
		out[r.Sheet] = r.Reason
	}
	return out
}

func TestBuildBudgetBook_TemplateOverrides(t *testing.T) {
	svc, _, v := setupExportTest(t)
	svc.Templates = &memTemplate{data: officialTemplate(t)}

	out, err := svc.BuildBudgetBook(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, "mem://template.xlsx", out.Report.TemplatePath)
	assert.Equal(t, 3, out.Report.RowCount)

	assert.Equal(t, map[string]string{
		SheetMatrix:         ReasonOK,
		SheetIncomeTotal:    ReasonOK,
		SheetExpenseTotal:   ReasonSummaryRowNotFound,
		SheetBasicAsset:     ReasonSheetNotFound,
		SheetOrdinaryAsset:  ReasonSheetNotFound,
		SheetLaborStatement: ReasonOK,
	}, reasons(out.Report.TemplateOverrides))
	assert.Equal(t, 3, out.Report.TemplateWarningCount)
	require.Len(t, out.Report.TemplateWarnings, 3)

	f := openResult(t, out)

	// cross-tab in thousands, half to even
	assert.Equal(t, "1234", raw(t, f, SheetMatrix, "E4"))
	assert.Equal(t, "1234", raw(t, f, SheetMatrix, "F4"))
	assert.Equal(t, "0", raw(t, f, SheetMatrix, "G4"))
	// formula header falls back to the income header; team amounts roll up to the root department
	assert.Equal(t, "2", raw(t, f, SheetMatrix, "F17"))
	assert.Equal(t, "2500", raw(t, f, SheetMatrix, "G17"))

	assert.Equal(t, "1234", raw(t, f, SheetIncomeTotal, "E5"))
	assert.Equal(t, "1000", raw(t, f, SheetIncomeTotal, "F5"))
	assert.Equal(t, "234", raw(t, f, SheetIncomeTotal, "G5"))

	assert.Equal(t, "<기준일 : 2025. 12. 31 >", raw(t, f, SheetLaborStatement, "B2"))
	assert.Equal(t, "120315", raw(t, f, SheetLaborStatement, "F6"))
	assert.Equal(t, "", raw(t, f, SheetLaborStatement, "G6"))
}

func TestBuildBudgetBook_PreservesFormulas(t *testing.T) {
	svc, _, v := setupExportTest(t)
	svc.Templates = &memTemplate{data: officialTemplate(t)}

	out, err := svc.BuildBudgetBook(context.Background(), v)
	require.NoError(t, err)
	f := openResult(t, out)

	for ref, want := range map[string]string{"E17": "SUM(E18:E20)", "F16": "F3", "G16": "G3"} {
		got, err := f.GetCellFormula(SheetMatrix, ref)
		require.NoError(t, err)
		assert.Equal(t, want, got, ref)
	}
}

func TestBuildBudgetBook_KeepsFormulaHeadersAndCaptions(t *testing.T) {
	svc, _, v := setupExportTest(t)

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", SheetMatrix))
	require.NoError(t, f.SetCellFormula(SheetMatrix, "F3", "Z1"))
	require.NoError(t, f.SetCellValue(SheetMatrix, "A4", "수입계"))
	_, err := f.NewSheet(SheetBasicAsset)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(SheetBasicAsset, "B2", `="<기준일 : "&Z1&" >"`))
	_, err = f.NewSheet(SheetOrdinaryAsset)
	require.NoError(t, err)
	require.NoError(t, f.SetCellFormula(SheetOrdinaryAsset, "F3", "기본재산명세서!B2"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	svc.Templates = &memTemplate{data: buf.Bytes()}

	out, err := svc.BuildBudgetBook(context.Background(), v)
	require.NoError(t, err)
	res := openResult(t, out)

	got, err := res.GetCellFormula(SheetMatrix, "F3")
	require.NoError(t, err)
	assert.Equal(t, "Z1", got)
	got, err = res.GetCellFormula(SheetOrdinaryAsset, "F3")
	require.NoError(t, err)
	assert.Equal(t, "기본재산명세서!B2", got)
	assert.Equal(t, `="<기준일 : "&Z1&" >"`, raw(t, res, SheetBasicAsset, "B2"))
}

func TestSet_SkipsFormulaCells(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellFormula("Sheet1", "C3", "A1&B1"))
	require.NoError(t, f.SetCellValue("Sheet1", "C4", "<기준일 : 2024. 12. 31 >"))
	b := newBook(f)

	n, err := b.set("Sheet1", 3, 3, referenceDate(2026))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	fx, err := f.GetCellFormula("Sheet1", "C3")
	require.NoError(t, err)
	assert.Equal(t, "A1&B1", fx)

	n, err = b.set("Sheet1", 3, 4, referenceDate(2026))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, err := f.GetCellValue("Sheet1", "C4")
	require.NoError(t, err)
	assert.Equal(t, "<기준일 : 2025. 12. 31 >", v)
}

func TestBuildBudgetBook_ComputedSheets(t *testing.T) {
	svc, _, v := setupExportTest(t)

	out, err := svc.BuildBudgetBook(context.Background(), v)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Data)
	assert.Equal(t, "", out.Report.TemplatePath)
	assert.Equal(t, 6, out.Report.TemplateWarningCount)

	f := openResult(t, out)
	sheets := f.GetSheetList()
	for _, name := range []string{SheetSeed, SheetIncomeSummary, SheetExpenseSummary, SheetDeferred, SheetAssetSample, SheetLaborSample} {
		assert.Contains(t, sheets, name)
	}

	rows, err := f.GetRows(SheetSeed)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "전년도 예산액(원)", rows[0][14])
	// expense entries sort before income ones, then by subject code and organization
	assert.Equal(t, "expense", rows[1][2])
	assert.Equal(t, "기획예산과", rows[1][10])
	assert.Equal(t, "2000", raw(t, f, SheetSeed, "N2"))
	assert.Equal(t, "income", rows[3][2])
	assert.Equal(t, "예산팀", rows[3][11])
	assert.Equal(t, "234500", raw(t, f, SheetSeed, "P4"))

	summary, err := f.GetRows(SheetExpenseSummary)
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, "합계", summary[3][0])
	assert.Equal(t, "2502499", raw(t, f, SheetExpenseSummary, "G4"))

	fx, err := f.GetCellFormula(SheetLaborSample, "D2")
	require.NoError(t, err)
	assert.Equal(t, "B2*C2", fx)
}

func TestBuildBudgetBook_TransferHeader(t *testing.T) {
	svc, db, v := setupExportTest(t)
	require.NoError(t, db.Model(v).Update("creation_mode", domain.CreationModeTransfer).Error)
	v.CreationMode = domain.CreationModeTransfer

	out, err := svc.BuildBudgetBook(context.Background(), v)
	require.NoError(t, err)
	f := openResult(t, out)
	assert.Equal(t, "원래 예산액(원)", raw(t, f, SheetIncomeSummary, "H1"))
}

func TestBuildBudgetBook_CachesReport(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	svc, _, v := setupExportTest(t)
	svc.Cache = &ReportCache{RDB: rdb}

	_, err = svc.LastReport(context.Background(), v.ID)
	assert.True(t, errors.Is(err, ErrReportNotFound))

	_, err = svc.BuildBudgetBook(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, mr.Exists("export:report:7"))

	r, err := svc.LastReport(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, r.RowCount)
	assert.Equal(t, 6, r.TemplateWarningCount)
}

type sheetBroken struct{}

func (sheetBroken) Error() string { return "broken" }

func TestRunSafe_IsolatesFailures(t *testing.T) {
	rec := runSafe("x", func() (OverrideRecord, error) { return OverrideRecord{}, sheetBroken{} })
	assert.Equal(t, OverrideRecord{Sheet: "x", Applied: false, Reason: "error:sheetBroken"}, rec)

	rec = runSafe("y", func() (OverrideRecord, error) { panic(&sheetBroken{}) })
	assert.Equal(t, "error:sheetBroken", rec.Reason)
	assert.True(t, rec.Warning())

	rec = runSafe("z", func() (OverrideRecord, error) { return record("z", true, ReasonNoRootOrganizations, 2), nil })
	assert.False(t, rec.Warning())
}

func TestToThousandWon(t *testing.T) {
	cases := map[int64]int64{0: 0, 499: 0, 500: 0, 1500: 2, 2500: 2, 1_234_567: 1235, -1500: -2}
	for in, want := range cases {
		assert.Equal(t, want, toThousandWon(in), in)
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "수입계", normalizeKey(" 수 입-계 "))
	assert.Equal(t, "총인건비명세서", normalizeKey("총인건비명세서 "))
	assert.Equal(t, "abc", normalizeKey("A.B_C"))
}

func TestFileNameAndDisposition(t *testing.T) {
	v := &domain.BudgetVersion{Year: 2026}
	assert.Equal(t, "2026_본예산_예산서.xlsx", FileName(v))
	assert.Equal(t,
		"attachment; filename=budget_book_2026.xlsx; filename*=UTF-8''2026_%EB%B3%B8%EC%98%88%EC%82%B0_%EC%98%88%EC%82%B0%EC%84%9C.xlsx",
		ContentDisposition(FileName(v)))

	v.Round = 2
	assert.Equal(t, "2026_2차추경_예산서.xlsx", FileName(v))
	assert.Equal(t,
		"attachment; filename=budget_book_2026_2.xlsx; filename*=UTF-8''2026_2%EC%B0%A8%EC%B6%94%EA%B2%BD_%EC%98%88%EC%82%B0%EC%84%9C.xlsx",
		ContentDisposition(FileName(v)))

	assert.Equal(t, "attachment; filename=report.xlsx; filename*=UTF-8''report.xlsx", ContentDisposition("report.xlsx"))
	assert.Equal(t, "attachment; filename=budget_book.xlsx; filename*=UTF-8''%EC%98%88%EC%82%B0", ContentDisposition("예산"))
}

func TestDepartmentBudget(t *testing.T) {
	svc, _, v := setupExportTest(t)
	ctx := context.Background()

	out, err := svc.DepartmentBudget(ctx, scope.Of(1, 3), v, 1)
	require.NoError(t, err)
	assert.Equal(t, "기획예산과_부서예산서_2026.xlsx", out.FileName)

	f := openResult(t, out)
	assert.Equal(t, []string{"수입(기획예산과)", "지출(기획예산과)"}, f.GetSheetList())
	assert.Equal(t, "수입계", raw(t, f, "수입(기획예산과)", "A4"))
	assert.Equal(t, "1234500", raw(t, f, "수입(기획예산과)", "E4"))
	assert.Equal(t, "사업수입", raw(t, f, "수입(기획예산과)", "A5"))
	assert.Equal(t, "용역수입", raw(t, f, "수입(기획예산과)", "B6"))
	assert.Equal(t, "  - [기획예산과] 산출내역 없음", raw(t, f, "수입(기획예산과)", "H8"))

	fx, err := f.GetCellFormula("지출(기획예산과)", "G4")
	require.NoError(t, err)
	assert.Equal(t, "E4-F4", fx)
	assert.Equal(t, "  - 수당", raw(t, f, "지출(기획예산과)", "H8"))
	assert.Equal(t, "2000", raw(t, f, "지출(기획예산과)", "I8"))

	_, err = svc.DepartmentBudget(ctx, scope.Of(2), v, 1)
	assert.True(t, apperr.IsKind(err, apperr.KindPermission))
	_, err = svc.DepartmentBudget(ctx, scope.Unrestricted(), v, 99)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestDepartmentSheetTitle(t *testing.T) {
	assert.Equal(t, "지출(기획)", departmentSheetTitle("기획조정실", "지출"))
	assert.Equal(t, "수입(경영)", departmentSheetTitle("경영지원본부", "수입"))
	assert.Equal(t, "수입(총무과)", departmentSheetTitle("총무과", "수입"))
}
