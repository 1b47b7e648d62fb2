package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/infrastructure/templatestore"
	"ibms-backend/internal/pkg/metrics"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ContentType is the MIME type of every generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Report describes one budget book export.
type Report struct {
	VersionID            int64            `json:"version_id"`
	TemplatePath         string           `json:"template_path"`
	RowCount             int              `json:"row_count"`
	TemplateOverrides    []OverrideRecord `json:"template_overrides"`
	TemplateWarningCount int              `json:"template_warning_count"`
	TemplateWarnings     []OverrideRecord `json:"template_warnings"`
	GeneratedAt          time.Time        `json:"generated_at"`
}

// File is a generated workbook ready to be sent.
type File struct {
	Data        []byte
	FileName    string
	Disposition string
	Report      Report
}

// Service builds budget books. Templates is optional; without it a blank workbook is used.
type Service struct {
	DB        *gorm.DB
	Templates templatestore.Source
	Cache     *ReportCache
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) openWorkbook(ctx context.Context) (*excelize.File, string, error) {
	if s.Templates == nil {
		return excelize.NewFile(), "", nil
	}
	tpl, err := s.Templates.Load(ctx)
	if errors.Is(err, templatestore.ErrNoTemplate) {
		return excelize.NewFile(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	f, err := excelize.OpenReader(bytes.NewReader(tpl.Data))
	if err != nil {
		return nil, "", fmt.Errorf("open template %s: %w", tpl.Location, err)
	}
	return f, tpl.Location, nil
}

// topOrganizationNames lists root organizations by sort order, deduplicated by normalized name.
func topOrganizationNames(db *gorm.DB) ([]string, error) {
	var names []string
	if err := db.Model(&domain.Organization{}).Where("parent_id IS NULL").
		Order("sort_order, id").Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := normalizeKey(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out, nil
}

// BuildBudgetBook renders the budget book of a version. Template override failures are
// reported in the result and never fail the export.
func (s *Service) BuildBudgetBook(ctx context.Context, v *domain.BudgetVersion) (*File, error) {
	started := time.Now()
	f, templatePath, err := s.openWorkbook(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, _, err := collectRows(ctx, s.DB, v.Year, v.Round)
	if err != nil {
		return nil, err
	}
	topOrgs, err := topOrganizationNames(s.DB.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	b := newBook(f)
	overrides := b.writeTemplateOverrides(v, rows, topOrgs)
	warnings := make([]OverrideRecord, 0)
	for _, o := range overrides {
		if o.Warning() {
			warnings = append(warnings, o)
		}
	}

	steps := []func() error{
		func() error { return b.writeSeedSheet(v, rows) },
		func() error { return b.writeSummarySheet(v, rows, domain.SubjectIncome) },
		func() error { return b.writeSummarySheet(v, rows, domain.SubjectExpense) },
		func() error { return b.writeDeferredSheet(v, len(rows)) },
		func() error { return b.writeAssetSampleSheet(v) },
		func() error { return b.writeLaborSampleSheet(v) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}

	name := FileName(v)
	out := &File{
		Data:        buf.Bytes(),
		FileName:    name,
		Disposition: ContentDisposition(name),
		Report: Report{
			VersionID:            v.ID,
			TemplatePath:         templatePath,
			RowCount:             len(rows),
			TemplateOverrides:    overrides,
			TemplateWarningCount: len(warnings),
			TemplateWarnings:     warnings,
			GeneratedAt:          s.now(),
		},
	}

	label := "blank"
	if templatePath != "" {
		label = "template"
	}
	metrics.ExportDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	log.Info().Int64("version_id", v.ID).Int("rows", len(rows)).Int("warnings", len(warnings)).
		Str("template", templatePath).Msg("budget book exported")

	if s.Cache != nil {
		if err := s.Cache.Save(ctx, out.Report); err != nil {
			log.Warn().Err(err).Int64("version_id", v.ID).Msg("export report cache write failed")
		}
	}
	return out, nil
}

// LastReport returns the cached report of the latest export of a version.
func (s *Service) LastReport(ctx context.Context, versionID int64) (*Report, error) {
	if s.Cache == nil {
		return nil, ErrReportNotFound
	}
	return s.Cache.Get(ctx, versionID)
}

// FileName is "{year}_본예산_예산서.xlsx" for round 0 and "{year}_{n}차추경_예산서.xlsx" otherwise.
func FileName(v *domain.BudgetVersion) string {
	label := "본예산"
	if v.Round > 0 {
		label = fmt.Sprintf("%d차추경", v.Round)
	}
	return fmt.Sprintf("%d_%s_예산서.xlsx", v.Year, label)
}

// ContentDisposition builds an RFC 5987 attachment header: an ASCII fallback name plus
// the UTF-8 percent-encoded filename*.
func ContentDisposition(fileName string) string {
	var b strings.Builder
	for _, r := range fileName {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	ascii := b.String()
	switch {
	case ascii == "":
		ascii = "budget_book.xlsx"
	case !strings.HasSuffix(strings.ToLower(ascii), ".xlsx"):
		ascii += ".xlsx"
	default:
		stem := ascii[:len(ascii)-5]
		if !strings.ContainsFunc(stem, unicode.IsLetter) {
			compact := strings.Trim(stem, "_")
			if compact == "" {
				compact = "export"
			}
			ascii = "budget_book_" + compact + ".xlsx"
		}
	}
	return fmt.Sprintf("attachment; filename=%s; filename*=UTF-8''%s", ascii, percentEncode(fileName))
}

// percentEncode escapes every byte except ASCII letters, digits and "-_.~".
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < unicode.MaxASCII && (unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) || strings.IndexByte("-_.~", c) >= 0) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
