package versions

import (
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/metrics"

	"gorm.io/gorm"
)

// cloneEntries copies source entries and their details into target as DRAFT rows.
// The new baseline is the source total (the detail sum when the stored total is zero), and
// totals start equal to it. Each detail keeps a pointer to its source and a snapshot of it.
func cloneEntries(tx *gorm.DB, sources []domain.BudgetEntry, target *domain.BudgetVersion, category string) (int, int, error) {
	if len(sources) == 0 {
		return 0, 0, nil
	}
	ids := make([]int64, 0, len(sources))
	for _, e := range sources {
		ids = append(ids, e.ID)
	}
	var srcDetails []domain.BudgetDetail
	if err := tx.Where("entry_id IN ?", ids).Order("sort_order ASC, id ASC").Find(&srcDetails).Error; err != nil {
		return 0, 0, err
	}
	detailsByEntry := map[int64][]domain.BudgetDetail{}
	for _, d := range srcDetails {
		detailsByEntry[d.EntryID] = append(detailsByEntry[d.EntryID], d)
	}

	projects := projectMapper{tx: tx, year: target.Year, mapped: map[int64]int64{}}
	var detailRows []domain.BudgetDetail
	for _, src := range sources {
		baseline := src.TotalAmount
		if baseline == 0 {
			for i := range detailsByEntry[src.ID] {
				baseline += detailsByEntry[src.ID][i].TotalPrice()
			}
		}
		projectID, err := projects.resolve(src.EntrustedProjectID)
		if err != nil {
			return 0, 0, err
		}

		entry := domain.BudgetEntry{
			SubjectID:          src.SubjectID,
			OrganizationID:     src.OrganizationID,
			EntrustedProjectID: projectID,
			Year:               target.Year,
			SupplementalRound:  target.Round,
			Status:             domain.EntryDraft,
			LastYearAmount:     baseline,
			BudgetCategory:     category,
			CarryoverType:      src.CarryoverType,
			TotalAmount:        baseline,
			ExecutedAmount:     0,
			RemainingAmount:    baseline,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return 0, 0, err
		}

		for _, d := range detailsByEntry[src.ID] {
			sourceID := d.ID
			row := domain.BudgetDetail{
				EntryID:              entry.ID,
				Name:                 d.Name,
				Price:                d.Price,
				Qty:                  d.Qty,
				Freq:                 d.Freq,
				CurrencyUnit:         d.CurrencyUnit,
				Unit:                 d.Unit,
				FreqUnit:             d.FreqUnit,
				SubLabel:             d.SubLabel,
				SortOrder:            d.SortOrder,
				Source:               d.Source,
				IsRate:               d.IsRate,
				OrganizationID:       d.OrganizationID,
				RegionContext:        d.RegionContext,
				WeatherContext:       d.WeatherContext,
				EvidenceSourceName:   d.EvidenceSourceName,
				EvidenceSourceURL:    d.EvidenceSourceURL,
				EvidenceAsOf:         d.EvidenceAsOf,
				TransferSourceDetail: &sourceID,
			}
			if err := row.SetBefore(d.Snapshot()); err != nil {
				return 0, 0, err
			}
			detailRows = append(detailRows, row)
		}
	}
	if len(detailRows) > 0 {
		if err := tx.CreateInBatches(&detailRows, 200).Error; err != nil {
			return 0, 0, err
		}
	}
	mode := domain.CreationModeNew
	if target.IsTransfer() {
		mode = domain.CreationModeTransfer
	}
	metrics.ClonedEntries.WithLabelValues(mode).Add(float64(len(sources)))
	return len(sources), len(detailRows), nil
}

// projectMapper links entrusted projects across years: a project of another year is replaced by
// the target-year project with the same (org, code) or (org, name), created when missing.
type projectMapper struct {
	tx     *gorm.DB
	year   int
	mapped map[int64]int64
}

func (m *projectMapper) resolve(projectID *int64) (*int64, error) {
	if projectID == nil {
		return nil, nil
	}
	if id, ok := m.mapped[*projectID]; ok {
		return &id, nil
	}
	var src domain.EntrustedProject
	if err := m.tx.First(&src, *projectID).Error; err != nil {
		return nil, err
	}
	if src.Year == m.year {
		m.mapped[src.ID] = src.ID
		return &src.ID, nil
	}

	var existing domain.EntrustedProject
	err := m.tx.Where("organization_id = ? AND year = ? AND code = ?", src.OrganizationID, m.year, src.Code).
		Order("id ASC").Limit(1).Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID == 0 {
		err = m.tx.Where("organization_id = ? AND year = ? AND name = ?", src.OrganizationID, m.year, src.Name).
			Order("id ASC").Limit(1).Find(&existing).Error
		if err != nil {
			return nil, err
		}
	}
	if existing.ID == 0 {
		sourceID := src.ID
		existing = domain.EntrustedProject{
			OrganizationID:  src.OrganizationID,
			Year:            m.year,
			Code:            src.Code,
			Name:            src.Name,
			Status:          domain.ProjectPlanned,
			SourceProjectID: &sourceID,
		}
		if err := m.tx.Create(&existing).Error; err != nil {
			return nil, err
		}
	}
	m.mapped[src.ID] = existing.ID
	id := existing.ID
	return &id, nil
}
