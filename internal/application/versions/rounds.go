package versions

import (
	"context"
	"strings"
	"time"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// NextRoundInput is the create_next_round payload. BaseDataMode is the UI alias of CreationMode.
type NextRoundInput struct {
	Year            *int       `json:"year"`
	Name            string     `json:"name"`
	CreationMode    string     `json:"creation_mode"`
	BaseDataMode    string     `json:"base_data_mode"`
	SourceVersionID *int64     `json:"source_version_id"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	Guidelines      *string    `json:"guidelines"`
}

// NextRoundResult is the created or existing version plus clone counters.
type NextRoundResult struct {
	View
	ClonedCount        int    `json:"cloned_count"`
	ClonedDetailCount  int    `json:"cloned_detail_count"`
	AlreadyExists      bool   `json:"already_exists,omitempty"`
	ExistingEntryCount *int64 `json:"existing_entry_count,omitempty"`
	Created            bool   `json:"-"`
}

// creationMode folds aliases: IMPORT_PREVIOUS/IMPORT/TRANSFER and any source id mean TRANSFER.
func creationMode(in NextRoundInput) string {
	mode := strings.ToUpper(strings.TrimSpace(in.CreationMode))
	if mode == "" {
		mode = domain.CreationModeNew
	}
	switch strings.ToUpper(strings.TrimSpace(in.BaseDataMode)) {
	case "IMPORT_PREVIOUS", "IMPORT", domain.CreationModeTransfer:
		mode = domain.CreationModeTransfer
	case domain.CreationModeNew, "EMPTY":
		mode = domain.CreationModeNew
	}
	if in.SourceVersionID != nil && *in.SourceVersionID != 0 {
		mode = domain.CreationModeTransfer
	}
	if mode != domain.CreationModeNew && mode != domain.CreationModeTransfer {
		mode = domain.CreationModeNew
	}
	return mode
}

// CreateNextRound opens round max+1 of a year (0 when the year has none). TRANSFER clones every
// entry of the source version; NEW with round > 0 clones the FINALIZED entries of the previous round.
// When the target round already exists the call reports already_exists and clones only into an
// empty shell.
func (s *Service) CreateNextRound(ctx context.Context, actor *domain.Actor, in NextRoundInput) (*NextRoundResult, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if in.Year == nil {
		return nil, apperr.Validation("year_required", "year required").WithField("year")
	}
	year := *in.Year
	mode := creationMode(in)
	if mode == domain.CreationModeTransfer && (in.SourceVersionID == nil || *in.SourceVersionID == 0) {
		return nil, apperr.Validation("source_required", "source_version_id is required for transfer mode").WithField("source_version_id")
	}

	var res *NextRoundResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest domain.BudgetVersion
		if err := tx.Where("year = ?", year).Order("round DESC").Limit(1).Find(&latest).Error; err != nil {
			return err
		}
		nextRound, err := s.targetRound(tx, &latest, mode, in.SourceVersionID)
		if err != nil {
			return err
		}
		category := domain.CategoryOriginal
		if nextRound > 0 {
			category = domain.CategorySupplemental
		}

		var source *domain.BudgetVersion
		var sources []domain.BudgetEntry
		if mode == domain.CreationModeTransfer {
			v, err := load(tx, *in.SourceVersionID)
			if err != nil {
				if apperr.IsKind(err, apperr.KindNotFound) {
					return apperr.NotFound("source_not_found", "source version not found")
				}
				return err
			}
			source = v
			if err := tx.Where("year = ? AND supplemental_round = ?", v.Year, v.Round).Order("id ASC").Find(&sources).Error; err != nil {
				return err
			}
			if len(sources) == 0 {
				return apperr.NotFound("source_empty", "source version has no entries")
			}
		} else if nextRound > 0 {
			if err := tx.Where("year = ? AND supplemental_round = ? AND status = ?", year, nextRound-1, domain.EntryFinalized).
				Order("id ASC").Find(&sources).Error; err != nil {
				return err
			}
		}

		if latest.ID != 0 && latest.Round == nextRound {
			return s.cloneIntoExisting(tx, &latest, mode, source, sources, category, &res)
		}

		version := domain.BudgetVersion{
			Year:         year,
			Round:        nextRound,
			Name:         strings.TrimSpace(in.Name),
			Status:       domain.VersionDraft,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
			Guidelines:   in.Guidelines,
			CreationMode: domain.CreationModeNew,
		}
		if version.Name == "" {
			version.Name = DefaultName(year, nextRound)
		}
		if mode == domain.CreationModeTransfer {
			version.CreationMode = domain.CreationModeTransfer
			version.SourceVersionID = &source.ID
		}
		if err := validate(&version); err != nil {
			return err
		}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		cloned, clonedDetails, err := cloneEntries(tx, sources, &version, category)
		if err != nil {
			return err
		}
		res = &NextRoundResult{View: s.view(version), ClonedCount: cloned, ClonedDetailCount: clonedDetails, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int64("version_id", res.ID).Int("round", res.Round).Str("mode", res.CreationMode).
		Int("cloned", res.ClonedCount).Bool("already_exists", res.AlreadyExists).Msg("next round created")
	return res, nil
}

// targetRound is latest+1, except that an empty latest round, or a latest round already
// transferred from the same source, is the target again so a repeated call cannot double entries.
func (s *Service) targetRound(tx *gorm.DB, latest *domain.BudgetVersion, mode string, sourceID *int64) (int, error) {
	if latest.ID == 0 {
		return 0, nil
	}
	if mode == domain.CreationModeTransfer && latest.SourceVersionID != nil && *latest.SourceVersionID == *sourceID {
		return latest.Round, nil
	}
	n, err := entryCount(tx, latest)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return latest.Round, nil
	}
	return latest.Round + 1, nil
}

// cloneIntoExisting fills an empty pre-existing shell on TRANSFER; otherwise it only reports.
func (s *Service) cloneIntoExisting(tx *gorm.DB, version *domain.BudgetVersion, mode string, source *domain.BudgetVersion,
	sources []domain.BudgetEntry, category string, out **NextRoundResult) error {
	existing, err := entryCount(tx, version)
	if err != nil {
		return err
	}
	cloned, clonedDetails := 0, 0
	if mode == domain.CreationModeTransfer && source != nil && len(sources) > 0 && existing == 0 {
		version.CreationMode = domain.CreationModeTransfer
		version.SourceVersionID = &source.ID
		if err := tx.Model(version).Updates(map[string]interface{}{
			"creation_mode":     version.CreationMode,
			"source_version_id": source.ID,
		}).Error; err != nil {
			return err
		}
		if cloned, clonedDetails, err = cloneEntries(tx, sources, version, category); err != nil {
			return err
		}
		if existing, err = entryCount(tx, version); err != nil {
			return err
		}
	}
	*out = &NextRoundResult{
		View:               s.view(*version),
		ClonedCount:        cloned,
		ClonedDetailCount:  clonedDetails,
		AlreadyExists:      true,
		ExistingEntryCount: &existing,
	}
	return nil
}

// CloneResult is returned by CloneFromPrevious.
type CloneResult struct {
	Status            string `json:"status"`
	ClonedCount       int    `json:"cloned_count"`
	ClonedDetailCount int    `json:"cloned_detail_count"`
}

// CloneFromPrevious copies (sourceYear, sourceRound) into an empty DRAFT version and marks it TRANSFER.
func (s *Service) CloneFromPrevious(ctx context.Context, actor *domain.Actor, id int64, sourceYear *int, sourceRound int) (*CloneResult, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	if sourceYear == nil {
		return nil, apperr.Validation("source_year_required", "source_year is required").WithField("source_year")
	}
	var res *CloneResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := load(tx, id)
		if err != nil {
			return err
		}
		if target.ComputedStatus(s.now()) != domain.VersionDraft {
			return apperr.State("target_not_draft", "Target version must be DRAFT")
		}
		n, err := entryCount(tx, target)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Validation("target_not_empty", "Target version already has data. Please clear it first.")
		}
		var sources []domain.BudgetEntry
		if err := tx.Where("year = ? AND supplemental_round = ?", *sourceYear, sourceRound).Order("id ASC").Find(&sources).Error; err != nil {
			return err
		}
		if len(sources) == 0 {
			return apperr.NotFound("source_empty", "Source version has no data.")
		}
		var source domain.BudgetVersion
		if err := tx.Where("year = ? AND round = ?", *sourceYear, sourceRound).Limit(1).Find(&source).Error; err != nil {
			return err
		}

		target.CreationMode = domain.CreationModeTransfer
		fields := map[string]interface{}{"creation_mode": domain.CreationModeTransfer}
		if source.ID != 0 {
			target.SourceVersionID = &source.ID
			fields["source_version_id"] = source.ID
		}
		if err := tx.Model(target).Updates(fields).Error; err != nil {
			return err
		}
		category := domain.CategoryOriginal
		if target.Round > 0 {
			category = domain.CategorySupplemental
		}
		cloned, clonedDetails, err := cloneEntries(tx, sources, target, category)
		if err != nil {
			return err
		}
		res = &CloneResult{Status: "ok", ClonedCount: cloned, ClonedDetailCount: clonedDetails}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
