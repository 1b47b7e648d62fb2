package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ibms-backend/internal/application/entries"
	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrVersionNotFound  = errors.New("Version not found")
	ErrVersionExists    = errors.New("A version for this year and round already exists.")
	ErrNotVersionEditor = errors.New("Version management is allowed only for MANAGER or ADMIN.")
	ErrAdminOnly        = errors.New("Version delete is ADMIN-only.")
)

// Service manages budget rounds.
type Service struct {
	DB     *gorm.DB
	Scopes *scope.Resolver
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// View adds the computed status to a version.
type View struct {
	domain.BudgetVersion
	ComputedStatus string `json:"computed_status"`
}

func (s *Service) view(v domain.BudgetVersion) View {
	return View{BudgetVersion: v, ComputedStatus: v.ComputedStatus(s.now())}
}

func requireEditor(actor *domain.Actor) error {
	if actor == nil || !constants.AllowedRole(constants.ManageVersions, actor.Role) {
		return apperr.Permission("role_not_allowed", ErrNotVersionEditor.Error())
	}
	return nil
}

func requireAdmin(actor *domain.Actor) error {
	if actor == nil || !constants.AllowedRole(constants.DeleteVersions, actor.Role) {
		return apperr.Permission("role_not_allowed", ErrAdminOnly.Error())
	}
	return nil
}

func versionNotFound() error {
	return apperr.NotFound("version_not_found", ErrVersionNotFound.Error())
}

func load(tx *gorm.DB, id int64) (*domain.BudgetVersion, error) {
	var v domain.BudgetVersion
	if err := tx.First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, versionNotFound()
		}
		return nil, err
	}
	return &v, nil
}

// List returns versions newest first, optionally for one year.
func (s *Service) List(ctx context.Context, year *int) ([]View, error) {
	q := s.DB.WithContext(ctx).Order("year DESC, round DESC")
	if year != nil {
		q = q.Where("year = ?", *year)
	}
	var rows []domain.BudgetVersion
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for _, v := range rows {
		out = append(out, s.view(v))
	}
	return out, nil
}

// Get returns one version.
func (s *Service) Get(ctx context.Context, id int64) (*View, error) {
	v, err := load(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	out := s.view(*v)
	return &out, nil
}

// Input is the plain create payload.
type Input struct {
	Year       int        `json:"year"`
	Round      int        `json:"round"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
	Guidelines *string    `json:"guidelines"`
}

// Create inserts a NEW version without cloning.
func (s *Service) Create(ctx context.Context, actor *domain.Actor, in Input) (*View, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	status := strings.ToUpper(strings.TrimSpace(in.Status))
	if status == "" {
		status = domain.VersionDraft
	}
	v := &domain.BudgetVersion{
		Year:         in.Year,
		Round:        in.Round,
		Name:         strings.TrimSpace(in.Name),
		Status:       status,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Guidelines:   in.Guidelines,
		CreationMode: domain.CreationModeNew,
	}
	if v.Name == "" {
		v.Name = DefaultName(v.Year, v.Round)
	}
	if err := validate(v); err != nil {
		return nil, err
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.BudgetVersion{}).Where("year = ? AND round = ?", v.Year, v.Round).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Validation("version_exists", ErrVersionExists.Error())
		}
		return tx.Create(v).Error
	})
	if err != nil {
		return nil, err
	}
	out := s.view(*v)
	return &out, nil
}

// Update patches name, status, window and guidelines.
func (s *Service) Update(ctx context.Context, actor *domain.Actor, id int64, in Input) (*View, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	var out View
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := load(tx, id)
		if err != nil {
			return err
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			v.Name = name
		}
		if st := strings.ToUpper(strings.TrimSpace(in.Status)); st != "" {
			v.Status = st
			if st == domain.VersionConfirmed {
				now := s.now()
				v.ConfirmedAt = &now
			}
		}
		v.StartDate, v.EndDate = in.StartDate, in.EndDate
		if in.Guidelines != nil {
			v.Guidelines = in.Guidelines
		}
		if err := validate(v); err != nil {
			return err
		}
		if err := tx.Save(v).Error; err != nil {
			return err
		}
		out = s.view(*v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func validate(v *domain.BudgetVersion) error {
	if v.Year <= 0 {
		return apperr.Validation("year_required", "year required").WithField("year")
	}
	if v.Round < 0 {
		return apperr.Validation("invalid_round", "round must be zero or positive.").WithField("round")
	}
	if !validRawStatus(v.Status) {
		return apperr.Validation("invalid_status", "invalid status.").WithField("status")
	}
	if v.StartDate != nil && v.EndDate != nil && v.EndDate.Before(*v.StartDate) {
		return apperr.Validation("invalid_window", "end_date must not be before start_date.").WithField("end_date")
	}
	return nil
}

func validRawStatus(s string) bool {
	switch s {
	case domain.VersionDraft, domain.VersionPending, domain.VersionConfirmed, domain.VersionClosed:
		return true
	}
	return false
}

// DefaultName is "{year}년 본예산" for round 0 and "{year}년 {n}차 추경" otherwise.
func DefaultName(year, round int) string {
	if round > 0 {
		return fmt.Sprintf("%d년 %d차 추경", year, round)
	}
	return fmt.Sprintf("%d년 본예산", year)
}

// Close sets the raw status to CLOSED.
func (s *Service) Close(ctx context.Context, actor *domain.Actor, id int64) (*View, error) {
	if actor == nil || !constants.AllowedRole(constants.ManageVersions, actor.Role) {
		return nil, apperr.Permission("role_not_allowed", "No permission to close round.")
	}
	return s.setStatus(ctx, id, domain.VersionClosed)
}

// Reopen sets the raw status back to PENDING.
func (s *Service) Reopen(ctx context.Context, actor *domain.Actor, id int64) (*View, error) {
	if actor == nil || !constants.AllowedRole(constants.ManageVersions, actor.Role) {
		return nil, apperr.Permission("role_not_allowed", "No permission to reopen round.")
	}
	return s.setStatus(ctx, id, domain.VersionPending)
}

func (s *Service) setStatus(ctx context.Context, id int64, status string) (*View, error) {
	var out View
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := load(tx, id)
		if err != nil {
			return err
		}
		v.Status = status
		if err := tx.Model(v).Update("status", status).Error; err != nil {
			return err
		}
		out = s.view(*v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int64("version_id", id).Str("status", status).Msg("version status changed")
	return &out, nil
}

// BulkItemError reports one id a bulk call could not process.
type BulkItemError struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	Error      string `json:"error"`
	EntryCount int64  `json:"entry_count,omitempty"`
}

// BulkStatusResult is returned by BulkUpdateStatus.
type BulkStatusResult struct {
	UpdatedIDs []int64         `json:"updated_ids"`
	Errors     []BulkItemError `json:"errors"`
}

// BulkUpdateStatus sets one raw status on many versions. CONFIRMED stamps confirmed_at.
func (s *Service) BulkUpdateStatus(ctx context.Context, actor *domain.Actor, ids []int64, status string) (*BulkStatusResult, error) {
	if actor == nil || !constants.AllowedRole(constants.ManageVersions, actor.Role) {
		return nil, apperr.Permission("role_not_allowed", "No permission for bulk status update.")
	}
	if len(ids) == 0 {
		return nil, apperr.Validation("ids_required", "ids array is required").WithField("ids")
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return nil, apperr.Validation("status_required", "status is required").WithField("status")
	}
	if !validRawStatus(status) {
		return nil, apperr.Validation("invalid_status", "invalid status.").WithField("status")
	}
	res := &BulkStatusResult{UpdatedIDs: []int64{}, Errors: []BulkItemError{}}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			fields := map[string]interface{}{"status": status}
			if status == domain.VersionConfirmed {
				fields["confirmed_at"] = s.now()
			}
			r := tx.Model(&domain.BudgetVersion{}).Where("id = ?", id).Updates(fields)
			if r.Error != nil {
				return r.Error
			}
			if r.RowsAffected == 0 {
				res.Errors = append(res.Errors, BulkItemError{ID: id, Error: "Not found"})
				continue
			}
			res.UpdatedIDs = append(res.UpdatedIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Delete removes an empty version. Versions with entries answer 409 with can_force.
func (s *Service) Delete(ctx context.Context, actor *domain.Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := load(tx, id)
		if err != nil {
			return err
		}
		n, err := entryCount(tx, v)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("version_has_entries",
				fmt.Sprintf("Cannot delete version: linked budget entries exist (%d). Clean up entries first.", n)).
				WithDetail("entry_count", n).
				WithDetail("can_force", true)
		}
		return deleteVersion(tx, v)
	})
}

// ForceDelete removes a version with all of its entries.
func (s *Service) ForceDelete(ctx context.Context, actor *domain.Actor, id int64) (int64, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	var deleted int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := load(tx, id)
		if err != nil {
			return err
		}
		deleted, err = purgeVersionEntries(tx, v)
		if err != nil {
			return err
		}
		return deleteVersion(tx, v)
	})
	if err != nil {
		return 0, err
	}
	log.Warn().Int64("version_id", id).Int64("deleted_entries", deleted).Msg("version force deleted")
	return deleted, nil
}

// BulkDeleteResult is returned by BulkDelete.
type BulkDeleteResult struct {
	DeletedIDs []int64         `json:"deleted_ids"`
	Errors     []BulkItemError `json:"errors"`
}

// BulkDelete deletes many versions; with force their entries go too.
func (s *Service) BulkDelete(ctx context.Context, actor *domain.Actor, ids []int64, force bool) (*BulkDeleteResult, error) {
	if actor == nil || !constants.AllowedRole(constants.DeleteVersions, actor.Role) {
		return nil, apperr.Permission("role_not_allowed", "Version bulk-delete is ADMIN-only.")
	}
	if len(ids) == 0 {
		return nil, apperr.Validation("ids_required", "ids array is required").WithField("ids")
	}
	res := &BulkDeleteResult{DeletedIDs: []int64{}, Errors: []BulkItemError{}}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			v, err := load(tx, id)
			if err != nil {
				if apperr.IsKind(err, apperr.KindNotFound) {
					res.Errors = append(res.Errors, BulkItemError{ID: id, Error: "Not found"})
					continue
				}
				return err
			}
			n, err := entryCount(tx, v)
			if err != nil {
				return err
			}
			if n > 0 && !force {
				res.Errors = append(res.Errors, BulkItemError{ID: id, Name: v.Name, Error: "Linked entries exist", EntryCount: n})
				continue
			}
			if n > 0 {
				if _, err := purgeVersionEntries(tx, v); err != nil {
					return err
				}
			}
			if err := deleteVersion(tx, v); err != nil {
				return err
			}
			res.DeletedIDs = append(res.DeletedIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func entryCount(tx *gorm.DB, v *domain.BudgetVersion) (int64, error) {
	var n int64
	err := tx.Model(&domain.BudgetEntry{}).Where("year = ? AND supplemental_round = ?", v.Year, v.Round).Count(&n).Error
	return n, err
}

func purgeVersionEntries(tx *gorm.DB, v *domain.BudgetVersion) (int64, error) {
	var ids []int64
	if err := tx.Model(&domain.BudgetEntry{}).Where("year = ? AND supplemental_round = ?", v.Year, v.Round).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	return entries.PurgeEntries(tx, ids)
}

// deleteVersion detaches comments and derived versions before removing the row.
func deleteVersion(tx *gorm.DB, v *domain.BudgetVersion) error {
	if err := tx.Where("version_id = ?", v.ID).Delete(&domain.SubmissionComment{}).Error; err != nil {
		return err
	}
	if err := tx.Model(&domain.BudgetVersion{}).Where("source_version_id = ?", v.ID).Update("source_version_id", nil).Error; err != nil {
		return err
	}
	return tx.Delete(v).Error
}
