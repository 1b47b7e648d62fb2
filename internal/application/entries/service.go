package entries

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/infrastructure/database"
	"ibms-backend/internal/pkg/apperr"

	"gorm.io/gorm"
)

var (
	ErrEntryNotFound     = errors.New("Budget entry not found")
	ErrDuplicateEntry    = errors.New("이미 동일한 조건의 예산 과목이 존재합니다.")
	ErrBaselineLocked    = errors.New("Transfer imported entries must keep original baseline amount.")
	ErrClosedRound       = errors.New("Cannot delete entries in a closed round.")
	ErrNoWritePermission = errors.New("No permission to modify budget data.")
)

// Service implements budget entry CRUD, the workflow state machine and totals.
type Service struct {
	DB     *gorm.DB
	Scopes *scope.Resolver
	Audit  *audit.Writer
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ListFilter mirrors the entry list query parameters.
type ListFilter struct {
	Org                string
	Year               *int
	Round              *int
	EntrustedProjectID *int64
	Query              string
}

// CreateInput is the entry create payload.
type CreateInput struct {
	SubjectID          int64  `json:"subject"`
	OrganizationID     int64  `json:"organization"`
	EntrustedProjectID *int64 `json:"entrusted_project"`
	Year               int    `json:"year"`
	SupplementalRound  int    `json:"supplemental_round"`
	LastYearAmount     int64  `json:"last_year_amount"`
	BudgetCategory     string `json:"budget_category"`
	CarryoverType      string `json:"carryover_type"`
}

func entryNotFound() error {
	return apperr.NotFound("entry_not_found", ErrEntryNotFound.Error()).Wrap(ErrEntryNotFound)
}

func requireWriter(actor *domain.Actor) error {
	if actor == nil || !constants.AllowedRole(constants.WriteBudgetData, actor.Role) {
		return apperr.Permission("write_not_allowed", ErrNoWritePermission.Error())
	}
	return nil
}

// loadScoped fetches an entry the actor can see. Out-of-scope rows are reported as not found.
func loadScoped(tx *gorm.DB, sc scope.Scope, id int64, lock bool) (*domain.BudgetEntry, error) {
	q := tx
	if lock {
		q = database.ForUpdate(tx)
	}
	var e domain.BudgetEntry
	if err := q.First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entryNotFound()
		}
		return nil, err
	}
	if !sc.Contains(e.OrganizationID) {
		return nil, entryNotFound()
	}
	return &e, nil
}

// VersionFor returns the version of (year, round), nil when none exists.
func VersionFor(tx *gorm.DB, year, round int) (*domain.BudgetVersion, error) {
	var v domain.BudgetVersion
	err := tx.Where("year = ? AND round = ?", year, round).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns entry views within the caller's scope ordered by id.
func (s *Service) List(ctx context.Context, actor *domain.Actor, f ListFilter) ([]EntryView, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	q := sc.Apply(db.Model(&domain.BudgetEntry{}), "budget_entries.organization_id")
	if f.Org != "" {
		if id, err := strconv.ParseInt(f.Org, 10, 64); err == nil {
			q = q.Where("budget_entries.organization_id = ?", id)
		} else {
			q = q.Where("budget_entries.organization_id IN (?)",
				db.Model(&domain.Organization{}).Select("id").Where("code = ?", f.Org))
		}
	}
	if f.Year != nil {
		q = q.Where("budget_entries.year = ?", *f.Year)
	}
	if f.Round != nil {
		q = q.Where("budget_entries.supplemental_round = ?", *f.Round)
	}
	if f.EntrustedProjectID != nil {
		q = q.Where("budget_entries.entrusted_project_id = ?", *f.EntrustedProjectID)
	}
	if kw := strings.TrimSpace(f.Query); kw != "" {
		like := "%" + strings.ToLower(kw) + "%"
		q = q.Joins("JOIN budget_subjects bs ON bs.id = budget_entries.subject_id").
			Joins("LEFT JOIN entrusted_projects ep ON ep.id = budget_entries.entrusted_project_id").
			Where("(LOWER(bs.name) LIKE ? OR LOWER(bs.code) LIKE ? OR LOWER(ep.name) LIKE ? OR LOWER(ep.code) LIKE ?)", like, like, like, like)
	}
	var rows []domain.BudgetEntry
	if err := q.Order("budget_entries.id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return buildViews(db, rows, false)
}

// Get returns one entry view with its details.
func (s *Service) Get(ctx context.Context, actor *domain.Actor, id int64) (*EntryView, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	e, err := loadScoped(db, sc, id, false)
	if err != nil {
		return nil, err
	}
	views, err := buildViews(db, []domain.BudgetEntry{*e}, true)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Create inserts a DRAFT entry for an organization in the caller's scope.
func (s *Service) Create(ctx context.Context, actor *domain.Actor, in CreateInput) (*domain.BudgetEntry, error) {
	if err := requireWriter(actor); err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !sc.Contains(in.OrganizationID) {
		return nil, apperr.Permission("org_out_of_scope", "No permission to create entry for this organization.").WithField("organization")
	}
	e := &domain.BudgetEntry{
		SubjectID:          in.SubjectID,
		OrganizationID:     in.OrganizationID,
		EntrustedProjectID: in.EntrustedProjectID,
		Year:               in.Year,
		SupplementalRound:  in.SupplementalRound,
		Status:             domain.EntryDraft,
		LastYearAmount:     in.LastYearAmount,
		BudgetCategory:     defaultString(in.BudgetCategory, domain.CategoryOriginal),
		CarryoverType:      defaultString(in.CarryoverType, domain.CarryoverNone),
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateEntry(tx, e); err != nil {
			return err
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		return RecalculateTotals(tx, e.ID)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Update patches an entry. Status and totals are never taken from the payload, and the
// baseline of entries in a transfer version cannot change.
func (s *Service) Update(ctx context.Context, actor *domain.Actor, id int64, fields map[string]interface{}) (*domain.BudgetEntry, error) {
	if err := requireWriter(actor); err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	var out *domain.BudgetEntry
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := loadScoped(tx, sc, id, true)
		if err != nil {
			return err
		}

		var nextBaseline *int64
		if raw, ok := fields["last_year_amount"]; ok {
			next, err := asInt64(raw)
			if err != nil {
				return apperr.Validation("invalid_last_year_amount", "last_year_amount must be an integer.").WithField("last_year_amount")
			}
			nextBaseline = &next
		}
		fromYear, fromRound := e.Year, e.SupplementalRound
		for key, raw := range fields {
			switch key {
			case "subject":
				v, err := asInt64(raw)
				if err != nil {
					return apperr.Validation("invalid_subject", "invalid subject value.").WithField("subject")
				}
				e.SubjectID = v
			case "organization":
				v, err := asInt64(raw)
				if err != nil {
					return apperr.Validation("invalid_organization", "invalid organization value.").WithField("organization")
				}
				if !sc.Contains(v) {
					return apperr.Permission("org_out_of_scope", "No permission to move entry to this organization.").WithField("organization")
				}
				e.OrganizationID = v
			case "entrusted_project":
				if raw == nil {
					e.EntrustedProjectID = nil
					continue
				}
				v, err := asInt64(raw)
				if err != nil {
					return apperr.Validation("invalid_entrusted_project", "invalid entrusted_project value.").WithField("entrusted_project")
				}
				e.EntrustedProjectID = &v
			case "year":
				v, err := asInt64(raw)
				if err != nil {
					return apperr.Validation("invalid_year", "invalid year value.").WithField("year")
				}
				e.Year = int(v)
			case "supplemental_round":
				v, err := asInt64(raw)
				if err != nil {
					return apperr.Validation("invalid_round", "invalid supplemental_round value.").WithField("supplemental_round")
				}
				e.SupplementalRound = int(v)
			case "budget_category":
				e.BudgetCategory, _ = raw.(string)
			case "carryover_type":
				e.CarryoverType, _ = raw.(string)
			}
		}
		if nextBaseline != nil && *nextBaseline != e.LastYearAmount {
			// both the current and the target version must allow a baseline change
			for _, key := range [][2]int{{fromYear, fromRound}, {e.Year, e.SupplementalRound}} {
				v, err := VersionFor(tx, key[0], key[1])
				if err != nil {
					return err
				}
				if v != nil && v.IsTransfer() {
					return apperr.Validation("baseline_immutable", ErrBaselineLocked.Error()).WithField("last_year_amount")
				}
			}
			e.LastYearAmount = *nextBaseline
		}
		if err := validateEntry(tx, e); err != nil {
			return err
		}
		if err := tx.Select("subject_id", "organization_id", "entrusted_project_id", "year", "supplemental_round",
			"last_year_amount", "budget_category", "carryover_type", "updated_at").Save(e).Error; err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an entry unless its version is closed or expired.
func (s *Service) Delete(ctx context.Context, actor *domain.Actor, id int64) error {
	if err := requireWriter(actor); err != nil {
		return err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := loadScoped(tx, sc, id, true)
		if err != nil {
			return err
		}
		v, err := VersionFor(tx, e.Year, e.SupplementalRound)
		if err != nil {
			return err
		}
		if v != nil {
			switch v.ComputedStatus(s.now()) {
			case domain.VersionClosed, domain.VersionExpired:
				return apperr.Conflict("round_closed", ErrClosedRound.Error())
			}
		}
		_, err = PurgeEntries(tx, []int64{e.ID})
		return err
	})
}

func validateEntry(tx *gorm.DB, e *domain.BudgetEntry) error {
	if e.Year <= 0 {
		return apperr.Validation("year_required", "year is required.").WithField("year")
	}
	if e.SupplementalRound < 0 {
		return apperr.Validation("invalid_round", "supplemental_round must be zero or positive.").WithField("supplemental_round")
	}
	switch e.BudgetCategory {
	case domain.CategoryOriginal, domain.CategorySupplemental, domain.CategoryCarryover:
	default:
		return apperr.Validation("invalid_budget_category", "invalid budget_category.").WithField("budget_category")
	}
	switch e.CarryoverType {
	case domain.CarryoverNone, domain.CarryoverSpecific, domain.CarryoverAccident, domain.CarryoverContinuing:
	default:
		return apperr.Validation("invalid_carryover_type", "invalid carryover_type.").WithField("carryover_type")
	}
	var n int64
	if err := tx.Model(&domain.BudgetSubject{}).Where("id = ?", e.SubjectID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.Validation("subject_not_found", "subject does not exist.").WithField("subject")
	}
	if err := tx.Model(&domain.Organization{}).Where("id = ?", e.OrganizationID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.Validation("organization_not_found", "organization does not exist.").WithField("organization")
	}
	if e.EntrustedProjectID != nil {
		if err := tx.Model(&domain.EntrustedProject{}).Where("id = ?", *e.EntrustedProjectID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Validation("project_not_found", "entrusted_project does not exist.").WithField("entrusted_project")
		}
	}

	q := tx.Model(&domain.BudgetEntry{}).Where("subject_id = ? AND organization_id = ? AND year = ? AND supplemental_round = ?",
		e.SubjectID, e.OrganizationID, e.Year, e.SupplementalRound)
	if e.EntrustedProjectID == nil {
		q = q.Where("entrusted_project_id IS NULL")
	} else {
		q = q.Where("entrusted_project_id = ?", *e.EntrustedProjectID)
	}
	if e.ID != 0 {
		q = q.Where("id <> ?", e.ID)
	}
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.Validation("duplicate_entry", ErrDuplicateEntry.Error())
	}
	return nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.ToUpper(strings.TrimSpace(v))
}

func asInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, errors.New("not an integer")
		}
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	}
	return 0, errors.New("unsupported value")
}
