package details

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"ibms-backend/internal/application/entries"
	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/infrastructure/database"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ConflictCode is the error code of a stale detail update.
const ConflictCode = "DETAIL_CONFLICT"

const conflictTolerance = time.Millisecond

var (
	ErrDetailNotFound = errors.New("Budget detail not found")
	ErrEntryNotDraft  = errors.New("Details can only be changed while the entry is DRAFT.")
	ErrRoundLocked    = errors.New("This round is closed for editing.")
	ErrStaleDetail    = errors.New("This detail was modified by another user. Reload and try again.")
)

// Service manages the cost lines of budget entries.
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

// View pairs the live row with its clone-time snapshot.
type View struct {
	domain.BudgetDetail
	TotalPrice int64                  `json:"total_price"`
	Before     *domain.DetailSnapshot `json:"before"`
	After      domain.DetailSnapshot  `json:"after"`
}

// NewView builds the read shape of a detail.
func NewView(d domain.BudgetDetail) (View, error) {
	before, err := d.Before()
	if err != nil {
		return View{}, err
	}
	return View{BudgetDetail: d, TotalPrice: d.TotalPrice(), Before: before, After: d.Snapshot()}, nil
}

// CreateInput is the detail create payload. InsertAfterDetailID places the row right after an existing one.
type CreateInput struct {
	EntryID             int64      `json:"entry"`
	Name                string     `json:"name"`
	Price               int64      `json:"price"`
	Qty                 float64    `json:"qty"`
	Freq                *int       `json:"freq"`
	CurrencyUnit        string     `json:"currency_unit"`
	Unit                string     `json:"unit"`
	FreqUnit            string     `json:"freq_unit"`
	SubLabel            *string    `json:"sub_label"`
	Source              string     `json:"source"`
	RegionContext       *string    `json:"region_context"`
	WeatherContext      *string    `json:"weather_context"`
	EvidenceSourceName  *string    `json:"evidence_source_name"`
	EvidenceSourceURL   *string    `json:"evidence_source_url"`
	EvidenceAsOf        *time.Time `json:"evidence_as_of"`
	IsRate              bool       `json:"is_rate"`
	OrganizationID      *int64     `json:"organization"`
	InsertAfterDetailID *int64     `json:"insert_after_detail_id"`
}

func notFound() error {
	return apperr.NotFound("detail_not_found", ErrDetailNotFound.Error())
}

// List returns the details of one entry in sort order.
func (s *Service) List(ctx context.Context, actor *domain.Actor, entryID int64) ([]View, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	var e domain.BudgetEntry
	if err := db.Select("id", "organization_id").First(&e, entryID).Error; err != nil || !sc.Contains(e.OrganizationID) {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, apperr.NotFound("entry_not_found", entries.ErrEntryNotFound.Error())
	}
	var rows []domain.BudgetDetail
	if err := db.Where("entry_id = ?", entryID).Order("sort_order ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for _, d := range rows {
		v, err := NewView(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns one detail in scope.
func (s *Service) Get(ctx context.Context, actor *domain.Actor, id int64) (*View, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	d, err := loadDetail(s.DB.WithContext(ctx), sc, id)
	if err != nil {
		return nil, err
	}
	v, err := NewView(*d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create inserts a detail and recomputes the entry totals.
func (s *Service) Create(ctx context.Context, actor *domain.Actor, in CreateInput) (*domain.BudgetDetail, error) {
	if actor == nil || !constants.AllowedRole(constants.WriteBudgetData, actor.Role) {
		return nil, apperr.Permission("write_not_allowed", entries.ErrNoWritePermission.Error())
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	d := &domain.BudgetDetail{
		EntryID:            in.EntryID,
		Name:               strings.TrimSpace(in.Name),
		Price:              in.Price,
		Qty:                in.Qty,
		Freq:               1,
		CurrencyUnit:       orDefault(in.CurrencyUnit, domain.DefaultCurrencyUnit),
		Unit:               orDefault(in.Unit, domain.DefaultUnit),
		FreqUnit:           orDefault(in.FreqUnit, domain.DefaultFreqUnit),
		SubLabel:           in.SubLabel,
		Source:             orDefault(in.Source, domain.DefaultSource),
		RegionContext:      in.RegionContext,
		WeatherContext:     in.WeatherContext,
		EvidenceSourceName: in.EvidenceSourceName,
		EvidenceSourceURL:  in.EvidenceSourceURL,
		EvidenceAsOf:       in.EvidenceAsOf,
		IsRate:             in.IsRate,
		OrganizationID:     in.OrganizationID,
		AuthorID:           actor.ActorID(),
		UpdatedByID:        actor.ActorID(),
	}
	if in.Freq != nil {
		d.Freq = *in.Freq
	}
	if err := validate(d); err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.editableEntry(tx, sc, in.EntryID)
		if err != nil {
			return err
		}
		if d.OrganizationID == nil {
			d.OrganizationID = &e.OrganizationID
		}

		if in.InsertAfterDetailID != nil {
			var anchor domain.BudgetDetail
			if err := database.ForUpdate(tx).Where("id = ? AND entry_id = ?", *in.InsertAfterDetailID, e.ID).First(&anchor).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.Validation("invalid_insert_after", "insert_after_detail_id must belong to the same entry.").WithField("insert_after_detail_id")
				}
				return err
			}
			var siblings []int64
			if err := database.ForUpdate(tx).Model(&domain.BudgetDetail{}).
				Where("entry_id = ? AND sort_order >= ?", e.ID, anchor.SortOrder+1).
				Order("sort_order ASC, id ASC").Pluck("id", &siblings).Error; err != nil {
				return err
			}
			if len(siblings) > 0 {
				if err := tx.Model(&domain.BudgetDetail{}).Where("id IN ?", siblings).
					UpdateColumn("sort_order", gorm.Expr("sort_order + 1")).Error; err != nil {
					return err
				}
			}
			d.SortOrder = anchor.SortOrder + 1
		} else {
			var maxOrder int
			if err := tx.Model(&domain.BudgetDetail{}).Where("entry_id = ?", e.ID).
				Select("COALESCE(MAX(sort_order), -1)").Scan(&maxOrder).Error; err != nil {
				return err
			}
			d.SortOrder = maxOrder + 1
		}

		if err := tx.Create(d).Error; err != nil {
			return err
		}
		return entries.RecalculateTotals(tx, e.ID)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Update applies a patch when token matches the stored updated_at within one millisecond.
func (s *Service) Update(ctx context.Context, actor *domain.Actor, id int64, fields map[string]interface{}, token *time.Time) (*domain.BudgetDetail, error) {
	if actor == nil || !constants.AllowedRole(constants.WriteBudgetData, actor.Role) {
		return nil, apperr.Permission("write_not_allowed", entries.ErrNoWritePermission.Error())
	}
	if token == nil {
		return nil, apperr.Validation("updated_at_required", "_updated_at is required.").WithField("_updated_at")
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	var out *domain.BudgetDetail
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDetail(database.ForUpdate(tx), sc, id)
		if err != nil {
			return err
		}
		if stale(d.UpdatedAt, *token) {
			metrics.DetailConflicts.Inc()
			log.Info().Int64("detail_id", d.ID).Time("client", *token).Time("server", d.UpdatedAt).Msg("stale detail update rejected")
			return apperr.Conflict(ConflictCode, ErrStaleDetail.Error()).
				WithDetail("detail_id", d.ID).
				WithDetail("server_updated_at", d.UpdatedAt.UTC().Format(time.RFC3339Nano))
		}
		if _, err := s.editableEntry(tx, sc, d.EntryID); err != nil {
			return err
		}
		if err := applyFields(d, fields); err != nil {
			return err
		}
		if err := validate(d); err != nil {
			return err
		}
		d.UpdatedByID = actor.ActorID()
		if err := tx.Save(d).Error; err != nil {
			return err
		}
		out = d
		return entries.RecalculateTotals(tx, d.EntryID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a detail and recomputes the entry totals.
func (s *Service) Delete(ctx context.Context, actor *domain.Actor, id int64) error {
	if actor == nil || !constants.AllowedRole(constants.WriteBudgetData, actor.Role) {
		return apperr.Permission("write_not_allowed", entries.ErrNoWritePermission.Error())
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := loadDetail(tx, sc, id)
		if err != nil {
			return err
		}
		if _, err := s.editableEntry(tx, sc, d.EntryID); err != nil {
			return err
		}
		if err := tx.Model(&domain.BudgetDetail{}).Where("transfer_source_detail_id = ?", d.ID).
			Update("transfer_source_detail_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(d).Error; err != nil {
			return err
		}
		return entries.RecalculateTotals(tx, d.EntryID)
	})
}

// editableEntry locks the entry and checks that it is DRAFT in an open round.
func (s *Service) editableEntry(tx *gorm.DB, sc scope.Scope, entryID int64) (*domain.BudgetEntry, error) {
	var e domain.BudgetEntry
	if err := database.ForUpdate(tx).First(&e, entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("entry_not_found", entries.ErrEntryNotFound.Error())
		}
		return nil, err
	}
	if !sc.Contains(e.OrganizationID) {
		return nil, apperr.NotFound("entry_not_found", entries.ErrEntryNotFound.Error())
	}
	if e.Status != domain.EntryDraft {
		return nil, apperr.State("entry_not_draft", ErrEntryNotDraft.Error()).WithDetail("status", e.Status)
	}
	v, err := entries.VersionFor(tx, e.Year, e.SupplementalRound)
	if err != nil {
		return nil, err
	}
	if v != nil && v.Locked(s.now()) {
		return nil, apperr.State("round_locked", ErrRoundLocked.Error()).WithDetail("version_status", v.ComputedStatus(s.now()))
	}
	return &e, nil
}

func loadDetail(tx *gorm.DB, sc scope.Scope, id int64) (*domain.BudgetDetail, error) {
	var d domain.BudgetDetail
	if err := tx.First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, err
	}
	var e domain.BudgetEntry
	if err := tx.Session(&gorm.Session{NewDB: true}).Select("id", "organization_id").First(&e, d.EntryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, err
	}
	if !sc.Contains(e.OrganizationID) {
		return nil, notFound()
	}
	return &d, nil
}

func stale(server, client time.Time) bool {
	diff := server.Sub(client)
	return math.Abs(float64(diff)) > float64(conflictTolerance)
}

// ParseToken reads an updated_at token sent as RFC 3339 text.
func ParseToken(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation("invalid_updated_at", "_updated_at must be an ISO-8601 timestamp.").WithField("_updated_at")
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
