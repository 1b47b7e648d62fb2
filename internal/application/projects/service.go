package projects

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
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
	ErrProjectNotFound = errors.New("Project not found")
	ErrNotEditor       = errors.New("Project management is allowed only for MANAGER or ADMIN.")
	ErrAdminOnly       = errors.New("Project force-delete is ADMIN-only.")
	ErrSubjectDrift    = errors.New("수탁사업 삭제 중 예산 계정 체제 변경이 감지되어 삭제를 취소했습니다.")
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service manages entrusted projects.
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

// View is a project with display fields and budget totals.
type View struct {
	domain.EntrustedProject
	Code              string  `json:"code"`
	OrganizationName  string  `json:"organization_name"`
	SourceProjectName *string `json:"source_project_name"`
	DerivedCount      int64   `json:"derived_count"`
	TotalBudget       int64   `json:"total_budget"`
	TotalExecuted     int64   `json:"total_executed"`
	TotalBalance      int64   `json:"total_balance"`
}

// ListFilter narrows List. Org is an id or an organization code.
type ListFilter struct {
	Org    string
	Year   *int
	Status string
	Query  string
}

// Input is the create/update payload.
type Input struct {
	OrganizationID int64      `json:"organization"`
	Year           int        `json:"year"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	StartsOn       *time.Time `json:"starts_on"`
	EndsOn         *time.Time `json:"ends_on"`
}

// CloneInput copies a project into another year, optionally with its entries.
type CloneInput struct {
	Year           int    `json:"year"`
	Name           string `json:"name"`
	OrganizationID *int64 `json:"organization"`
	CopyEntries    *bool  `json:"copy_entries"`
}

func requireEditor(actor *domain.Actor) error {
	if actor == nil || !constants.AllowedRole(constants.ManageProjects, actor.Role) {
		return apperr.Permission("role_not_allowed", ErrNotEditor.Error())
	}
	return nil
}

func notFound() error {
	return apperr.NotFound("project_not_found", ErrProjectNotFound.Error())
}

// GenerateCode returns EP_<hex unix ms>_<5 random A-Z0-9>.
func GenerateCode(now time.Time) string {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return fmt.Sprintf("EP_%s_%s", strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 16)), b.String())
}

func (s *Service) uniqueCode(tx *gorm.DB) (string, error) {
	for {
		code := GenerateCode(s.now())
		var n int64
		if err := tx.Model(&domain.EntrustedProject{}).Where("code = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
}

func loadScoped(tx *gorm.DB, sc scope.Scope, id int64) (*domain.EntrustedProject, error) {
	var p domain.EntrustedProject
	if err := tx.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, err
	}
	if !sc.Contains(p.OrganizationID) {
		return nil, notFound()
	}
	return &p, nil
}

// List returns projects in scope, newest year first.
func (s *Service) List(ctx context.Context, actor *domain.Actor, f ListFilter) ([]View, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	q := sc.Apply(s.DB.WithContext(ctx).Model(&domain.EntrustedProject{}), "organization_id")
	if org := strings.TrimSpace(f.Org); org != "" {
		if id, err := strconv.ParseInt(org, 10, 64); err == nil {
			q = q.Where("organization_id = ?", id)
		} else {
			q = q.Where("organization_id IN (?)", s.DB.Model(&domain.Organization{}).Select("id").Where("code = ?", org))
		}
	}
	if f.Year != nil {
		q = q.Where("year = ?", *f.Year)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if kw := strings.TrimSpace(f.Query); kw != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(kw)+"%")
	}
	var rows []domain.EntrustedProject
	if err := q.Order("year DESC, name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return buildViews(s.DB.WithContext(ctx), rows)
}

// Get returns one project in scope.
func (s *Service) Get(ctx context.Context, actor *domain.Actor, id int64) (*View, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	p, err := loadScoped(s.DB.WithContext(ctx), sc, id)
	if err != nil {
		return nil, err
	}
	views, err := buildViews(s.DB.WithContext(ctx), []domain.EntrustedProject{*p})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Create inserts a project with a generated code.
func (s *Service) Create(ctx context.Context, actor *domain.Actor, in Input) (*View, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !sc.Contains(in.OrganizationID) {
		return nil, apperr.Permission("org_out_of_scope", "No permission to create project for this organization.")
	}
	p := &domain.EntrustedProject{
		OrganizationID: in.OrganizationID,
		Year:           in.Year,
		Name:           strings.TrimSpace(in.Name),
		Status:         strings.ToUpper(strings.TrimSpace(in.Status)),
		StartsOn:       in.StartsOn,
		EndsOn:         in.EndsOn,
	}
	if p.Status == "" {
		p.Status = domain.ProjectPlanned
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validate(tx, p); err != nil {
			return err
		}
		code, err := s.uniqueCode(tx)
		if err != nil {
			return err
		}
		p.Code = code
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, p.ID)
}

// Update replaces the editable fields. The code never changes.
func (s *Service) Update(ctx context.Context, actor *domain.Actor, id int64, in Input) (*View, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadScoped(tx, sc, id)
		if err != nil {
			return err
		}
		if in.OrganizationID != 0 && in.OrganizationID != p.OrganizationID {
			if !sc.Contains(in.OrganizationID) {
				return apperr.Permission("org_out_of_scope", "No permission to move project to this organization.")
			}
			p.OrganizationID = in.OrganizationID
		}
		if in.Year != 0 {
			p.Year = in.Year
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			p.Name = name
		}
		if st := strings.ToUpper(strings.TrimSpace(in.Status)); st != "" {
			p.Status = st
		}
		p.StartsOn, p.EndsOn = in.StartsOn, in.EndsOn
		if err := validate(tx, p); err != nil {
			return err
		}
		return tx.Save(p).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, id)
}

func validate(tx *gorm.DB, p *domain.EntrustedProject) error {
	if p.Name == "" {
		return apperr.Validation("name_required", "name is required.").WithField("name")
	}
	if p.Year < 1900 || p.Year > 9999 {
		return apperr.Validation("invalid_year", "Invalid year value.").WithField("year")
	}
	switch p.Status {
	case domain.ProjectPlanned, domain.ProjectActive, domain.ProjectClosed:
	default:
		return apperr.Validation("invalid_status", "Invalid project status.").WithField("status")
	}
	if p.StartsOn != nil && p.EndsOn != nil && p.EndsOn.Before(*p.StartsOn) {
		return apperr.Validation("invalid_period", "ends_on must not be before starts_on.").WithField("ends_on")
	}
	var n int64
	if err := tx.Model(&domain.Organization{}).Where("id = ?", p.OrganizationID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.Validation("organization_not_found", "Organization not found.").WithField("organization")
	}
	return nil
}

// Delete removes a project that has no entries.
func (s *Service) Delete(ctx context.Context, actor *domain.Actor, id int64) error {
	if err := requireEditor(actor); err != nil {
		return err
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadScoped(tx, sc, id)
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&domain.BudgetEntry{}).Where("entrusted_project_id = ?", p.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("project_has_entries",
				fmt.Sprintf("Cannot delete project: linked budget entries exist (%d). Clean up linked entries first.", n)).
				WithDetail("entry_count", n).WithDetail("can_force", true)
		}
		return GuardSubjects(tx, p.ID, func(tx *gorm.DB) error {
			return deleteProject(tx, p.ID)
		})
	})
}

// ForceDelete removes a project and every entry linked to it. ADMIN only.
func (s *Service) ForceDelete(ctx context.Context, actor *domain.Actor, id int64) (int64, error) {
	if actor == nil || !constants.AllowedRole(constants.ForceDeleteProject, actor.Role) {
		return 0, apperr.Permission("role_not_allowed", ErrAdminOnly.Error())
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadScoped(tx, sc, id)
		if err != nil {
			return err
		}
		return GuardSubjects(tx, p.ID, func(tx *gorm.DB) error {
			var ids []int64
			if err := tx.Model(&domain.BudgetEntry{}).Where("entrusted_project_id = ?", p.ID).Pluck("id", &ids).Error; err != nil {
				return err
			}
			n, err := entries.PurgeEntries(tx, ids)
			if err != nil {
				return err
			}
			deleted = n
			return deleteProject(tx, p.ID)
		})
	})
	if err != nil {
		return 0, err
	}
	log.Info().Int64("project_id", id).Int64("deleted_entries", deleted).Msg("project force deleted")
	return deleted, nil
}

func deleteProject(tx *gorm.DB, id int64) error {
	if err := tx.Model(&domain.EntrustedProject{}).Where("source_project_id = ?", id).
		Update("source_project_id", nil).Error; err != nil {
		return err
	}
	if err := tx.Model(&domain.SubmissionComment{}).Where("entrusted_project_id = ?", id).
		Update("entrusted_project_id", nil).Error; err != nil {
		return err
	}
	return tx.Delete(&domain.EntrustedProject{}, id).Error
}

// GuardSubjects runs fn and fails with a Conflict when the set of subject ids changed meanwhile.
// Callers run it inside a transaction so the drift is rolled back.
func GuardSubjects(tx *gorm.DB, projectID int64, fn func(tx *gorm.DB) error) error {
	before, err := subjectIDs(tx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	after, err := subjectIDs(tx)
	if err != nil {
		return err
	}
	removed := 0
	for id := range before {
		if _, ok := after[id]; !ok {
			removed++
		}
	}
	if removed == 0 && len(before) == len(after) {
		return nil
	}
	log.Error().Int64("project_id", projectID).Int("removed_subject_count", removed).
		Msg("project delete rolled back due to budget subject drift")
	return apperr.Conflict("subject_drift", ErrSubjectDrift.Error()).WithDetail("removed_subject_count", removed)
}

func subjectIDs(tx *gorm.DB) (map[int64]struct{}, error) {
	var ids []int64
	if err := tx.Session(&gorm.Session{NewDB: true}).Model(&domain.BudgetSubject{}).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Clone copies a project into another year. Entries are copied as DRAFT ORIGINAL round 0
// with the source total as last-year baseline.
func (s *Service) Clone(ctx context.Context, actor *domain.Actor, id int64, in CloneInput) (*View, error) {
	if err := requireEditor(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if in.Year == 0 || name == "" {
		return nil, apperr.Validation("year_name_required", "year and name are required.")
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	var created domain.EntrustedProject
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src, err := loadScoped(tx, sc, id)
		if err != nil {
			return err
		}
		orgID := src.OrganizationID
		if in.OrganizationID != nil && *in.OrganizationID != 0 {
			orgID = *in.OrganizationID
		}
		var n int64
		if err := tx.Model(&domain.Organization{}).Where("id = ?", orgID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Validation("organization_not_found", "Organization not found.").WithField("organization")
		}
		if !sc.Contains(orgID) {
			return apperr.Permission("org_out_of_scope", "No permission for target organization.")
		}
		code, err := s.uniqueCode(tx)
		if err != nil {
			return err
		}
		created = domain.EntrustedProject{
			OrganizationID:  orgID,
			Year:            in.Year,
			Code:            code,
			Name:            name,
			Status:          domain.ProjectPlanned,
			SourceProjectID: &src.ID,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		if in.CopyEntries != nil && !*in.CopyEntries {
			return nil
		}
		return copyEntries(tx, src.ID, &created)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, created.ID)
}

func copyEntries(tx *gorm.DB, sourceID int64, target *domain.EntrustedProject) error {
	var rows []domain.BudgetEntry
	if err := tx.Where("entrusted_project_id = ?", sourceID).Order("id").Find(&rows).Error; err != nil {
		return err
	}
	for _, src := range rows {
		entry := domain.BudgetEntry{
			SubjectID:          src.SubjectID,
			OrganizationID:     target.OrganizationID,
			EntrustedProjectID: &target.ID,
			Year:               target.Year,
			Status:             domain.EntryDraft,
			LastYearAmount:     src.TotalAmount,
			BudgetCategory:     domain.CategoryOriginal,
			CarryoverType:      domain.CarryoverNone,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		var details []domain.BudgetDetail
		if err := tx.Where("entry_id = ?", src.ID).Order("sort_order, id").Find(&details).Error; err != nil {
			return err
		}
		if len(details) > 0 {
			copies := make([]domain.BudgetDetail, 0, len(details))
			for _, d := range details {
				copies = append(copies, domain.BudgetDetail{
					EntryID:        entry.ID,
					Name:           d.Name,
					Price:          d.Price,
					Qty:            d.Qty,
					Freq:           d.Freq,
					CurrencyUnit:   d.CurrencyUnit,
					Unit:           d.Unit,
					FreqUnit:       d.FreqUnit,
					SortOrder:      d.SortOrder,
					SubLabel:       d.SubLabel,
					Source:         d.Source,
					IsRate:         d.IsRate,
					OrganizationID: d.OrganizationID,
				})
			}
			if err := tx.CreateInBatches(copies, 200).Error; err != nil {
				return err
			}
		}
		if err := entries.RecalculateTotals(tx, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

type projectTotals struct {
	ProjectID int64
	Budget    int64
	Executed  int64
	Balance   int64
}

func buildViews(db *gorm.DB, rows []domain.EntrustedProject) ([]View, error) {
	out := make([]View, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(rows))
	orgIDs := make([]int64, 0, len(rows))
	var sourceIDs []int64
	for _, p := range rows {
		ids = append(ids, p.ID)
		orgIDs = append(orgIDs, p.OrganizationID)
		if p.SourceProjectID != nil {
			sourceIDs = append(sourceIDs, *p.SourceProjectID)
		}
	}

	var orgs []domain.Organization
	if err := db.Select("id", "name").Where("id IN ?", orgIDs).Find(&orgs).Error; err != nil {
		return nil, err
	}
	orgNames := make(map[int64]string, len(orgs))
	for _, o := range orgs {
		orgNames[o.ID] = o.Name
	}

	sources := map[int64]domain.EntrustedProject{}
	if len(sourceIDs) > 0 {
		var srcRows []domain.EntrustedProject
		if err := db.Where("id IN ?", sourceIDs).Find(&srcRows).Error; err != nil {
			return nil, err
		}
		for _, p := range srcRows {
			sources[p.ID] = p
		}
	}

	var derived []struct {
		SourceProjectID int64
		N               int64
	}
	if err := db.Model(&domain.EntrustedProject{}).Select("source_project_id, COUNT(*) AS n").
		Where("source_project_id IN ?", ids).Group("source_project_id").Scan(&derived).Error; err != nil {
		return nil, err
	}
	derivedCount := make(map[int64]int64, len(derived))
	for _, d := range derived {
		derivedCount[d.SourceProjectID] = d.N
	}

	var totals []projectTotals
	if err := db.Model(&domain.BudgetEntry{}).
		Select("entrusted_project_id AS project_id, COALESCE(SUM(total_amount),0) AS budget, COALESCE(SUM(executed_amount),0) AS executed, COALESCE(SUM(remaining_amount),0) AS balance").
		Where("entrusted_project_id IN ?", ids).Group("entrusted_project_id").Scan(&totals).Error; err != nil {
		return nil, err
	}
	byProject := make(map[int64]projectTotals, len(totals))
	for _, t := range totals {
		byProject[t.ProjectID] = t
	}

	for _, p := range rows {
		v := View{
			EntrustedProject: p,
			Code:             p.Code,
			OrganizationName: orgNames[p.OrganizationID],
			DerivedCount:     derivedCount[p.ID],
		}
		if p.SourceProjectID != nil {
			if src, ok := sources[*p.SourceProjectID]; ok {
				label := fmt.Sprintf("[%d] %s", src.Year, src.Name)
				v.SourceProjectName = &label
			}
		}
		t := byProject[p.ID]
		v.TotalBudget, v.TotalExecuted, v.TotalBalance = t.Budget, t.Executed, t.Balance
		out = append(out, v)
	}
	return out, nil
}
