package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/domain"

	"gorm.io/gorm"
)

const maxListLimit = 1000

// Filter narrows the audit log listing. Zero values are ignored.
type Filter struct {
	EntryID      *int64
	EntryIDs     []int64
	Year         *int
	Round        *int
	OrgID        *int64
	OrgIDs       []int64
	LogTypes     []string
	Actions      []string
	ResourceType string
	ResourceID   string
	Method       string
	Actor        string
	Status       string
	StatusCode   *int
	From         *time.Time
	To           *time.Time
	Query        string
	Limit        int
}

// LogRow is a listed audit row with the actor's display fields.
type LogRow struct {
	domain.ApprovalLog
	ActorUsername  *string `json:"actor_username"`
	ActorFirstName *string `json:"actor_first_name"`
}

// Service lists audit rows within the caller's scope.
type Service struct {
	DB     *gorm.DB
	Scopes *scope.Resolver
}

// List returns logs newest first. Restricted callers see rows of in-scope entries,
// rows they authored, and auth rows about themselves.
func (s *Service) List(ctx context.Context, actor *domain.Actor, f Filter) ([]LogRow, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	q := s.DB.WithContext(ctx).Table("approval_logs AS l").
		Select("l.*, u.username AS actor_username, u.first_name AS actor_first_name").
		Joins("LEFT JOIN budget_entries e ON e.id = l.entry_id").
		Joins("LEFT JOIN users u ON u.id = l.actor_id")

	if !sc.Unrestricted {
		self := strconv.FormatInt(actor.UserID, 10)
		if sc.Empty() {
			q = q.Where("(l.actor_id = ? OR (l.resource_type = 'auth' AND l.resource_id = ?))", actor.UserID, self)
		} else {
			q = q.Where("(e.organization_id IN ? OR l.actor_id = ? OR (l.resource_type = 'auth' AND l.resource_id = ?))",
				sc.IDs(), actor.UserID, self)
		}
	}

	q = applyFilter(q, f)

	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	var rows []LogRow
	if err := q.Order("l.created_at DESC").Order("l.id DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if f.EntryID != nil {
		q = q.Where("l.entry_id = ?", *f.EntryID)
	}
	if len(f.EntryIDs) > 0 {
		q = q.Where("l.entry_id IN ?", f.EntryIDs)
	}
	if f.Year != nil {
		q = q.Where("e.year = ?", *f.Year)
	}
	if f.Round != nil {
		q = q.Where("e.supplemental_round = ?", *f.Round)
	}
	if f.OrgID != nil {
		q = q.Where("e.organization_id = ?", *f.OrgID)
	}
	if len(f.OrgIDs) > 0 {
		q = q.Where("e.organization_id IN ?", f.OrgIDs)
	}
	if len(f.LogTypes) > 0 {
		q = q.Where("l.log_type IN ?", f.LogTypes)
	}
	if len(f.Actions) > 0 {
		q = q.Where("l.action IN ?", f.Actions)
	}
	if f.ResourceType != "" {
		q = q.Where("l.resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Where("l.resource_id = ?", f.ResourceID)
	}
	if f.Method != "" {
		q = q.Where("UPPER(l.method) = ?", strings.ToUpper(f.Method))
	}
	if f.Actor != "" {
		like := contains(f.Actor)
		q = q.Where("(LOWER(u.username) LIKE ? OR LOWER(u.first_name) LIKE ?)", like, like)
	}
	if f.Status != "" {
		st := strings.ToUpper(f.Status)
		q = q.Where("(UPPER(l.from_status) = ? OR UPPER(l.to_status) = ?)", st, st)
	}
	if f.StatusCode != nil {
		q = q.Where("l.status_code = ?", *f.StatusCode)
	}
	if f.From != nil {
		q = q.Where("l.created_at >= ?", startOfDay(*f.From))
	}
	if f.To != nil {
		q = q.Where("l.created_at < ?", startOfDay(*f.To).AddDate(0, 0, 1))
	}
	if f.Query != "" {
		like := contains(f.Query)
		q = q.Where("(LOWER(l.reason) LIKE ? OR LOWER(l.path) LIKE ? OR LOWER(l.resource_type) LIKE ? OR LOWER(l.resource_id) LIKE ? OR LOWER(u.username) LIKE ? OR LOWER(u.first_name) LIKE ?)",
			like, like, like, like, like, like)
	}
	return q
}

func contains(v string) string {
	return "%" + strings.ToLower(strings.TrimSpace(v)) + "%"
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseIntList keeps the numeric tokens of a comma separated list.
func ParseIntList(raw string) []int64 {
	var out []int64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if v, err := strconv.ParseInt(tok, 10, 64); err == nil && v >= 0 {
			out = append(out, v)
		}
	}
	return out
}

// ParseCSV splits a comma separated list, dropping blanks.
func ParseCSV(raw string) []string {
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
