package erp

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	DoctypeBudget         = "Budget"
	DoctypeClosingVoucher = "Period Closing Voucher"
	BudgetAgainstCenter   = "Cost Center"
)

var ErrNotAllowed = errors.New("ERPNext integration is allowed only for MANAGER or ADMIN.")

// Service exposes the ERPNext integration to the API.
type Service struct {
	DB     *gorm.DB
	Scopes *scope.Resolver
	Config Config
}

// SyncInput selects what SyncBudgets pushes. Empty strings fall back to the configured values.
type SyncInput struct {
	Year           int
	Company        string
	FiscalYear     string
	BudgetAgainst  string
	DryRun         bool
	UpdateExisting bool
}

type BudgetAccount struct {
	Account      string `json:"account"`
	BudgetAmount int64  `json:"budget_amount"`
}

// BudgetPayload is one ERPNext Budget document, one per cost center.
type BudgetPayload struct {
	Company       string          `json:"company"`
	FiscalYear    string          `json:"fiscal_year"`
	BudgetAgainst string          `json:"budget_against"`
	CostCenter    string          `json:"cost_center"`
	Accounts      []BudgetAccount `json:"accounts"`
}

type SyncOutcome struct {
	CostCenter string `json:"cost_center"`
	Action     string `json:"action"`
	Name       string `json:"name,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Skipped struct {
	OrganizationsMissingCostCenter []string `json:"organizations_missing_cost_center"`
	SubjectsMissingAccount         []string `json:"subjects_missing_account"`
}

type SyncResult struct {
	DryRun     bool            `json:"dry_run,omitempty"`
	Year       int             `json:"year,omitempty"`
	FiscalYear string          `json:"fiscal_year,omitempty"`
	Payloads   []BudgetPayload `json:"payloads,omitempty"`
	Results    []SyncOutcome   `json:"results,omitempty"`
	Skipped    Skipped         `json:"skipped"`
}

func requireRole(actor *domain.Actor) error {
	if actor == nil || !constants.AllowedRole(constants.UseERP, actor.Role) {
		return apperr.Permission("role_not_allowed", ErrNotAllowed.Error())
	}
	return nil
}

func (s *Service) checkConfig() error {
	switch {
	case strings.TrimSpace(s.Config.BaseURL) == "":
		return apperr.Validation("erp_not_configured", "ERPNEXT_BASE_URL is not configured")
	case s.Config.APIKey == "" || s.Config.APISecret == "":
		return apperr.Validation("erp_not_configured", "ERPNEXT_API_KEY/ERPNEXT_API_SECRET are not configured")
	case s.Config.Company == "":
		return apperr.Validation("erp_not_configured", "ERPNEXT_COMPANY is not configured")
	}
	return nil
}

func (s *Service) client() (*Client, error) {
	c, err := NewClient(s.Config)
	if err != nil {
		return nil, apperr.Validation("erp_not_configured", err.Error()).Wrap(err)
	}
	return c, nil
}

// integration turns an ERPNext failure into a 502 carrying the remote payload.
func integration(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	out := apperr.Integration("erp_request_failed", e.Message).WithDetail("payload", e.Payload).Wrap(err)
	if e.StatusCode != 0 {
		out.WithDetail("status_code", e.StatusCode)
	}
	return out
}

func (s *Service) prepare(actor *domain.Actor) (*Client, error) {
	if err := requireRole(actor); err != nil {
		return nil, err
	}
	if err := s.checkConfig(); err != nil {
		return nil, err
	}
	return s.client()
}

// Me returns the ERPNext user behind the configured API key.
func (s *Service) Me(ctx context.Context, actor *domain.Actor) (map[string]interface{}, error) {
	c, err := s.prepare(actor)
	if err != nil {
		return nil, err
	}
	out, err := c.LoggedUser(ctx)
	if err != nil {
		return nil, integration(err)
	}
	return out, nil
}

// BuildBudgetPayloads groups the scoped entry totals of a year by cost center and account.
// Organizations without a cost center and subjects without an account are skipped and reported.
func (s *Service) BuildBudgetPayloads(ctx context.Context, sc scope.Scope, in SyncInput) ([]BudgetPayload, Skipped, error) {
	skipped := Skipped{OrganizationsMissingCostCenter: []string{}, SubjectsMissingAccount: []string{}}
	db := s.DB.WithContext(ctx)

	var entries []domain.BudgetEntry
	if err := sc.Apply(db.Where("year = ?", in.Year), "organization_id").Order("id").Find(&entries).Error; err != nil {
		return nil, skipped, err
	}
	orgIDs := make([]int64, 0, len(entries))
	subjectIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		orgIDs = append(orgIDs, e.OrganizationID)
		subjectIDs = append(subjectIDs, e.SubjectID)
	}
	orgs := map[int64]domain.Organization{}
	subjects := map[int64]domain.BudgetSubject{}
	if len(entries) > 0 {
		var orgRows []domain.Organization
		if err := db.Where("id IN ?", orgIDs).Find(&orgRows).Error; err != nil {
			return nil, skipped, err
		}
		for _, o := range orgRows {
			orgs[o.ID] = o
		}
		var subjectRows []domain.BudgetSubject
		if err := db.Where("id IN ?", subjectIDs).Find(&subjectRows).Error; err != nil {
			return nil, skipped, err
		}
		for _, sub := range subjectRows {
			subjects[sub.ID] = sub
		}
	}

	seenOrg, seenSubject := map[string]bool{}, map[string]bool{}
	var centers []string
	accounts := map[string][]string{}
	amounts := map[string]map[string]int64{}
	for _, e := range entries {
		org, subject := orgs[e.OrganizationID], subjects[e.SubjectID]
		if org.ERPNextCostCenter == nil || *org.ERPNextCostCenter == "" {
			if !seenOrg[org.Code] {
				seenOrg[org.Code] = true
				skipped.OrganizationsMissingCostCenter = append(skipped.OrganizationsMissingCostCenter, org.Code)
			}
			continue
		}
		if subject.ERPNextAccount == nil || *subject.ERPNextAccount == "" {
			if !seenSubject[subject.Code] {
				seenSubject[subject.Code] = true
				skipped.SubjectsMissingAccount = append(skipped.SubjectsMissingAccount, subject.Code)
			}
			continue
		}
		center, account := *org.ERPNextCostCenter, *subject.ERPNextAccount
		if _, ok := amounts[center]; !ok {
			amounts[center] = map[string]int64{}
			centers = append(centers, center)
		}
		if _, ok := amounts[center][account]; !ok {
			accounts[center] = append(accounts[center], account)
		}
		amounts[center][account] += e.TotalAmount
	}

	payloads := make([]BudgetPayload, 0, len(centers))
	for _, center := range centers {
		rows := make([]BudgetAccount, 0, len(accounts[center]))
		for _, account := range accounts[center] {
			rows = append(rows, BudgetAccount{Account: account, BudgetAmount: amounts[center][account]})
		}
		payloads = append(payloads, BudgetPayload{
			Company:       in.Company,
			FiscalYear:    in.FiscalYear,
			BudgetAgainst: in.BudgetAgainst,
			CostCenter:    center,
			Accounts:      rows,
		})
	}
	return payloads, skipped, nil
}

func (s *Service) withDefaults(in SyncInput) SyncInput {
	if in.Company == "" {
		in.Company = s.Config.Company
	}
	if in.FiscalYear == "" {
		in.FiscalYear = s.Config.FiscalYear
	}
	if in.FiscalYear == "" {
		in.FiscalYear = strconv.Itoa(in.Year)
	}
	if in.BudgetAgainst == "" {
		in.BudgetAgainst = s.Config.BudgetAgainst
	}
	if in.BudgetAgainst == "" {
		in.BudgetAgainst = BudgetAgainstCenter
	}
	return in
}

// SyncBudgets pushes one Budget per cost center. With UpdateExisting an existing Budget for
// the same company, fiscal year and cost center is updated instead of duplicated.
// A failure on one cost center is reported in its outcome and does not stop the others.
func (s *Service) SyncBudgets(ctx context.Context, actor *domain.Actor, in SyncInput) (*SyncResult, error) {
	if err := requireRole(actor); err != nil {
		return nil, err
	}
	if err := s.checkConfig(); err != nil {
		return nil, err
	}
	if in.Year == 0 {
		return nil, apperr.Validation("year_required", "year is required").WithField("year")
	}
	in = s.withDefaults(in)
	if in.BudgetAgainst != BudgetAgainstCenter {
		return nil, apperr.Validation("unsupported_budget_against", "Only Cost Center budgets are supported in this endpoint").
			WithField("budget_against")
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	payloads, skipped, err := s.BuildBudgetPayloads(ctx, sc, in)
	if err != nil {
		return nil, err
	}
	if in.DryRun {
		return &SyncResult{DryRun: true, Payloads: payloads, Skipped: skipped}, nil
	}

	c, err := s.client()
	if err != nil {
		return nil, err
	}
	results := make([]SyncOutcome, 0, len(payloads))
	for _, p := range payloads {
		results = append(results, s.pushBudget(ctx, c, in, p))
	}
	log.Info().Int("year", in.Year).Str("fiscal_year", in.FiscalYear).Int("cost_centers", len(payloads)).
		Msg("erp budgets synced")
	return &SyncResult{Year: in.Year, FiscalYear: in.FiscalYear, Results: results, Skipped: skipped}, nil
}

func (s *Service) pushBudget(ctx context.Context, c *Client, in SyncInput, p BudgetPayload) SyncOutcome {
	fail := func(err error) SyncOutcome {
		log.Warn().Err(err).Str("cost_center", p.CostCenter).Msg("erp budget push failed")
		return SyncOutcome{CostCenter: p.CostCenter, Action: "error", Error: err.Error()}
	}
	existing := ""
	if in.UpdateExisting {
		filters := [][]interface{}{
			{DoctypeBudget, "company", "=", in.Company},
			{DoctypeBudget, "fiscal_year", "=", in.FiscalYear},
			{DoctypeBudget, "budget_against", "=", in.BudgetAgainst},
			{DoctypeBudget, "cost_center", "=", p.CostCenter},
		}
		res, err := c.List(ctx, DoctypeBudget, filters, []string{"name"}, 1)
		if err != nil {
			return fail(err)
		}
		if data, ok := res["data"].([]interface{}); ok && len(data) > 0 {
			if row, ok := data[0].(map[string]interface{}); ok {
				existing, _ = row["name"].(string)
			}
		}
	}
	if existing != "" {
		if _, err := c.Update(ctx, DoctypeBudget, existing, p); err != nil {
			return fail(err)
		}
		return SyncOutcome{CostCenter: p.CostCenter, Action: "updated", Name: existing}
	}
	res, err := c.Create(ctx, DoctypeBudget, p)
	if err != nil {
		return fail(err)
	}
	name := ""
	if data, ok := res["data"].(map[string]interface{}); ok {
		name, _ = data["name"].(string)
	}
	return SyncOutcome{CostCenter: p.CostCenter, Action: "created", Name: name}
}

// CreateClosingVoucher creates a Period Closing Voucher, defaulting company and fiscal year.
func (s *Service) CreateClosingVoucher(ctx context.Context, actor *domain.Actor, data map[string]interface{}) (map[string]interface{}, error) {
	c, err := s.prepare(actor)
	if err != nil {
		return nil, err
	}
	body := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		body[k] = v
	}
	if _, ok := body["company"]; !ok {
		body["company"] = s.Config.Company
	}
	if _, ok := body["fiscal_year"]; !ok && s.Config.FiscalYear != "" {
		body["fiscal_year"] = s.Config.FiscalYear
	}
	out, err := c.Create(ctx, DoctypeClosingVoucher, body)
	if err != nil {
		return nil, integration(err)
	}
	return out, nil
}

// ParseFlag reads a loosely typed boolean such as "yes", 1 or true.
func ParseFlag(v interface{}, def bool) bool {
	switch t := v.(type) {
	case nil:
		return def
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
		return false
	}
	return def
}
