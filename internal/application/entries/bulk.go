package entries

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var bulkLabels = map[string]string{
	ActionSubmit:  "Submit",
	ActionApprove: "Approve",
	ActionReject:  "Reject",
	ActionReopen:  "Reopen",
}

// BulkInput selects the entries of one organization and round.
type BulkInput struct {
	Action   string  `json:"action"`
	OrgID    *int64  `json:"org_id"`
	Year     *int    `json:"year"`
	Round    *int    `json:"round"`
	EntryIDs []int64 `json:"entry_ids"`
	Reason   string  `json:"reason"`
	// ToStatus is the reopen destination: DRAFT (default) or REVIEWING.
	ToStatus string `json:"to_status"`
}

// BulkResult reports how many entries moved and how many were skipped.
type BulkResult struct {
	Status       string `json:"status"`
	Action       string `json:"action"`
	FromStatus   string `json:"from_status"`
	ToStatus     string `json:"to_status"`
	UpdatedCount int    `json:"updated_count"`
	SkippedCount int    `json:"skipped_count"`
	Message      string `json:"message"`
}

// BulkWorkflow applies one action to every qualifying entry in a single transaction.
// Entries in other statuses are skipped; zero qualifying entries is an error.
func (s *Service) BulkWorkflow(ctx context.Context, actor *domain.Actor, in BulkInput) (*BulkResult, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	label, ok := bulkLabels[action]
	if !ok {
		return nil, apperr.Validation("invalid_action", "Invalid action.").WithField("action")
	}
	if in.OrgID == nil || in.Year == nil || in.Round == nil {
		return nil, apperr.Validation("missing_condition", "org_id, year, and round are required.")
	}
	if action == ActionReopen {
		if _, err := reopenTarget(in.ToStatus); err != nil {
			return nil, err
		}
	}
	res, err := s.bulkWorkflow(ctx, actor, action, label, in)
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		if e, ok := apperr.As(err); ok {
			outcome = string(e.Kind)
		}
	}
	metrics.BulkWorkflowRuns.WithLabelValues(action, outcome).Inc()
	return res, err
}

func (s *Service) bulkWorkflow(ctx context.Context, actor *domain.Actor, action, label string, in BulkInput) (*BulkResult, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !sc.Contains(*in.OrgID) {
		return nil, apperr.Permission("org_out_of_scope", "No permission for this organization.")
	}

	var res *BulkResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org domain.Organization
		if err := tx.First(&org, *in.OrgID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("org_not_found", "Organization not found.")
			}
			return err
		}

		q := tx.Model(&domain.BudgetEntry{}).Where("year = ? AND supplemental_round = ?", *in.Year, *in.Round)
		if len(in.EntryIDs) > 0 {
			q = q.Where("id IN ?", in.EntryIDs)
		} else {
			q = q.Where("organization_id = ?", org.ID)
		}
		q = sc.Apply(q, "organization_id")
		var rows []domain.BudgetEntry
		if err := q.Order("id ASC").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return apperr.Validation("no_entries", "No budget entries found for the given condition.")
		}

		from, to, err := bulkStep(action, in.ToStatus, rows)
		if err != nil {
			return err
		}
		if err := bulkPermission(actor, action, from); err != nil {
			return err
		}

		var targets []domain.BudgetEntry
		for _, e := range rows {
			if e.Status == from {
				targets = append(targets, e)
			}
		}
		if len(targets) == 0 {
			return apperr.State("no_qualifying_entries",
				fmt.Sprintf("No entries available for %s. (current statuses: %s)", label, statusList(rows)))
		}

		ids := make([]int64, 0, len(targets))
		for _, e := range targets {
			ids = append(ids, e.ID)
		}
		if err := tx.Model(&domain.BudgetEntry{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": to, "updated_at": s.now()}).Error; err != nil {
			return err
		}

		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			reason = "Department bulk " + label
		}
		w := s.Audit.With(tx)
		for i := range targets {
			w.Write(ctx, audit.Event{
				Actor:      actor,
				EntryID:    &targets[i].ID,
				LogType:    domain.LogTypeWorkflow,
				Action:     logActionStatusChange,
				FromStatus: from,
				ToStatus:   to,
				Reason:     reason,
			})
		}
		msg := fmt.Sprintf("[%s] Budget %s processed: %d item(s) (%s -> %s)", org.Name, label, len(targets), from, to)
		if err := notifyOrg(tx, org.ID, msg); err != nil {
			return err
		}

		skipped := len(rows) - len(targets)
		message := fmt.Sprintf("%d item(s) %s processed", len(targets), label)
		if skipped > 0 {
			message += fmt.Sprintf(" (%d skipped)", skipped)
		}
		res = &BulkResult{
			Status:       "ok",
			Action:       action,
			FromStatus:   from,
			ToStatus:     to,
			UpdatedCount: len(targets),
			SkippedCount: skipped,
			Message:      message,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WorkflowTransitions.WithLabelValues(action, res.ToStatus).Add(float64(res.UpdatedCount))
	log.Info().Int64("org_id", *in.OrgID).Str("action", action).Int("updated", res.UpdatedCount).
		Int("skipped", res.SkippedCount).Msg("bulk workflow")
	return res, nil
}

// bulkStep picks the from/to pair. approve and reject prefer PENDING over REVIEWING.
func bulkStep(action, toStatus string, rows []domain.BudgetEntry) (string, string, error) {
	has := map[string]bool{}
	for _, e := range rows {
		has[e.Status] = true
	}
	switch action {
	case ActionSubmit:
		return domain.EntryDraft, domain.EntryPending, nil
	case ActionApprove:
		if has[domain.EntryPending] {
			return domain.EntryPending, domain.EntryReviewing, nil
		}
		if has[domain.EntryReviewing] {
			return domain.EntryReviewing, domain.EntryFinalized, nil
		}
		return "", "", apperr.State("no_qualifying_entries", "No entries are in approvable status.")
	case ActionReject:
		if has[domain.EntryPending] {
			return domain.EntryPending, domain.EntryDraft, nil
		}
		if has[domain.EntryReviewing] {
			return domain.EntryReviewing, domain.EntryDraft, nil
		}
		return "", "", apperr.State("no_qualifying_entries", "No entries are rejectable.")
	case ActionReopen:
		to, err := reopenTarget(toStatus)
		if err != nil {
			return "", "", err
		}
		return domain.EntryFinalized, to, nil
	}
	return "", "", apperr.Validation("invalid_action", "Invalid action.")
}

func bulkPermission(actor *domain.Actor, action, from string) error {
	role := ""
	if actor != nil {
		role = actor.Role
	}
	var permission, denied string
	switch action {
	case ActionSubmit:
		permission, denied = constants.SubmitEntry, "No permission to submit. (STAFF/ADMIN only)"
	case ActionApprove:
		permission, denied = constants.ApproveEntry, "No permission for final approval. (MANAGER/ADMIN only)"
		if from == domain.EntryPending {
			denied = "No permission to review. (MANAGER/ADMIN only)"
		}
	case ActionReject:
		permission, denied = constants.RejectEntry, "No permission to reject. (MANAGER/ADMIN only)"
	case ActionReopen:
		permission, denied = constants.ReopenEntry, "No permission to reopen. (ADMIN only)"
	}
	if actor == nil || !constants.AllowedRole(permission, role) {
		return apperr.Permission("role_not_allowed", denied)
	}
	return nil
}

func statusList(rows []domain.BudgetEntry) string {
	seen := map[string]bool{}
	var out []string
	for _, e := range rows {
		if !seen[e.Status] {
			seen[e.Status] = true
			out = append(out, e.Status)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
