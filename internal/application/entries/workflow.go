package entries

import (
	"context"
	"fmt"
	"strings"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Workflow actions.
const (
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionRecall  = "recall"
	ActionReopen  = "reopen"
	ActionNote    = "note"
)

const (
	logActionStatusChange = "STATUS_CHANGE"
	logActionNote         = "NOTE"
)

type transition struct {
	permission string
	denied     string
	next       map[string]string
	stateErr   string
	result     string
}

var transitions = map[string]transition{
	ActionSubmit: {
		permission: constants.SubmitEntry,
		denied:     "No permission to submit. (STAFF/ADMIN only)",
		next:       map[string]string{domain.EntryDraft: domain.EntryPending},
		stateErr:   "Only DRAFT entries can be submitted",
		result:     "submitted",
	},
	ActionApprove: {
		permission: constants.ApproveEntry,
		denied:     "No permission to approve. (MANAGER/ADMIN only)",
		next: map[string]string{
			domain.EntryPending:   domain.EntryReviewing,
			domain.EntryReviewing: domain.EntryFinalized,
		},
		stateErr: "Cannot approve in current status",
		result:   "approved",
	},
	ActionReject: {
		permission: constants.RejectEntry,
		denied:     "No permission to reject. (MANAGER/ADMIN only)",
		next: map[string]string{
			domain.EntryPending:   domain.EntryDraft,
			domain.EntryReviewing: domain.EntryDraft,
		},
		stateErr: "Cannot reject in current status",
		result:   "rejected",
	},
	ActionRecall: {
		permission: constants.RecallEntry,
		denied:     "No permission to recall. (STAFF/ADMIN only)",
		next: map[string]string{
			domain.EntryPending:   domain.EntryDraft,
			domain.EntryReviewing: domain.EntryDraft,
			domain.EntryFinalized: domain.EntryDraft,
		},
		stateErr: "Entry is already in DRAFT.",
		result:   "recalled",
	},
	ActionReopen: {
		permission: constants.ReopenEntry,
		denied:     "No permission to reopen. (ADMIN only)",
		next:       map[string]string{domain.EntryFinalized: domain.EntryDraft},
		stateErr:   "Only FINALIZED entries can be reopened",
		result:     "reopened",
	},
	ActionNote: {
		permission: constants.NoteEntry,
		denied:     "No permission to write a note.",
		result:     "logged",
	},
}

// TransitionInput carries the optional reason and, for reopen, the target status.
type TransitionInput struct {
	Reason   string `json:"reason"`
	ToStatus string `json:"to_status"`
}

// TransitionResult is returned by a single-entry transition.
type TransitionResult struct {
	Status     string `json:"status"`
	EntryID    int64  `json:"entry_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Message    string `json:"message,omitempty"`
}

// Transition applies one workflow action to one entry and writes exactly one WORKFLOW log row.
func (s *Service) Transition(ctx context.Context, actor *domain.Actor, entryID int64, action string, in TransitionInput) (*TransitionResult, error) {
	rule, ok := transitions[action]
	if !ok {
		return nil, apperr.Validation("invalid_action", "Invalid action.").WithField("action")
	}
	if actor == nil || !constants.AllowedRole(rule.permission, actor.Role) {
		return nil, apperr.Permission("role_not_allowed", rule.denied)
	}
	reason := strings.TrimSpace(in.Reason)
	if (action == ActionReject || action == ActionNote) && reason == "" {
		return nil, apperr.Validation("reason_required", "reason is required.").WithField("reason")
	}

	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	var res *TransitionResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := loadScoped(tx, sc, entryID, true)
		if err != nil {
			return err
		}
		from := e.Status
		to, logReason, err := resolveTarget(action, rule, from, in.ToStatus, reason)
		if err != nil {
			return err
		}

		if to != from {
			if err := tx.Model(e).Updates(map[string]interface{}{"status": to, "updated_at": s.now()}).Error; err != nil {
				return err
			}
		}
		logAction := logActionStatusChange
		if action == ActionNote {
			logAction = logActionNote
		}
		s.Audit.With(tx).Write(ctx, audit.Event{
			Actor:      actor,
			EntryID:    &e.ID,
			LogType:    domain.LogTypeWorkflow,
			Action:     logAction,
			FromStatus: from,
			ToStatus:   to,
			Reason:     logReason,
		})
		if action == ActionRecall {
			var subject domain.BudgetSubject
			if err := tx.Select("id", "name").First(&subject, e.SubjectID).Error; err != nil {
				return err
			}
			msg := fmt.Sprintf("Entry recalled: %s (%s -> %s)", subject.Name, from, to)
			if err := notifyOrg(tx, e.OrganizationID, msg); err != nil {
				return err
			}
		}

		res = &TransitionResult{Status: rule.result, EntryID: e.ID, FromStatus: from, ToStatus: to}
		if action == ActionRecall {
			res.Message = "Entry was recalled successfully."
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WorkflowTransitions.WithLabelValues(action, res.ToStatus).Inc()
	log.Info().Int64("entry_id", entryID).Str("action", action).Str("from", res.FromStatus).Str("to", res.ToStatus).Msg("entry transition")
	return res, nil
}

// reopenTarget reads the reopen destination: DRAFT (default) or REVIEWING.
func reopenTarget(requested string) (string, error) {
	to := strings.ToUpper(strings.TrimSpace(requested))
	if to == "" {
		to = domain.EntryDraft
	}
	if to != domain.EntryDraft && to != domain.EntryReviewing {
		return "", apperr.Validation("invalid_target_status", "Invalid target status.").WithField("to_status")
	}
	return to, nil
}

func resolveTarget(action string, rule transition, from, requested, reason string) (string, string, error) {
	switch action {
	case ActionNote:
		return from, reason, nil
	case ActionRecall:
		if reason == "" {
			reason = "Entry recall"
		}
		to, ok := rule.next[from]
		if !ok {
			return "", "", apperr.State("invalid_transition", rule.stateErr).WithDetail("status", from)
		}
		return to, "[Recall] " + reason, nil
	case ActionReopen:
		if from != domain.EntryFinalized {
			return "", "", apperr.State("invalid_transition", rule.stateErr).WithDetail("status", from)
		}
		to, err := reopenTarget(requested)
		if err != nil {
			return "", "", err
		}
		if reason == "" {
			reason = "reopen from finalized"
		}
		return to, reason, nil
	}
	to, ok := rule.next[from]
	if !ok {
		return "", "", apperr.State("invalid_transition", rule.stateErr).WithDetail("status", from)
	}
	return to, reason, nil
}

// notifyOrg sends one in-app notification to every profile assigned to the organization or its teams.
func notifyOrg(tx *gorm.DB, orgID int64, message string) error {
	var userIDs []int64
	if err := tx.Model(&domain.UserProfile{}).
		Where("organization_id = ? OR team_id = ?", orgID, orgID).
		Distinct().Pluck("user_id", &userIDs).Error; err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]domain.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, domain.Notification{UserID: id, Message: message})
	}
	return tx.Create(&rows).Error
}
