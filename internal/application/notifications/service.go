package notifications

import (
	"context"
	"errors"
	"strings"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/constants"

	"gorm.io/gorm"
)

// Service manages in-app notifications. ADMIN sees and edits every row; others only their own.
type Service struct {
	DB *gorm.DB
}

// Input is the create payload. UserID is honoured only for ADMIN callers.
type Input struct {
	UserID  *int64 `json:"user"`
	Message string `json:"message"`
}

func isAdmin(actor *domain.Actor) bool {
	return actor != nil && constants.NormalizeRole(actor.Role) == constants.Admin
}

func notFound() error {
	return apperr.NotFound("notification_not_found", "Notification not found")
}

func (s *Service) load(ctx context.Context, actor *domain.Actor, id int64) (*domain.Notification, error) {
	var n domain.Notification
	if err := s.DB.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, err
	}
	if !isAdmin(actor) && n.UserID != actor.UserID {
		return nil, apperr.Permission("not_owner", "No permission for this notification.")
	}
	return &n, nil
}

// List returns notifications newest first.
func (s *Service) List(ctx context.Context, actor *domain.Actor, unreadOnly bool) ([]domain.Notification, error) {
	if actor == nil {
		return []domain.Notification{}, nil
	}
	q := s.DB.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if !isAdmin(actor) {
		q = q.Where("user_id = ?", actor.UserID)
	}
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	rows := []domain.Notification{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Create stores a notification for the caller, or for any user when the caller is ADMIN.
func (s *Service) Create(ctx context.Context, actor *domain.Actor, in Input) (*domain.Notification, error) {
	if actor == nil {
		return nil, apperr.Permission("not_authenticated", "Authentication required")
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, apperr.Validation("message_required", "message is required").WithField("message")
	}
	n := &domain.Notification{UserID: actor.UserID, Message: msg}
	if isAdmin(actor) && in.UserID != nil {
		n.UserID = *in.UserID
	}
	if err := s.DB.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// SetRead flips is_read on one notification.
func (s *Service) SetRead(ctx context.Context, actor *domain.Actor, id int64, read bool) (*domain.Notification, error) {
	n, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(n).Update("is_read", read).Error; err != nil {
		return nil, err
	}
	n.IsRead = read
	return n, nil
}

// MarkAllRead marks every unread notification of the caller as read.
func (s *Service) MarkAllRead(ctx context.Context, actor *domain.Actor) (int64, error) {
	if actor == nil {
		return 0, nil
	}
	res := s.DB.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", actor.UserID, false).Update("is_read", true)
	return res.RowsAffected, res.Error
}

// Delete removes one notification.
func (s *Service) Delete(ctx context.Context, actor *domain.Actor, id int64) error {
	n, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Delete(n).Error
}
