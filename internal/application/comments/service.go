package comments

import (
	"context"
	"errors"
	"strings"

	"ibms-backend/internal/application/scope"
	"ibms-backend/internal/constants"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"

	"gorm.io/gorm"
)

var (
	ErrCommentNotFound = errors.New("Comment not found")
	ErrNotAuthor       = errors.New("Only the author can modify this comment.")
	ErrNestedReply     = errors.New("Replies can only be added to top-level comments.")
)

// Service manages review comment threads.
type Service struct {
	DB     *gorm.DB
	Scopes *scope.Resolver
}

// ListFilter narrows the comment list.
type ListFilter struct {
	VersionID          *int64
	EntryID            *int64
	SubjectID          *int64
	OrgID              *int64
	EntrustedProjectID *int64
	TopLevel           bool
}

// Input is the create payload.
type Input struct {
	EntryID            *int64 `json:"entry"`
	SubjectID          *int64 `json:"subject"`
	OrgID              *int64 `json:"org"`
	VersionID          *int64 `json:"version"`
	EntrustedProjectID *int64 `json:"entrusted_project"`
	CommentType        string `json:"comment_type"`
	Body               string `json:"body"`
	ParentID           *int64 `json:"parent"`
}

// List returns live comments in scope, oldest first.
func (s *Service) List(ctx context.Context, actor *domain.Actor, f ListFilter) ([]domain.SubmissionComment, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	q := sc.Apply(s.DB.WithContext(ctx).Where("is_deleted = ?", false), "org_id")
	if f.VersionID != nil {
		q = q.Where("version_id = ?", *f.VersionID)
	}
	if f.EntryID != nil {
		q = q.Where("entry_id = ?", *f.EntryID)
	}
	if f.SubjectID != nil {
		q = q.Where("subject_id = ?", *f.SubjectID)
	}
	if f.OrgID != nil {
		q = q.Where("org_id = ?", *f.OrgID)
	}
	if f.EntrustedProjectID != nil {
		q = q.Where("entrusted_project_id = ?", *f.EntrustedProjectID)
	}
	if f.TopLevel {
		q = q.Where("parent_id IS NULL")
	}
	var out []domain.SubmissionComment
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Create adds a comment or a reply. Entry comments inherit the entry's subject, organization,
// project and version; replies inherit their parent's keys.
func (s *Service) Create(ctx context.Context, actor *domain.Actor, in Input) (*domain.SubmissionComment, error) {
	if actor == nil || !constants.AllowedRole(constants.WriteBudgetData, actor.Role) {
		return nil, apperr.Permission("write_not_allowed", "No permission to write comments.")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, apperr.Validation("body_required", "body is required.").WithField("body")
	}
	ctype := strings.ToUpper(strings.TrimSpace(in.CommentType))
	if ctype == "" {
		ctype = domain.CommentDone
	}
	if !domain.ValidCommentType(ctype) {
		return nil, apperr.Validation("invalid_comment_type", "invalid comment_type.").WithField("comment_type")
	}
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	c := &domain.SubmissionComment{
		EntryID:            in.EntryID,
		SubjectID:          in.SubjectID,
		OrgID:              in.OrgID,
		EntrustedProjectID: in.EntrustedProjectID,
		CommentType:        ctype,
		Body:               body,
		AuthorID:           actor.UserID,
	}
	if in.VersionID != nil {
		c.VersionID = *in.VersionID
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ParentID != nil {
			var parent domain.SubmissionComment
			if err := tx.Where("id = ? AND is_deleted = ?", *in.ParentID, false).First(&parent).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.Validation("parent_not_found", ErrCommentNotFound.Error()).WithField("parent")
				}
				return err
			}
			if parent.ParentID != nil {
				return apperr.Validation("nested_reply", ErrNestedReply.Error()).WithField("parent")
			}
			c.ParentID = &parent.ID
			c.EntryID, c.SubjectID, c.OrgID = parent.EntryID, parent.SubjectID, parent.OrgID
			c.VersionID, c.EntrustedProjectID = parent.VersionID, parent.EntrustedProjectID
		} else if c.EntryID != nil {
			var e domain.BudgetEntry
			if err := tx.First(&e, *c.EntryID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.Validation("entry_not_found", "entry does not exist.").WithField("entry")
				}
				return err
			}
			var v domain.BudgetVersion
			if err := tx.Where("year = ? AND round = ?", e.Year, e.SupplementalRound).First(&v).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.Validation("version_not_found", "No budget version exists for this entry.").WithField("entry")
				}
				return err
			}
			c.SubjectID, c.OrgID = &e.SubjectID, &e.OrganizationID
			c.EntrustedProjectID, c.VersionID = e.EntrustedProjectID, v.ID
		}

		if c.VersionID == 0 {
			return apperr.Validation("version_required", "version is required.").WithField("version")
		}
		if c.OrgID == nil {
			return apperr.Validation("org_required", "org is required.").WithField("org")
		}
		if !sc.Contains(*c.OrgID) {
			return apperr.Permission("org_out_of_scope", "No permission to comment for this organization.")
		}
		return tx.Create(c).Error
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update changes the body or type of the caller's own comment.
func (s *Service) Update(ctx context.Context, actor *domain.Actor, id int64, body, commentType *string) (*domain.SubmissionComment, error) {
	c, err := s.ownComment(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if body != nil {
		if strings.TrimSpace(*body) == "" {
			return nil, apperr.Validation("body_required", "body is required.").WithField("body")
		}
		c.Body = strings.TrimSpace(*body)
	}
	if commentType != nil {
		t := strings.ToUpper(strings.TrimSpace(*commentType))
		if !domain.ValidCommentType(t) {
			return nil, apperr.Validation("invalid_comment_type", "invalid comment_type.").WithField("comment_type")
		}
		c.CommentType = t
	}
	if err := s.DB.WithContext(ctx).Select("body", "comment_type", "updated_at").Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// Delete soft-deletes the caller's own comment.
func (s *Service) Delete(ctx context.Context, actor *domain.Actor, id int64) error {
	c, err := s.ownComment(ctx, actor, id)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Model(c).Update("is_deleted", true).Error
}

func (s *Service) ownComment(ctx context.Context, actor *domain.Actor, id int64) (*domain.SubmissionComment, error) {
	sc, err := s.Scopes.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	var c domain.SubmissionComment
	if err := s.DB.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("comment_not_found", ErrCommentNotFound.Error())
		}
		return nil, err
	}
	if !sc.ContainsPtr(c.OrgID) {
		return nil, apperr.NotFound("comment_not_found", ErrCommentNotFound.Error())
	}
	if actor == nil || c.AuthorID != actor.UserID {
		return nil, apperr.Permission("not_author", ErrNotAuthor.Error())
	}
	return &c, nil
}
