package domain

import "time"

// Comment types. DONE resolves REQUEST, ANSWER resolves QUESTION.
const (
	CommentDone     = "DONE"
	CommentRequest  = "REQUEST"
	CommentQuestion = "QUESTION"
	CommentAnswer   = "ANSWER"
)

// SubmissionComment is a review thread item keyed to an entry or a (subject, org, version) triple.
type SubmissionComment struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	EntryID            *int64    `gorm:"column:entry_id;index" json:"entry"`
	SubjectID          *int64    `gorm:"column:subject_id;index" json:"subject"`
	OrgID              *int64    `gorm:"column:org_id;index" json:"org"`
	VersionID          int64     `gorm:"column:version_id;not null;index" json:"version"`
	EntrustedProjectID *int64    `gorm:"column:entrusted_project_id" json:"entrusted_project"`
	CommentType        string    `gorm:"column:comment_type;size:20;not null;default:DONE" json:"comment_type"`
	Body               string    `gorm:"column:body;type:text;not null" json:"body"`
	ParentID           *int64    `gorm:"column:parent_id;index" json:"parent"`
	AuthorID           int64     `gorm:"column:author_id;not null" json:"author"`
	IsDeleted          bool      `gorm:"column:is_deleted;not null" json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (SubmissionComment) TableName() string {
	return "submission_comments"
}

// ValidCommentType returns true for the four known comment types.
func ValidCommentType(t string) bool {
	switch t {
	case CommentDone, CommentRequest, CommentQuestion, CommentAnswer:
		return true
	}
	return false
}
