package comments

import (
	"sort"

	"ibms-backend/internal/domain"
)

var resolverOf = map[string]string{
	domain.CommentRequest:  domain.CommentDone,
	domain.CommentQuestion: domain.CommentAnswer,
}

func liveNewestFirst(list []domain.SubmissionComment) []domain.SubmissionComment {
	live := make([]domain.SubmissionComment, 0, len(list))
	for _, c := range list {
		if !c.IsDeleted {
			live = append(live, c)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID > live[j].ID
		}
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	return live
}

// UnresolvedTypes returns REQUEST and/or QUESTION when the newest top-level comment of that type
// has no reply of its resolving type (REQUEST->DONE, QUESTION->ANSWER). A lane stops at the first
// top-level DONE or ANSWER met before an unresolved comment.
func UnresolvedTypes(list []domain.SubmissionComment) []string {
	live := liveNewestFirst(list)
	var top []domain.SubmissionComment
	for _, c := range live {
		if c.ParentID == nil {
			top = append(top, c)
		}
	}

	out := []string{}
	for _, check := range []string{domain.CommentRequest, domain.CommentQuestion} {
		resolver := resolverOf[check]
		for _, c := range top {
			if c.CommentType == check {
				if !hasReply(live, c.ID, resolver) {
					out = append(out, check)
					break
				}
				continue
			}
			if c.CommentType == domain.CommentDone || c.CommentType == domain.CommentAnswer {
				break
			}
		}
	}
	return out
}

func hasReply(list []domain.SubmissionComment, parentID int64, commentType string) bool {
	for _, c := range list {
		if c.ParentID != nil && *c.ParentID == parentID && c.CommentType == commentType {
			return true
		}
	}
	return false
}

// LatestType is the type of the newest live top-level comment, nil when there is none.
func LatestType(list []domain.SubmissionComment) *string {
	for _, c := range liveNewestFirst(list) {
		if c.ParentID == nil {
			t := c.CommentType
			return &t
		}
	}
	return nil
}

// LiveCount counts comments that are not soft-deleted.
func LiveCount(list []domain.SubmissionComment) int {
	n := 0
	for _, c := range list {
		if !c.IsDeleted {
			n++
		}
	}
	return n
}
