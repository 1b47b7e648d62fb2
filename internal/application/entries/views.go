package entries

import (
	"time"

	"ibms-backend/internal/application/comments"
	"ibms-backend/internal/domain"

	"gorm.io/gorm"
)

// DetailRow is a detail with its computed line total.
type DetailRow struct {
	domain.BudgetDetail
	TotalPrice int64 `json:"total_price"`
}

// LogMeta summarizes the workflow history of an entry.
type LogMeta struct {
	SubmittedAt           *time.Time `json:"submitted_at"`
	SubmittedBy           *int64     `json:"submitted_by"`
	SubmittedByDisplay    *string    `json:"submitted_by_display"`
	LatestActionAt        *time.Time `json:"latest_action_at"`
	LatestActionBy        *int64     `json:"latest_action_by"`
	LatestActionByDisplay *string    `json:"latest_action_by_display"`
}

// EntryView is the read shape of an entry.
type EntryView struct {
	domain.BudgetEntry
	LogMeta
	SubjectName          string      `json:"subject_name"`
	SubjectCode          string      `json:"subject_code"`
	OrganizationName     string      `json:"organization_name"`
	EntrustedProjectName *string     `json:"entrusted_project_name"`
	OriginalAmount       int64       `json:"original_amount"`
	VarianceAmount       int64       `json:"variance_amount"`
	DetailCount          int         `json:"detail_count"`
	CommentCount         int         `json:"comment_count"`
	LatestCommentType    *string     `json:"latest_comment_type"`
	UnresolvedTypes      []string    `json:"unresolved_types"`
	Details              []DetailRow `json:"details,omitempty"`
}

func buildViews(db *gorm.DB, rows []domain.BudgetEntry, withDetails bool) ([]EntryView, error) {
	out := make([]EntryView, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(rows))
	subjectIDs := map[int64]struct{}{}
	orgIDs := map[int64]struct{}{}
	projectIDs := map[int64]struct{}{}
	for _, e := range rows {
		ids = append(ids, e.ID)
		subjectIDs[e.SubjectID] = struct{}{}
		orgIDs[e.OrganizationID] = struct{}{}
		if e.EntrustedProjectID != nil {
			projectIDs[*e.EntrustedProjectID] = struct{}{}
		}
	}

	var subjects []domain.BudgetSubject
	if err := db.Where("id IN ?", keys(subjectIDs)).Find(&subjects).Error; err != nil {
		return nil, err
	}
	subjectByID := map[int64]domain.BudgetSubject{}
	for _, s := range subjects {
		subjectByID[s.ID] = s
	}
	var orgs []domain.Organization
	if err := db.Where("id IN ?", keys(orgIDs)).Find(&orgs).Error; err != nil {
		return nil, err
	}
	orgName := map[int64]string{}
	for _, o := range orgs {
		orgName[o.ID] = o.Name
	}
	projectName := map[int64]string{}
	if len(projectIDs) > 0 {
		var projects []domain.EntrustedProject
		if err := db.Where("id IN ?", keys(projectIDs)).Find(&projects).Error; err != nil {
			return nil, err
		}
		for _, p := range projects {
			projectName[p.ID] = p.Name
		}
	}

	var details []domain.BudgetDetail
	if err := db.Where("entry_id IN ?", ids).Order("sort_order ASC, id ASC").Find(&details).Error; err != nil {
		return nil, err
	}
	detailsByEntry := map[int64][]domain.BudgetDetail{}
	for _, d := range details {
		detailsByEntry[d.EntryID] = append(detailsByEntry[d.EntryID], d)
	}

	var thread []domain.SubmissionComment
	if err := db.Where("entry_id IN ?", ids).Find(&thread).Error; err != nil {
		return nil, err
	}
	commentsByEntry := map[int64][]domain.SubmissionComment{}
	for _, c := range thread {
		commentsByEntry[*c.EntryID] = append(commentsByEntry[*c.EntryID], c)
	}

	metas, err := logMetas(db, ids)
	if err != nil {
		return nil, err
	}

	for _, e := range rows {
		v := EntryView{
			BudgetEntry:      e,
			LogMeta:          metas[e.ID],
			SubjectName:      subjectByID[e.SubjectID].Name,
			SubjectCode:      subjectByID[e.SubjectID].Code,
			OrganizationName: orgName[e.OrganizationID],
			OriginalAmount:   e.LastYearAmount,
			VarianceAmount:   e.VarianceAmount(),
			DetailCount:      len(detailsByEntry[e.ID]),
		}
		if e.EntrustedProjectID != nil {
			if name, ok := projectName[*e.EntrustedProjectID]; ok {
				v.EntrustedProjectName = &name
			}
		}
		list := commentsByEntry[e.ID]
		v.CommentCount = comments.LiveCount(list)
		v.LatestCommentType = comments.LatestType(list)
		v.UnresolvedTypes = comments.UnresolvedTypes(list)
		if withDetails {
			v.Details = make([]DetailRow, 0, len(detailsByEntry[e.ID]))
			for _, d := range detailsByEntry[e.ID] {
				v.Details = append(v.Details, DetailRow{BudgetDetail: d, TotalPrice: d.TotalPrice()})
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// logMetas derives submitted_* (earliest log to PENDING, else earliest transition out of DRAFT,
// else earliest log) and latest_action_* (latest log) per entry.
func logMetas(db *gorm.DB, entryIDs []int64) (map[int64]LogMeta, error) {
	var logs []domain.ApprovalLog
	if err := db.Where("entry_id IN ?", entryIDs).Order("created_at ASC, id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	byEntry := map[int64][]domain.ApprovalLog{}
	actorIDs := map[int64]struct{}{}
	for _, l := range logs {
		byEntry[*l.EntryID] = append(byEntry[*l.EntryID], l)
		if l.ActorID != nil {
			actorIDs[*l.ActorID] = struct{}{}
		}
	}
	display := map[int64]string{}
	if len(actorIDs) > 0 {
		var users []domain.User
		if err := db.Where("id IN ?", keys(actorIDs)).Find(&users).Error; err != nil {
			return nil, err
		}
		for i := range users {
			display[users[i].ID] = users[i].DisplayName()
		}
	}

	out := map[int64]LogMeta{}
	for entryID, list := range byEntry {
		var submitted *domain.ApprovalLog
		for i := range list {
			if list[i].ToStatus == domain.EntryPending {
				submitted = &list[i]
				break
			}
		}
		if submitted == nil {
			for i := range list {
				if list[i].FromStatus == domain.EntryDraft && list[i].ToStatus != domain.EntryDraft {
					submitted = &list[i]
					break
				}
			}
		}
		if submitted == nil {
			submitted = &list[0]
		}
		latest := &list[len(list)-1]

		var m LogMeta
		m.SubmittedAt, m.SubmittedBy, m.SubmittedByDisplay = stamp(submitted, display)
		m.LatestActionAt, m.LatestActionBy, m.LatestActionByDisplay = stamp(latest, display)
		out[entryID] = m
	}
	return out, nil
}

func stamp(l *domain.ApprovalLog, display map[int64]string) (*time.Time, *int64, *string) {
	at := l.CreatedAt
	if l.ActorID == nil {
		return &at, nil, nil
	}
	by := *l.ActorID
	name, ok := display[by]
	if !ok {
		return &at, &by, nil
	}
	return &at, &by, &name
}

func keys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
