package audit

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLogType = domain.LogTypeSystem
	defaultAction  = "EVENT"
	maxUserAgent   = 255
)

// RequestInfo is the HTTP side of an audit event.
type RequestInfo struct {
	Method       string
	Path         string
	ForwardedFor string
	RemoteAddr   string
	UserAgent    string
}

// ClientIP returns the first X-Forwarded-For hop, else the remote address.
func (r *RequestInfo) ClientIP() *string {
	if r == nil {
		return nil
	}
	if r.ForwardedFor != "" {
		ip := strings.TrimSpace(strings.Split(r.ForwardedFor, ",")[0])
		return &ip
	}
	if r.RemoteAddr == "" {
		return nil
	}
	ip := r.RemoteAddr
	return &ip
}

// Event is one audit record to write.
type Event struct {
	Actor        *domain.Actor
	EntryID      *int64
	LogType      string
	Action       string
	FromStatus   string
	ToStatus     string
	Reason       string
	ResourceType string
	ResourceID   string
	StatusCode   *int
	Metadata     map[string]interface{}
	Request      *RequestInfo
}

// Writer records ApprovalLog rows. Write never fails the caller.
type Writer struct {
	DB *gorm.DB
}

// With returns a writer bound to tx so the row commits with the caller's transaction.
func (w *Writer) With(tx *gorm.DB) *Writer {
	return &Writer{DB: tx}
}

// Write inserts the event inside a savepoint; failures are logged and swallowed.
func (w *Writer) Write(ctx context.Context, ev Event) {
	if w == nil || w.DB == nil {
		return
	}
	row, err := buildLog(ev)
	if err == nil {
		err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(row).Error
		})
	}
	if err != nil {
		metrics.AuditWriteFailures.Inc()
		log.Warn().Err(err).Str("log_type", ev.LogType).Str("action", ev.Action).Msg("audit log write failed")
	}
}

// truncateRunes cuts s to at most n characters without splitting a multi-byte rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func buildLog(ev Event) (*domain.ApprovalLog, error) {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	row := &domain.ApprovalLog{
		EntryID:      ev.EntryID,
		ActorID:      ev.Actor.ActorID(),
		LogType:      firstNonEmpty(ev.LogType, defaultLogType),
		Action:       firstNonEmpty(ev.Action, defaultAction),
		FromStatus:   ev.FromStatus,
		ToStatus:     ev.ToStatus,
		Reason:       ev.Reason,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		StatusCode:   ev.StatusCode,
		Metadata:     datatypes.JSON(raw),
	}
	if ev.Request != nil {
		row.Method = ev.Request.Method
		row.Path = ev.Request.Path
		row.IPAddress = ev.Request.ClientIP()
		row.UserAgent = truncateRunes(ev.Request.UserAgent, maxUserAgent)
	}
	return row, nil
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
