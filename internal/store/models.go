package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/cadence/pkg/models"
)

// QueueEntry is a closed session awaiting acknowledged delivery to the remote
// store. Rows are append-only; only the attempt counter may change after
// insert.
type QueueEntry struct {
	ID        int64         `gorm:"primaryKey;autoIncrement"`
	SessionID string        `gorm:"uniqueIndex;not null"`
	Source    models.Source `gorm:"type:text;check:source IN ('browser', 'editor');not null"`
	Subject   string        `gorm:"index;not null"`
	Category  string        `gorm:"not null"`

	URL       string
	Title     string
	Project   string
	GitBranch string

	StartedAtEpoch int64 `gorm:"not null"`
	EndedAtEpoch   int64 `gorm:"not null"`
	ActiveMs       int64 `gorm:"not null"`
	IdleMs         int64 `gorm:"not null"`
	Score          int   `gorm:"not null"`

	Metrics models.JSONMetrics `gorm:"type:text"`

	Attempted       int    `gorm:"default:0"`
	EnqueuedAt      string `gorm:"not null"`
	EnqueuedAtEpoch int64  `gorm:"index:idx_queue_enqueued;not null"`
}

func (QueueEntry) TableName() string { return "queue_entries" }

// BeforeCreate hook to ensure timestamps are set.
func (e *QueueEntry) BeforeCreate(tx *gorm.DB) error {
	if e.EnqueuedAtEpoch == 0 {
		e.EnqueuedAtEpoch = time.Now().UnixMilli()
	}
	if e.EnqueuedAt == "" {
		e.EnqueuedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// ArchivedSession is the local history row kept for stats, independent of
// sync status, pruned after the retention window.
type ArchivedSession struct {
	ID        int64         `gorm:"primaryKey;autoIncrement"`
	SessionID string        `gorm:"uniqueIndex;not null"`
	Source    models.Source `gorm:"type:text;check:source IN ('browser', 'editor');not null"`
	Subject   string        `gorm:"index;not null"`
	Category  string        `gorm:"index;not null"`

	URL       string
	Title     string
	Project   string
	GitBranch string

	StartedAtEpoch int64 `gorm:"index:idx_archive_started,sort:desc;not null"`
	EndedAtEpoch   int64 `gorm:"not null"`
	ActiveMs       int64 `gorm:"not null"`
	IdleMs         int64 `gorm:"not null"`
	Score          int   `gorm:"not null"`

	Metrics models.JSONMetrics `gorm:"type:text"`
}

func (ArchivedSession) TableName() string { return "session_archive" }

// CategoryOverride is a user-defined subject -> category mapping.
type CategoryOverride struct {
	Subject   string `gorm:"primaryKey;type:text"`
	Category  string `gorm:"not null"`
	UpdatedAt string `gorm:"not null"`
}

func (CategoryOverride) TableName() string { return "category_overrides" }

// BeforeSave hook to ensure the timestamp is set.
func (o *CategoryOverride) BeforeSave(tx *gorm.DB) error {
	if o.UpdatedAt == "" {
		o.UpdatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// NewQueueEntry builds a row from a closed session.
func NewQueueEntry(sess *models.Session, at time.Time) *QueueEntry {
	return &QueueEntry{
		SessionID:       sess.ID,
		Source:          sess.Source,
		Subject:         sess.Subject,
		Category:        sess.Category,
		URL:             sess.URL,
		Title:           sess.Title,
		Project:         sess.Project,
		GitBranch:       sess.GitBranch,
		StartedAtEpoch:  sess.StartedAtEpoch,
		EndedAtEpoch:    sess.EndedAtEpoch,
		ActiveMs:        sess.ActiveMs,
		IdleMs:          sess.IdleMs,
		Score:           sess.Score,
		Metrics:         models.JSONMetrics(sess.Metrics),
		EnqueuedAt:      at.Format(time.RFC3339),
		EnqueuedAtEpoch: at.UnixMilli(),
	}
}

// NewArchivedSession builds an archive row from a closed session.
func NewArchivedSession(sess *models.Session) *ArchivedSession {
	return &ArchivedSession{
		SessionID:      sess.ID,
		Source:         sess.Source,
		Subject:        sess.Subject,
		Category:       sess.Category,
		URL:            sess.URL,
		Title:          sess.Title,
		Project:        sess.Project,
		GitBranch:      sess.GitBranch,
		StartedAtEpoch: sess.StartedAtEpoch,
		EndedAtEpoch:   sess.EndedAtEpoch,
		ActiveMs:       sess.ActiveMs,
		IdleMs:         sess.IdleMs,
		Score:          sess.Score,
		Metrics:        models.JSONMetrics(sess.Metrics),
	}
}

// ToSession converts a queue row back to the domain session.
func (e *QueueEntry) ToSession() models.Session {
	return models.Session{
		ID:             e.SessionID,
		Source:         e.Source,
		Subject:        e.Subject,
		Category:       e.Category,
		URL:            e.URL,
		Title:          e.Title,
		Project:        e.Project,
		GitBranch:      e.GitBranch,
		StartedAtEpoch: e.StartedAtEpoch,
		EndedAtEpoch:   e.EndedAtEpoch,
		ActiveMs:       e.ActiveMs,
		IdleMs:         e.IdleMs,
		Score:          e.Score,
		Metrics:        models.Metrics(e.Metrics),
	}
}
