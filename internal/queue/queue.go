// Package queue provides the durable local queue of closed sessions pending
// sync, backed by the SQLite store so it survives host restarts.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/cadence/internal/store"
	"github.com/thebtf/cadence/pkg/models"
)

// Queue is append-only from the engine side and pop-only (after server
// acknowledgment) from the sync side.
type Queue struct {
	store *store.Store
}

// New creates a Queue on top of the store.
func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue persists a closed session into the pending queue and the local
// archive. Re-enqueueing the same session id is a no-op, so a crash between
// enqueue and the caller's bookkeeping cannot double-count.
func (q *Queue) Enqueue(ctx context.Context, sess *models.Session) error {
	now := time.Now()

	err := q.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(store.NewQueueEntry(sess, now)).Error
	if err != nil {
		return fmt.Errorf("enqueue session: %w", err)
	}

	err = q.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(store.NewArchivedSession(sess)).Error
	if err != nil {
		// The pending entry is durable; archive loss only degrades stats.
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("Failed to archive session")
	}

	log.Debug().
		Str("sessionId", sess.ID).
		Str("subject", sess.Subject).
		Int64("activeMs", sess.ActiveMs).
		Msg("Session enqueued for sync")

	return nil
}

// PeekAll returns a snapshot of all pending entries in insertion order.
func (q *Queue) PeekAll(ctx context.Context) ([]models.QueueEntry, error) {
	var rows []store.QueueEntry
	err := q.store.DB.WithContext(ctx).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}

	entries := make([]models.QueueEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, models.QueueEntry{
			Session:         rows[i].ToSession(),
			Attempted:       rows[i].Attempted,
			EnqueuedAtEpoch: rows[i].EnqueuedAtEpoch,
		})
	}
	return entries, nil
}

// Acknowledge removes exactly the entries with the given session ids.
// Acknowledging ids that are already gone is a no-op, so retried
// acknowledgments are idempotent.
func (q *Queue) Acknowledge(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := q.store.DB.WithContext(ctx).
		Where("session_id IN ?", ids).
		Delete(&store.QueueEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("acknowledge entries: %w", res.Error)
	}

	log.Debug().
		Int("requested", len(ids)).
		Int64("removed", res.RowsAffected).
		Msg("Queue entries acknowledged")

	return res.RowsAffected, nil
}

// MarkAttempted bumps the retry counter on the given entries. The counter is
// the only mutable field of an enqueued entry.
func (q *Queue) MarkAttempted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := q.store.DB.WithContext(ctx).
		Model(&store.QueueEntry{}).
		Where("session_id IN ?", ids).
		UpdateColumn("attempted", gorm.Expr("attempted + 1")).Error
	if err != nil {
		return fmt.Errorf("mark attempted: %w", err)
	}
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := q.store.DB.WithContext(ctx).Model(&store.QueueEntry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Reset drops all pending entries. This is the only blind clear and must be
// user-initiated.
func (q *Queue) Reset(ctx context.Context) error {
	err := q.store.DB.WithContext(ctx).
		Where("1 = 1").
		Delete(&store.QueueEntry{}).Error
	if err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	log.Info().Msg("Pending sync queue reset")
	return nil
}

// Prune removes archive rows older than the retention window. Pending queue
// entries are never pruned; they stay until acknowledged or reset.
func (q *Queue) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res := q.store.DB.WithContext(ctx).
		Where("started_at_epoch < ?", cutoff).
		Delete(&store.ArchivedSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune archive: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("removed", res.RowsAffected).Msg("Pruned old archived sessions")
	}
	return res.RowsAffected, nil
}
