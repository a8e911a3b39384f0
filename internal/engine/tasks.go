package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/syncer"
)

const (
	tickInterval  = 30 * time.Second
	pruneInterval = 24 * time.Hour
)

// Scheduler drives the engine's periodic work: the maintenance tick, the sync
// timer and archive pruning. Each loop exits when the context is cancelled.
type Scheduler struct {
	engine *Engine
	syncer *syncer.Client
	queue  *queue.Queue

	syncEvery time.Duration
	retention time.Duration
}

// NewScheduler wires the periodic tasks together.
func NewScheduler(e *Engine, s *syncer.Client, q *queue.Queue, syncEvery, retention time.Duration) *Scheduler {
	return &Scheduler{
		engine:    e,
		syncer:    s,
		queue:     q,
		syncEvery: syncEvery,
		retention: retention,
	}
}

// Start launches the background loops. They stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.tickLoop(ctx)
	go s.syncLoop(ctx)
	go s.pruneLoop(ctx)
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.engine.Tick(ctx, now)
		}
	}
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.syncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.syncer.Sync(ctx); err != nil {
				log.Debug().Err(err).Msg("Periodic sync pass failed")
			}
		}
	}
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	// Prune once at startup, then daily.
	if _, err := s.queue.Prune(ctx, s.retention); err != nil {
		log.Warn().Err(err).Msg("Archive prune failed")
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.queue.Prune(ctx, s.retention); err != nil {
				log.Warn().Err(err).Msg("Archive prune failed")
			}
		}
	}
}
