// Package worker provides the local control API for the cadence daemon.
// Host integrations post activity events here; UI clients read state and
// subscribe to the event stream.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/cadence/internal/classify"
	"github.com/thebtf/cadence/internal/config"
	"github.com/thebtf/cadence/internal/engine"
	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/stats"
	"github.com/thebtf/cadence/internal/store"
	"github.com/thebtf/cadence/internal/syncer"
	"github.com/thebtf/cadence/internal/worker/sse"
)

// snapshotInterval is how often the open-session snapshot is pushed to SSE
// subscribers.
const snapshotInterval = 10 * time.Second

// Service is the daemon's HTTP control surface.
type Service struct {
	version string

	store      *store.Store
	queue      *queue.Queue
	engine     *engine.Engine
	classifier *classify.Classifier
	syncer     *syncer.Client
	stats      *stats.Service

	broadcaster *sse.Broadcaster
	router      chi.Router
	server      *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// Deps bundles the service's collaborators.
type Deps struct {
	Version    string
	Store      *store.Store
	Queue      *queue.Queue
	Engine     *engine.Engine
	Classifier *classify.Classifier
	Syncer     *syncer.Client
	Stats      *stats.Service
}

// NewService builds the control API around the given collaborators.
func NewService(deps Deps, broadcaster *sse.Broadcaster) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:     deps.Version,
		store:       deps.Store,
		queue:       deps.Queue,
		engine:      deps.Engine,
		classifier:  deps.Classifier,
		syncer:      deps.Syncer,
		stats:       deps.Stats,
		broadcaster: broadcaster,
		router:      chi.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleGetConfig)
		r.Post("/events", s.handleEvent)
		r.Get("/session/current", s.handleCurrentSession)
		r.Post("/tracking/toggle", s.handleTrackingToggle)
		r.Post("/sync", s.handleSync)
		r.Get("/stats/today", s.handleStatsToday)

		r.Get("/categories/overrides", s.handleListOverrides)
		r.Post("/categories/override", s.handleSetOverride)
		r.Delete("/categories/override/{subject}", s.handleDeleteOverride)

		r.Post("/credential", s.handleSetCredential)
		r.Delete("/credential", s.handleClearCredential)

		r.Post("/reset", s.handleReset)

		r.Get("/events/stream", s.broadcaster.HandleSSE)
	})
}

// Start binds the listener on localhost and launches the snapshot loop.
// The daemon is local-only; it never listens on external interfaces.
func (s *Service) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.snapshotLoop()

	s.ready.Store(true)
	log.Info().Str("addr", addr).Str("version", s.version).Msg("Control API listening")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control api: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and background loops.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// snapshotLoop pushes the engine snapshot to SSE subscribers so UIs can show
// the live session without polling.
func (s *Service) snapshotLoop() {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.broadcaster.ClientCount() == 0 {
				continue
			}
			s.broadcaster.Broadcast(sse.Event{Type: "snapshot", Data: s.engine.Snapshot()})
		}
	}
}

// Notifier adapts the broadcaster to the engine and syncer notification
// interfaces. Desktop notification delivery is the UI client's job; the
// daemon only publishes the event.
type Notifier struct {
	B *sse.Broadcaster
}

type notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notify publishes a productivity notification.
func (n Notifier) Notify(title, message string) {
	if !config.Get().ShowNotifications {
		return
	}
	n.B.Broadcast(sse.Event{Type: "notification", Data: notification{Title: title, Message: message}})
}

// SyncFailing publishes a sync health warning.
func (n Notifier) SyncFailing(consecutive int, lastErr error) {
	n.B.Broadcast(sse.Event{Type: "sync_failing", Data: notification{
		Title:   "Sync trouble",
		Message: fmt.Sprintf("%d sync attempts failed in a row: %v", consecutive, lastErr),
	}})
}

// SyncRecovered publishes a sync recovery notice.
func (n Notifier) SyncRecovered() {
	n.B.Broadcast(sse.Event{Type: "sync_recovered"})
}
