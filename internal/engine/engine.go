// Package engine owns the session lifecycle: it turns normalized host events
// into open sessions, accrues active and idle time, and hands closed sessions
// to the durable queue.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/cadence/internal/activity"
	"github.com/thebtf/cadence/internal/classify"
	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/score"
	"github.com/thebtf/cadence/internal/subject"
	"github.com/thebtf/cadence/pkg/hostevent"
	"github.com/thebtf/cadence/pkg/models"
)

// Alert thresholds.
const (
	distractionAlertAfter = 30 * time.Minute
	distractionScoreMax   = 40
	productiveAlertAfter  = 60 * time.Minute
	productiveScoreMin    = 80
	idleAlertAfter        = 5 * time.Minute
)

// Notifier receives user-facing productivity notifications. Implementations
// must not block and must not call back into the engine.
type Notifier interface {
	Notify(title, message string)
}

// Options configures the engine.
type Options struct {
	InactivityWindow    time.Duration
	InteractionThrottle time.Duration
	MinSession          time.Duration
	TrackingEnabled     bool
	ExcludedSubjects    []string
}

// openSession is the single mutable session the engine owns between a subject
// appearing and disappearing.
type openSession struct {
	sess models.Session

	// lastMark is the accrual point: time before it has already been booked
	// into ActiveMs or IdleMs.
	lastMark time.Time
	idle     bool

	idleSince time.Time

	alertedDistraction bool
	alertedProductive  bool
	alertedIdle        bool
}

// Snapshot is a read-only view of the engine state for the control API.
type Snapshot struct {
	TrackingEnabled bool            `json:"trackingEnabled"`
	UserActive      bool            `json:"userActive"`
	Session         *models.Session `json:"session,omitempty"`
	SessionIdle     bool            `json:"sessionIdle,omitempty"`
}

// Engine is the session state machine. One mutex serializes all event
// handling; arrival order under the lock is the conflict resolution order.
type Engine struct {
	mu sync.Mutex

	coord      *activity.Coordinator
	classifier *classify.Classifier
	queue      *queue.Queue
	notifier   Notifier

	trackingEnabled bool
	minSession      time.Duration
	excluded        map[string]bool

	current *openSession
}

// New creates an Engine. The coordinator callback runs while the engine lock
// is held, which is safe because every coordinator entry point goes through an
// engine method.
func New(cls *classify.Classifier, q *queue.Queue, notifier Notifier, opts Options) *Engine {
	e := &Engine{
		classifier:      cls,
		queue:           q,
		notifier:        notifier,
		trackingEnabled: opts.TrackingEnabled,
		minSession:      opts.MinSession,
		excluded:        make(map[string]bool, len(opts.ExcludedSubjects)),
	}
	for _, s := range opts.ExcludedSubjects {
		e.excluded[s] = true
	}
	e.coord = activity.New(opts.InactivityWindow, opts.InteractionThrottle, e.onActivityChange)
	return e
}

// HandleEvent dispatches one host event.
func (e *Engine) HandleEvent(ctx context.Context, ev *hostevent.Event) {
	at := ev.Timestamp()

	switch ev.Type {
	case hostevent.TypePageView:
		e.HandlePageView(ctx, ev.URL, ev.Title, at)
	case hostevent.TypeFileEvent:
		e.HandleFileEvent(ctx, ev.LanguageID, ev.Path, ev.Project, ev.GitBranch, at)
	case hostevent.TypeFocus:
		e.HandleFocus(ctx, ev.Focused, at)
	case hostevent.TypeIdleState:
		e.HandleIdleState(ctx, activity.IdleState(ev.IdleState), at)
	case hostevent.TypeInteraction:
		e.HandleInteraction(ctx, at)
	case hostevent.TypeEdit:
		e.HandleEdit(ctx, ev, at)
	case hostevent.TypeShutdown:
		e.CloseCurrent(ctx, at)
	default:
		log.Debug().Str("type", ev.Type).Msg("Ignoring unknown host event type")
	}
}

// HandlePageView processes a browser navigation. An untrackable page closes
// the open session; a trackable one continues it (same subject) or replaces it.
func (e *Engine) HandlePageView(ctx context.Context, rawURL, title string, at time.Time) {
	info, err := subject.ForURL(rawURL, title)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.coord.ReportInteraction(at)

	if err != nil {
		e.closeLocked(ctx, at)
		return
	}
	e.arriveLocked(ctx, info, at)
}

// HandleFileEvent processes an editor document switch.
func (e *Engine) HandleFileEvent(ctx context.Context, languageID, path, project, gitBranch string, at time.Time) {
	info, err := subject.ForFile(path, languageID, project, gitBranch)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.coord.ReportInteraction(at)

	if err != nil {
		e.closeLocked(ctx, at)
		return
	}
	e.arriveLocked(ctx, info, at)
}

// HandleFocus processes a host focus change.
func (e *Engine) HandleFocus(ctx context.Context, focused bool, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coord.ReportFocusSignal(focused, at)
}

// HandleIdleState processes a host idle-detector change.
func (e *Engine) HandleIdleState(ctx context.Context, state activity.IdleState, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coord.ReportIdleSignal(state, at)
}

// HandleInteraction processes a raw user interaction.
func (e *Engine) HandleInteraction(ctx context.Context, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coord.ReportInteraction(at)
}

// HandleEdit folds editor change counters into the open editor session.
// Counters are frozen while the session is idle; the interaction itself still
// counts as activity evidence.
func (e *Engine) HandleEdit(ctx context.Context, ev *hostevent.Event, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.coord.ReportInteraction(at)

	cur := e.current
	if cur == nil || cur.sess.Source != models.SourceEditor || cur.idle {
		return
	}
	cur.sess.Metrics.Keystrokes += ev.Keystrokes
	cur.sess.Metrics.Edits += ev.Edits
	cur.sess.Metrics.LinesAdded += ev.LinesAdded
	cur.sess.Metrics.LinesDeleted += ev.LinesDeleted
	cur.sess.Metrics.LinesModified += ev.LinesModified
}

// CloseCurrent finalizes the open session, if any.
func (e *Engine) CloseCurrent(ctx context.Context, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked(ctx, at)
}

// SetTrackingEnabled toggles tracking. Disabling closes the open session.
func (e *Engine) SetTrackingEnabled(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.trackingEnabled == enabled {
		return
	}
	e.trackingEnabled = enabled
	if !enabled {
		e.closeLocked(ctx, time.Now())
	}
	log.Info().Bool("enabled", enabled).Msg("Tracking toggled")
}

// SetExcludedSubjects replaces the exclusion list, closing the open session if
// its subject just became excluded.
func (e *Engine) SetExcludedSubjects(ctx context.Context, subjects []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.excluded = make(map[string]bool, len(subjects))
	for _, s := range subjects {
		e.excluded[s] = true
	}
	if e.current != nil && e.excluded[e.current.sess.Subject] {
		e.closeLocked(ctx, time.Now())
	}
}

// Snapshot returns the current engine state with time accrued up to now.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		TrackingEnabled: e.trackingEnabled,
		UserActive:      e.coord.Active(),
	}
	if e.current != nil {
		e.accrue(time.Now())
		sess := e.current.sess
		sess.EndedAtEpoch = e.current.lastMark.UnixMilli()
		sess.Score = score.Score(sess.Category, sess.ActiveMs, sess.IdleMs)
		snap.Session = &sess
		snap.SessionIdle = e.current.idle
	}
	return snap
}

// Tick runs periodic maintenance: the inactivity safety net and productivity
// alerts. Called from the scheduler roughly every half minute.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.coord.CheckInactivity(now)

	cur := e.current
	if cur == nil || e.notifier == nil {
		return
	}
	e.accrue(now)

	projected := score.Score(cur.sess.Category, cur.sess.ActiveMs, cur.sess.IdleMs)
	activeFor := time.Duration(cur.sess.ActiveMs) * time.Millisecond

	if !cur.alertedDistraction && activeFor > distractionAlertAfter && projected < distractionScoreMax {
		cur.alertedDistraction = true
		e.notifier.Notify("Time check",
			cur.sess.Subject+" has had your attention for over 30 minutes.")
	}
	if !cur.alertedProductive && activeFor > productiveAlertAfter && projected > productiveScoreMin {
		cur.alertedProductive = true
		e.notifier.Notify("Deep work",
			"Over an hour of focused time on "+cur.sess.Subject+". Consider a break.")
	}
	if cur.idle && !cur.alertedIdle && !cur.idleSince.IsZero() && now.Sub(cur.idleSince) > idleAlertAfter {
		cur.alertedIdle = true
		e.notifier.Notify("Still there?",
			"Session on "+cur.sess.Subject+" has been idle for 5 minutes.")
	}
}

// onActivityChange is the coordinator callback. It runs with the engine lock
// held because every coordinator entry point is an engine method.
func (e *Engine) onActivityChange(active bool, at time.Time) {
	cur := e.current
	if cur == nil {
		return
	}
	e.accrue(at)
	cur.idle = !active
	if cur.idle {
		cur.idleSince = at
	} else {
		cur.idleSince = time.Time{}
		cur.alertedIdle = false
	}
}

// arriveLocked applies subject arrival: same subject continues the session,
// a different one closes it first, excluded subjects track nothing.
func (e *Engine) arriveLocked(ctx context.Context, info subject.Info, at time.Time) {
	if !e.trackingEnabled || e.excluded[info.Key] {
		e.closeLocked(ctx, at)
		return
	}

	cur := e.current
	if cur != nil && cur.sess.Source == info.Source && cur.sess.Subject == info.Key {
		// Same subject, refreshed context. Last arrival wins.
		cur.sess.URL = info.URL
		cur.sess.Title = info.Title
		cur.sess.GitBranch = info.GitBranch
		if info.Source == models.SourceBrowser {
			cur.sess.Metrics.TabSwitches++
		}
		if info.Path != "" && !containsString(cur.sess.Metrics.Files, info.Path) {
			cur.sess.Metrics.Files = append(cur.sess.Metrics.Files, info.Path)
		}
		return
	}

	e.closeLocked(ctx, at)

	category := info.Category
	if category == "" {
		category = e.classifier.Classify(info.Key)
	}

	e.current = &openSession{
		sess: models.Session{
			ID:             uuid.New().String(),
			Source:         info.Source,
			Subject:        info.Key,
			Category:       category,
			URL:            info.URL,
			Title:          info.Title,
			Project:        info.Project,
			GitBranch:      info.GitBranch,
			StartedAtEpoch: at.UnixMilli(),
		},
		lastMark: at,
		idle:     !e.coord.Active(),
	}
	if info.Path != "" {
		e.current.sess.Metrics.Files = models.JSONStringArray{info.Path}
	}
	if e.current.idle {
		e.current.idleSince = at
	}

	log.Debug().
		Str("sessionId", e.current.sess.ID).
		Str("subject", info.Key).
		Str("category", category).
		Msg("Session opened")
}

// closeLocked finalizes the open session. Sessions under the minimum duration
// are discarded; everything else is scored and enqueued.
func (e *Engine) closeLocked(ctx context.Context, at time.Time) {
	cur := e.current
	if cur == nil {
		return
	}
	e.current = nil

	e.accrueSession(cur, at)
	cur.sess.EndedAtEpoch = cur.lastMark.UnixMilli()

	if time.Duration(cur.sess.DurationMs())*time.Millisecond < e.minSession {
		log.Debug().
			Str("subject", cur.sess.Subject).
			Int64("durationMs", cur.sess.DurationMs()).
			Msg("Discarding sub-threshold session")
		return
	}

	cur.sess.Score = score.Score(cur.sess.Category, cur.sess.ActiveMs, cur.sess.IdleMs)

	if err := e.queue.Enqueue(ctx, &cur.sess); err != nil {
		// The queue is the durability boundary; a failed enqueue drops the
		// session rather than blocking event handling.
		log.Error().Err(err).Str("sessionId", cur.sess.ID).Msg("Failed to enqueue closed session")
		return
	}

	log.Debug().
		Str("sessionId", cur.sess.ID).
		Str("subject", cur.sess.Subject).
		Int64("activeMs", cur.sess.ActiveMs).
		Int64("idleMs", cur.sess.IdleMs).
		Int("score", cur.sess.Score).
		Msg("Session closed")
}

// accrue books elapsed time on the current session. Callers hold the lock.
func (e *Engine) accrue(now time.Time) {
	if e.current != nil {
		e.accrueSession(e.current, now)
	}
}

func (e *Engine) accrueSession(cur *openSession, now time.Time) {
	if !now.After(cur.lastMark) {
		return
	}
	delta := now.Sub(cur.lastMark).Milliseconds()
	if cur.idle {
		cur.sess.IdleMs += delta
	} else {
		cur.sess.ActiveMs += delta
	}
	cur.lastMark = now
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
