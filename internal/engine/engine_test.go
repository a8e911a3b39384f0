package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/cadence/internal/activity"
	"github.com/thebtf/cadence/internal/classify"
	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/store"
	"github.com/thebtf/cadence/pkg/hostevent"
	"github.com/thebtf/cadence/pkg/models"
)

// fakeNotifier records notifications.
type fakeNotifier struct {
	titles []string
}

func (f *fakeNotifier) Notify(title, message string) {
	f.titles = append(f.titles, title)
}

// EngineSuite is a test suite for the session state machine.
type EngineSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.Store
	queue    *queue.Queue
	notifier *fakeNotifier
	engine   *Engine
	base     time.Time
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.base = time.Now()

	st, err := store.NewStore(store.Config{
		Path:     filepath.Join(s.T().TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.store = st
	s.queue = queue.New(st)

	cls, err := classify.New(s.ctx, nil, nil)
	s.Require().NoError(err)

	s.notifier = &fakeNotifier{}
	s.engine = New(cls, s.queue, s.notifier, Options{
		InactivityWindow:    time.Minute,
		InteractionThrottle: 5 * time.Second,
		MinSession:          5 * time.Second,
		TrackingEnabled:     true,
	})
}

func (s *EngineSuite) TearDownTest() {
	s.store.Close()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) pending() []models.QueueEntry {
	entries, err := s.queue.PeekAll(s.ctx)
	s.Require().NoError(err)
	return entries
}

// TestSubjectSwitchClosesAndOpens: navigating to a new domain closes the open
// session with the time accrued so far.
func (s *EngineSuite) TestSubjectSwitchClosesAndOpens() {
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "repo", s.base)
	s.engine.HandlePageView(s.ctx, "https://news.ycombinator.com/", "HN", s.base.Add(45*time.Second))

	entries := s.pending()
	s.Require().Len(entries, 1)

	closed := entries[0].Session
	s.Equal("github.com", closed.Subject)
	s.Equal("coding", closed.Category)
	s.Equal(int64(45_000), closed.ActiveMs)
	s.Equal(int64(0), closed.IdleMs)
	s.Equal(100, closed.Score)

	snap := s.engine.Snapshot()
	s.Require().NotNil(snap.Session)
	s.Equal("news.ycombinator.com", snap.Session.Subject)
}

// TestIdleAccrual: time between an idle signal and the return to active lands
// in IdleMs, and active+idle always equals the wall-clock duration.
func (s *EngineSuite) TestIdleAccrual() {
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "repo", s.base)
	s.engine.HandleIdleState(s.ctx, activity.IdleStateIdle, s.base.Add(30*time.Second))
	s.engine.HandleIdleState(s.ctx, activity.IdleStateActive, s.base.Add(50*time.Second))
	s.engine.HandlePageView(s.ctx, "https://example.org/", "ex", s.base.Add(60*time.Second))

	entries := s.pending()
	s.Require().Len(entries, 1)

	closed := entries[0].Session
	s.Equal(int64(40_000), closed.ActiveMs)
	s.Equal(int64(20_000), closed.IdleMs)
	s.Equal(closed.DurationMs(), closed.ActiveMs+closed.IdleMs)
}

// TestSubThresholdDiscard: sessions shorter than the minimum never reach the
// queue.
func (s *EngineSuite) TestSubThresholdDiscard() {
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "repo", s.base)
	s.engine.HandlePageView(s.ctx, "https://example.org/", "ex", s.base.Add(2*time.Second))
	s.engine.CloseCurrent(s.ctx, s.base.Add(12*time.Second))

	entries := s.pending()
	s.Require().Len(entries, 1, "only the second session is long enough")
	s.Equal("example.org", entries[0].Session.Subject)
}

// TestSameSubjectContinues: navigation within one domain keeps the session
// open and updates its context.
func (s *EngineSuite) TestSameSubjectContinues() {
	s.engine.HandlePageView(s.ctx, "https://github.com/a", "a", s.base)
	s.engine.HandlePageView(s.ctx, "https://github.com/b", "b", s.base.Add(10*time.Second))
	s.engine.HandlePageView(s.ctx, "https://github.com/c", "c", s.base.Add(20*time.Second))

	s.Empty(s.pending())

	snap := s.engine.Snapshot()
	s.Require().NotNil(snap.Session)
	s.Equal("github.com", snap.Session.Subject)
	s.Equal("https://github.com/c", snap.Session.URL)
	s.Equal("c", snap.Session.Title)
	s.Equal(2, snap.Session.Metrics.TabSwitches)
}

// TestUntrackablePageClosesSession: navigating to an internal page ends the
// session without opening a new one.
func (s *EngineSuite) TestUntrackablePageClosesSession() {
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "repo", s.base)
	s.engine.HandlePageView(s.ctx, "chrome://settings", "", s.base.Add(30*time.Second))

	s.Require().Len(s.pending(), 1)
	s.Nil(s.engine.Snapshot().Session)
}

// TestExcludedSubjectTracksNothing.
func (s *EngineSuite) TestExcludedSubjectTracksNothing() {
	s.engine.SetExcludedSubjects(s.ctx, []string{"secret.example"})

	s.engine.HandlePageView(s.ctx, "https://secret.example/page", "x", s.base)
	s.Nil(s.engine.Snapshot().Session)

	// An excluded arrival also closes whatever was open.
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "repo", s.base.Add(time.Second))
	s.engine.HandlePageView(s.ctx, "https://secret.example/page", "x", s.base.Add(31*time.Second))
	s.Require().Len(s.pending(), 1)
	s.Nil(s.engine.Snapshot().Session)
}

// TestTrackingToggle: disabling tracking closes the open session; events
// while disabled open nothing.
func (s *EngineSuite) TestTrackingToggle() {
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "repo", s.base)
	time.Sleep(10 * time.Millisecond)
	s.engine.SetTrackingEnabled(s.ctx, false)

	s.Nil(s.engine.Snapshot().Session)

	s.engine.HandlePageView(s.ctx, "https://github.com/other", "o", s.base.Add(time.Second))
	s.Nil(s.engine.Snapshot().Session)

	s.engine.SetTrackingEnabled(s.ctx, true)
	s.engine.HandlePageView(s.ctx, "https://github.com/other", "o", s.base.Add(2*time.Second))
	s.NotNil(s.engine.Snapshot().Session)
}

// TestEditorSession: file events keyed by language and project, edit counters
// accumulate.
func (s *EngineSuite) TestEditorSession() {
	s.engine.HandleFileEvent(s.ctx, "go", "/repo/main.go", "repo", "main", s.base)
	s.engine.HandleEdit(s.ctx, &hostevent.Event{Keystrokes: 10, Edits: 2, LinesAdded: 5}, s.base.Add(time.Second))
	s.engine.HandleFileEvent(s.ctx, "go", "/repo/util.go", "repo", "main", s.base.Add(10*time.Second))
	s.engine.HandleEdit(s.ctx, &hostevent.Event{Keystrokes: 5}, s.base.Add(11*time.Second))

	snap := s.engine.Snapshot()
	s.Require().NotNil(snap.Session)
	s.Equal("go:repo", snap.Session.Subject)
	s.Equal("go", snap.Session.Category)
	s.Equal(15, snap.Session.Metrics.Keystrokes)
	s.Equal(2, snap.Session.Metrics.Edits)
	s.Equal(5, snap.Session.Metrics.LinesAdded)
	s.ElementsMatch([]string{"/repo/main.go", "/repo/util.go"}, []string(snap.Session.Metrics.Files))
}

// TestMetricsFrozenWhileIdle: edit counters do not advance during idle.
func (s *EngineSuite) TestMetricsFrozenWhileIdle() {
	s.engine.HandleFileEvent(s.ctx, "go", "/repo/main.go", "repo", "main", s.base)
	s.engine.HandleIdleState(s.ctx, activity.IdleStateIdle, s.base.Add(10*time.Second))

	// Edit arrives while the host still reports idle; its counters must not
	// be booked.
	s.engine.HandleEdit(s.ctx, &hostevent.Event{Keystrokes: 100}, s.base.Add(11*time.Second))

	snap := s.engine.Snapshot()
	s.Require().NotNil(snap.Session)
	s.Equal(0, snap.Session.Metrics.Keystrokes)
}

// TestDurationInvariant: across a busy lifecycle, active+idle always equals
// end minus start.
func (s *EngineSuite) TestDurationInvariant() {
	t := s.base
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "r", t)
	s.engine.HandleIdleState(s.ctx, activity.IdleStateIdle, t.Add(7*time.Second))
	s.engine.HandleIdleState(s.ctx, activity.IdleStateActive, t.Add(13*time.Second))
	s.engine.HandleFocus(s.ctx, false, t.Add(20*time.Second))
	s.engine.HandleFocus(s.ctx, true, t.Add(29*time.Second))
	s.engine.CloseCurrent(s.ctx, t.Add(40*time.Second))

	entries := s.pending()
	s.Require().Len(entries, 1)

	closed := entries[0].Session
	s.Equal(closed.DurationMs(), closed.ActiveMs+closed.IdleMs)
	s.Equal(int64(40_000), closed.DurationMs())
	s.Equal(int64(15_000), closed.IdleMs) // 7s..13s idle, 20s..29s unfocused
}

// TestShutdownEventClosesSession.
func (s *EngineSuite) TestShutdownEventClosesSession() {
	s.engine.HandleEvent(s.ctx, &hostevent.Event{
		Source:      "browser",
		Type:        hostevent.TypePageView,
		URL:         "https://github.com/repo",
		TimestampMs: s.base.UnixMilli(),
	})
	s.engine.HandleEvent(s.ctx, &hostevent.Event{
		Source:      "browser",
		Type:        hostevent.TypeShutdown,
		TimestampMs: s.base.Add(30 * time.Second).UnixMilli(),
	})

	s.Require().Len(s.pending(), 1)
	s.Nil(s.engine.Snapshot().Session)
}

// TestStaleIdleSignalIgnored: an out-of-order idle signal cannot rewrite
// history.
func (s *EngineSuite) TestStaleIdleSignalIgnored() {
	s.engine.HandlePageView(s.ctx, "https://github.com/repo", "r", s.base)
	s.engine.HandleIdleState(s.ctx, activity.IdleStateIdle, s.base.Add(20*time.Second))

	// Older "active" signal arrives late; it must be dropped.
	s.engine.HandleIdleState(s.ctx, activity.IdleStateActive, s.base.Add(10*time.Second))

	s.engine.CloseCurrent(s.ctx, s.base.Add(30*time.Second))

	entries := s.pending()
	s.Require().Len(entries, 1)
	s.Equal(int64(10_000), entries[0].Session.IdleMs)
}
