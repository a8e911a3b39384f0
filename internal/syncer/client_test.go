package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/store"
	"github.com/thebtf/cadence/pkg/models"
)

// fakeCreds is a static credential provider.
type fakeCreds struct {
	baseURL string
	token   string
}

func (f *fakeCreds) SyncCredential() (string, string) { return f.baseURL, f.token }

// recordingNotifier captures sync health signals.
type recordingNotifier struct {
	mu        sync.Mutex
	failing   int
	recovered int
}

func (n *recordingNotifier) SyncFailing(consecutive int, lastErr error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing++
}

func (n *recordingNotifier) SyncRecovered() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recovered++
}

// SyncerSuite is a test suite for the sync client.
type SyncerSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.Store
	queue *queue.Queue
}

func (s *SyncerSuite) SetupTest() {
	s.ctx = context.Background()

	st, err := store.NewStore(store.Config{
		Path:     filepath.Join(s.T().TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.store = st
	s.queue = queue.New(st)
}

func (s *SyncerSuite) TearDownTest() {
	s.store.Close()
}

func TestSyncerSuite(t *testing.T) {
	suite.Run(t, new(SyncerSuite))
}

func (s *SyncerSuite) enqueue(subject string) *models.Session {
	sess := &models.Session{
		ID:             uuid.New().String(),
		Source:         models.SourceBrowser,
		Subject:        subject,
		Category:       "coding",
		StartedAtEpoch: time.Now().Add(-time.Minute).UnixMilli(),
		EndedAtEpoch:   time.Now().UnixMilli(),
		ActiveMs:       55_000,
		IdleMs:         5_000,
		Score:          92,
	}
	s.Require().NoError(s.queue.Enqueue(s.ctx, sess))
	return sess
}

func (s *SyncerSuite) TestNoCredentialIsValidNoOp() {
	s.enqueue("github.com")

	client := New(s.queue, &fakeCreds{})
	result, err := client.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(ResultSkipped, result)

	n, err := s.queue.Len(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n, "queue must be untouched")
}

func (s *SyncerSuite) TestEmptyQueueSkips() {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	client := New(s.queue, &fakeCreds{baseURL: srv.URL, token: "t"})
	result, err := client.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(ResultSkipped, result)
	s.Equal(int64(0), requests.Load())
}

func (s *SyncerSuite) TestSuccessAcknowledgesBatch() {
	a := s.enqueue("a.com")
	b := s.enqueue("b.com")

	var got batchPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/api/sessions/batch", r.URL.Path)
		s.Equal("Bearer token-123", r.Header.Get("Authorization"))
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(s.queue, &fakeCreds{baseURL: srv.URL, token: "token-123"})
	result, err := client.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(ResultSynced, result)

	s.Require().Len(got.Sessions, 2)
	s.Equal(a.ID, got.Sessions[0].ID)
	s.Equal(b.ID, got.Sessions[1].ID)

	n, err := s.queue.Len(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), n)
}

// TestFailureLeavesQueueUntouched: a server error keeps every entry pending
// and bumps the attempt counter.
func (s *SyncerSuite) TestFailureLeavesQueueUntouched() {
	s.enqueue("a.com")
	s.enqueue("b.com")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(s.queue, &fakeCreds{baseURL: srv.URL, token: "t"})
	result, err := client.Sync(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, ErrTransient)
	s.Equal(ResultFailed, result)

	entries, peekErr := s.queue.PeekAll(s.ctx)
	s.Require().NoError(peekErr)
	s.Require().Len(entries, 2)
	for _, e := range entries {
		s.Equal(1, e.Attempted)
	}
	s.Equal(1, client.ConsecutiveFailures())
}

// TestMidFlightEnqueueNotAcked: a session enqueued while the upload is in
// flight survives the acknowledgment of the sent batch.
func (s *SyncerSuite) TestMidFlightEnqueueNotAcked() {
	s.enqueue("sent.com")

	inFlight := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inFlight)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(s.queue, &fakeCreds{baseURL: srv.URL, token: "t"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := client.Sync(s.ctx)
		s.NoError(err)
		s.Equal(ResultSynced, result)
	}()

	<-inFlight
	late := s.enqueue("late.com")
	close(release)
	<-done

	entries, err := s.queue.PeekAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(late.ID, entries[0].Session.ID)
}

// TestConcurrentSyncsCoalesce: overlapping sync requests share one pass.
func (s *SyncerSuite) TestConcurrentSyncsCoalesce() {
	s.enqueue("a.com")

	var requests atomic.Int64
	inFlight := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			close(inFlight)
		}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(s.queue, &fakeCreds{baseURL: srv.URL, token: "t"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.Sync(s.ctx)
	}()
	<-inFlight

	// These join the in-flight pass instead of starting new ones.
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := client.Sync(s.ctx)
			s.NoError(err)
			s.Equal(ResultSynced, result)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int64(1), requests.Load())
}

// TestFailureStreakNotifies: repeated failures trigger the health hook once
// per threshold crossing, and a success signals recovery.
func (s *SyncerSuite) TestFailureStreakNotifies() {
	s.enqueue("a.com")

	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := &recordingNotifier{}
	client := New(s.queue, &fakeCreds{baseURL: srv.URL, token: "t"}, WithNotifier(notifier))

	for i := 0; i < 3; i++ {
		_, err := client.Sync(s.ctx)
		s.Require().Error(err)
	}
	s.Equal(3, client.ConsecutiveFailures())
	s.Equal(1, notifier.failing)

	fail.Store(false)
	result, err := client.Sync(s.ctx)
	s.Require().NoError(err)
	s.Equal(ResultSynced, result)
	s.Equal(0, client.ConsecutiveFailures())
	s.Equal(1, notifier.recovered)
	s.False(client.LastSyncedAt().IsZero())
}
