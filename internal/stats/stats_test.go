package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/internal/store"
	"github.com/thebtf/cadence/pkg/models"
)

// StatsSuite is a test suite for daily aggregation.
type StatsSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.Store
	queue *queue.Queue
	svc   *Service
}

func (s *StatsSuite) SetupTest() {
	s.ctx = context.Background()

	st, err := store.NewStore(store.Config{
		Path:     filepath.Join(s.T().TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.store = st
	s.queue = queue.New(st)
	s.svc = New(st)
}

func (s *StatsSuite) TearDownTest() {
	s.store.Close()
}

func TestStatsSuite(t *testing.T) {
	suite.Run(t, new(StatsSuite))
}

func (s *StatsSuite) archive(subject, category string, startedAt time.Time, activeMs, idleMs int64, score int) {
	sess := &models.Session{
		ID:             uuid.New().String(),
		Source:         models.SourceBrowser,
		Subject:        subject,
		Category:       category,
		StartedAtEpoch: startedAt.UnixMilli(),
		EndedAtEpoch:   startedAt.Add(time.Duration(activeMs+idleMs) * time.Millisecond).UnixMilli(),
		ActiveMs:       activeMs,
		IdleMs:         idleMs,
		Score:          score,
	}
	s.Require().NoError(s.queue.Enqueue(s.ctx, sess))
}

func (s *StatsSuite) TestEmptyDay() {
	today, err := s.svc.Today(s.ctx, 240)
	s.Require().NoError(err)

	s.Equal(0, today.SessionCount)
	s.Equal(int64(0), today.TotalActiveMs)
	s.Equal(0, today.AverageScore)
	s.Empty(today.TopSubjects)
	s.Equal(0, today.GoalProgressPct)
}

func (s *StatsSuite) TestAggregation() {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	s.archive("github.com", "coding", midnight.Add(1*time.Hour), 3_600_000, 0, 100)
	s.archive("reddit.com", "social", midnight.Add(3*time.Hour), 1_800_000, 600_000, 15)
	s.archive("github.com", "coding", midnight.Add(5*time.Hour), 600_000, 0, 100)

	// Yesterday's session must not count.
	s.archive("old.example", "news", midnight.Add(-2*time.Hour), 900_000, 0, 40)

	today, err := s.svc.Today(s.ctx, 240)
	s.Require().NoError(err)

	s.Equal(3, today.SessionCount)
	s.Equal(int64(6_000_000), today.TotalActiveMs)
	s.Equal(int64(600_000), today.TotalIdleMs)

	// coding scores 100 (productive), social scores 15 (distracting).
	s.Equal(int64(4_200_000), today.ProductiveMs)
	s.Equal(int64(1_800_000), today.DistractingMs)

	s.Equal(int64(4_200_000), today.ByCategory["coding"])
	s.Equal(int64(1_800_000), today.ByCategory["social"])

	s.Require().Len(today.TopSubjects, 2)
	s.Equal("github.com", today.TopSubjects[0].Subject)
	s.Equal(int64(4_200_000), today.TopSubjects[0].ActiveMs)

	// Weighted average: (100*4.2M + 15*1.8M) / 6M = 74.5 -> 74.
	s.Equal(74, today.AverageScore)

	// 70 productive minutes against a 240 minute goal.
	s.Equal(29, today.GoalProgressPct)
}

// TestGoalProgressCapped verifies progress never exceeds 100 percent.
func (s *StatsSuite) TestGoalProgressCapped() {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	s.archive("github.com", "coding", midnight.Add(time.Hour), 10*3_600_000, 0, 100)

	today, err := s.svc.Today(s.ctx, 60)
	s.Require().NoError(err)
	s.Equal(100, today.GoalProgressPct)
}
