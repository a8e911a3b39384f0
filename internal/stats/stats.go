// Package stats aggregates the local session archive into daily summaries.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/thebtf/cadence/internal/store"
)

// SubjectTime is one subject's share of the day.
type SubjectTime struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
	ActiveMs int64  `json:"activeMs"`
}

// TodayStats summarizes today's archived sessions.
type TodayStats struct {
	Date             string           `json:"date"`
	SessionCount     int              `json:"sessionCount"`
	TotalActiveMs    int64            `json:"totalActiveMs"`
	TotalIdleMs      int64            `json:"totalIdleMs"`
	ProductiveMs     int64            `json:"productiveMs"`
	DistractingMs    int64            `json:"distractingMs"`
	AverageScore     int              `json:"averageScore"`
	ByCategory       map[string]int64 `json:"byCategory"`
	TopSubjects      []SubjectTime    `json:"topSubjects"`
	GoalMinutes      int              `json:"goalMinutes"`
	GoalProgressPct  int              `json:"goalProgressPct"`
}

// Score bands for the productive/distracting split.
const (
	productiveScoreMin  = 70
	distractingScoreMax = 40
	topSubjectCount     = 5
)

// Service computes stats over the archive.
type Service struct {
	store *store.Store
}

// New creates a stats service.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Today aggregates all sessions that started since local midnight.
func (s *Service) Today(ctx context.Context, goalMinutes int) (*TodayStats, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var rows []store.ArchivedSession
	err := s.store.DB.WithContext(ctx).
		Where("started_at_epoch >= ?", midnight.UnixMilli()).
		Order("started_at_epoch ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load today's sessions: %w", err)
	}

	out := &TodayStats{
		Date:        midnight.Format("2006-01-02"),
		ByCategory:  make(map[string]int64),
		GoalMinutes: goalMinutes,
	}

	bySubject := make(map[string]*SubjectTime)
	var scoreWeighted int64

	for i := range rows {
		r := &rows[i]
		out.SessionCount++
		out.TotalActiveMs += r.ActiveMs
		out.TotalIdleMs += r.IdleMs
		out.ByCategory[r.Category] += r.ActiveMs

		if r.Score >= productiveScoreMin {
			out.ProductiveMs += r.ActiveMs
		} else if r.Score <= distractingScoreMax {
			out.DistractingMs += r.ActiveMs
		}

		// Score average is weighted by active time so a long focused session
		// counts more than a five second tab flick.
		scoreWeighted += int64(r.Score) * r.ActiveMs

		st, ok := bySubject[r.Subject]
		if !ok {
			st = &SubjectTime{Subject: r.Subject, Category: r.Category}
			bySubject[r.Subject] = st
		}
		st.ActiveMs += r.ActiveMs
	}

	if out.TotalActiveMs > 0 {
		out.AverageScore = int(scoreWeighted / out.TotalActiveMs)
	}

	subjects := make([]SubjectTime, 0, len(bySubject))
	for _, st := range bySubject {
		subjects = append(subjects, *st)
	}
	sort.Slice(subjects, func(i, j int) bool {
		if subjects[i].ActiveMs != subjects[j].ActiveMs {
			return subjects[i].ActiveMs > subjects[j].ActiveMs
		}
		return subjects[i].Subject < subjects[j].Subject
	})
	if len(subjects) > topSubjectCount {
		subjects = subjects[:topSubjectCount]
	}
	out.TopSubjects = subjects

	if goalMinutes > 0 {
		pct := out.ProductiveMs * 100 / (int64(goalMinutes) * 60_000)
		if pct > 100 {
			pct = 100
		}
		out.GoalProgressPct = int(pct)
	}

	return out, nil
}
