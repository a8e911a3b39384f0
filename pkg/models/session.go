// Package models contains domain models for cadence.
package models

import "time"

// Source identifies the host surface a session was tracked on.
type Source string

const (
	SourceBrowser Source = "browser"
	SourceEditor  Source = "editor"
)

// Metrics holds source-specific counters accumulated while a session is open.
// Counters are frozen while the user is idle.
type Metrics struct {
	Keystrokes    int             `json:"keystrokes,omitempty"`
	Edits         int             `json:"edits,omitempty"`
	LinesAdded    int             `json:"linesAdded,omitempty"`
	LinesDeleted  int             `json:"linesDeleted,omitempty"`
	LinesModified int             `json:"linesModified,omitempty"`
	TabSwitches   int             `json:"tabSwitches,omitempty"`
	Files         JSONStringArray `json:"files,omitempty"`
}

// Session is a closed, immutable record of continuous attention to one subject.
// While open it is owned by the engine and mutated in place; once finalized it
// belongs to the durable queue until the remote store acknowledges it.
type Session struct {
	ID       string `json:"id"`
	Source   Source `json:"source"`
	Subject  string `json:"subject"`
	Category string `json:"category"`

	// Browser-only context.
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	// Editor-only context.
	Project   string `json:"project,omitempty"`
	GitBranch string `json:"gitBranch,omitempty"`

	StartedAtEpoch int64 `json:"startedAtEpoch"`
	EndedAtEpoch   int64 `json:"endedAtEpoch"`
	ActiveMs       int64 `json:"activeMs"`
	IdleMs         int64 `json:"idleMs"`

	Score   int     `json:"score"`
	Metrics Metrics `json:"metrics"`
}

// DurationMs returns the total wall-clock span of the session.
func (s *Session) DurationMs() int64 {
	return s.EndedAtEpoch - s.StartedAtEpoch
}

// StartedAt returns the start time as a time.Time.
func (s *Session) StartedAt() time.Time {
	return time.UnixMilli(s.StartedAtEpoch)
}

// EndedAt returns the end time as a time.Time.
func (s *Session) EndedAt() time.Time {
	return time.UnixMilli(s.EndedAtEpoch)
}
