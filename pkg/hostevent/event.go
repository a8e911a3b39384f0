// Package hostevent defines the wire format host integrations use to report
// activity to the cadence daemon, plus a small client for posting events.
package hostevent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// Event types.
const (
	TypePageView    = "page_view"    // browser navigated to a URL
	TypeFocus       = "focus"        // host window gained or lost focus
	TypeIdleState   = "idle_state"   // host idle detector state change
	TypeInteraction = "interaction"  // raw user input (throttled host-side or not)
	TypeEdit        = "edit"         // editor text change with counters
	TypeFileEvent   = "file_event"   // editor switched to a file
	TypeShutdown    = "shutdown"     // host is going away, close open session
)

// Idle states reported by hosts.
const (
	IdleStateActive = "active"
	IdleStateIdle   = "idle"
	IdleStateLocked = "locked"
)

// Event is the envelope for one host signal. Fields beyond the header are
// populated per type; unused ones stay zero.
type Event struct {
	Source      string `json:"source"` // "browser" or "editor"
	Type        string `json:"type"`
	TimestampMs int64  `json:"timestampMs"`

	// page_view
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	// focus
	Focused bool `json:"focused,omitempty"`

	// idle_state
	IdleState string `json:"idleState,omitempty"`

	// file_event / edit
	LanguageID string `json:"languageId,omitempty"`
	Path       string `json:"path,omitempty"`
	Project    string `json:"project,omitempty"`
	GitBranch  string `json:"gitBranch,omitempty"`

	// edit counters
	Keystrokes    int `json:"keystrokes,omitempty"`
	Edits         int `json:"edits,omitempty"`
	LinesAdded    int `json:"linesAdded,omitempty"`
	LinesDeleted  int `json:"linesDeleted,omitempty"`
	LinesModified int `json:"linesModified,omitempty"`
}

// Timestamp returns the event time, falling back to now when the host did not
// stamp the event.
func (e *Event) Timestamp() time.Time {
	if e.TimestampMs <= 0 {
		return time.Now()
	}
	return time.UnixMilli(e.TimestampMs)
}

// Client posts events to a local daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon on the given port.
func NewClient(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 2 * time.Second},
	}
}

// Post delivers one event. The daemon replies 202 on accept.
func (c *Client) Post(ctx context.Context, ev *Event) error {
	if ev.TimestampMs == 0 {
		ev.TimestampMs = time.Now().UnixMilli()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post event: daemon returned %d", resp.StatusCode)
	}
	return nil
}
