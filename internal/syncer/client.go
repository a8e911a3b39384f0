// Package syncer drains the pending session queue to the remote API. Delivery
// is at-least-once: entries are removed only after the server acknowledges the
// exact batch that was sent.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/cadence/internal/queue"
	"github.com/thebtf/cadence/pkg/models"
)

const (
	// requestTimeout bounds a single batch upload.
	requestTimeout = 10 * time.Second

	// failureAlertThreshold is the consecutive-failure count after which the
	// repeated-failure hook fires.
	failureAlertThreshold = 3
)

// Result describes the outcome of one sync pass.
type Result string

const (
	// ResultSkipped means there was nothing to do: empty queue or no
	// credential configured. Skipping is not an error.
	ResultSkipped Result = "skipped"
	// ResultSynced means the batch was delivered and acknowledged.
	ResultSynced Result = "synced"
	// ResultFailed means delivery failed and the queue was left untouched.
	ResultFailed Result = "failed"
)

// ErrNoCredential marks the no-credential condition for callers that demand
// credentialed sync; the periodic path treats a missing credential as a skip.
var ErrNoCredential = errors.New("no sync credential configured")

// ErrTransient wraps failures worth retrying on the next pass: network
// errors, timeouts and non-2xx responses.
var ErrTransient = errors.New("transient sync failure")

// CredentialProvider yields the current API endpoint and token. Both may
// change between sync passes when the settings file is edited.
type CredentialProvider interface {
	SyncCredential() (baseURL, token string)
}

// Notifier receives sync health signals. Implementations must not block.
type Notifier interface {
	SyncFailing(consecutive int, lastErr error)
	SyncRecovered()
}

// Client drains the queue to the remote store on a timer and on demand.
type Client struct {
	queue *queue.Queue
	creds CredentialProvider
	http  *http.Client

	notifier Notifier

	// group coalesces overlapping sync requests into one in-flight pass.
	group singleflight.Group

	failures   atomic.Int64
	lastSyncAt atomic.Int64 // unix millis of last successful sync
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithNotifier installs a sync health notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// New creates a sync client over the queue.
func New(q *queue.Queue, creds CredentialProvider, opts ...Option) *Client {
	c := &Client{
		queue: q,
		creds: creds,
		http:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// batchPayload is the upload envelope.
type batchPayload struct {
	Sessions []models.Session `json:"sessions"`
	SentAt   int64            `json:"sentAt"`
}

// Sync runs one sync pass. Concurrent callers share a single in-flight pass
// and all receive its result.
func (c *Client) Sync(ctx context.Context) (Result, error) {
	v, err, shared := c.group.Do("sync", func() (interface{}, error) {
		return c.syncOnce(ctx)
	})
	if shared {
		log.Debug().Msg("Sync request coalesced with in-flight pass")
	}
	res, _ := v.(Result)
	if res == "" {
		res = ResultFailed
	}
	return res, err
}

// syncOnce performs the actual drain. The queue snapshot is taken once;
// sessions enqueued after the snapshot ride the next pass.
func (c *Client) syncOnce(ctx context.Context) (Result, error) {
	baseURL, token := c.creds.SyncCredential()
	if baseURL == "" || token == "" {
		log.Debug().Msg("Sync skipped: no credential configured")
		return ResultSkipped, nil
	}

	entries, err := c.queue.PeekAll(ctx)
	if err != nil {
		return ResultFailed, fmt.Errorf("read pending queue: %w", err)
	}
	if len(entries) == 0 {
		return ResultSkipped, nil
	}

	sessions := make([]models.Session, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for i := range entries {
		sessions = append(sessions, entries[i].Session)
		ids = append(ids, entries[i].Session.ID)
	}

	if err := c.upload(ctx, baseURL, token, sessions); err != nil {
		c.onFailure(ctx, ids, err)
		return ResultFailed, err
	}

	// Acknowledge exactly the ids that were uploaded. Entries enqueued while
	// the request was in flight are untouched.
	removed, err := c.queue.Acknowledge(ctx, ids)
	if err != nil {
		// The server has the batch; re-delivery on the next pass is the
		// at-least-once tradeoff.
		return ResultFailed, fmt.Errorf("acknowledge synced batch: %w", err)
	}

	c.onSuccess()
	log.Info().
		Int("sessions", len(ids)).
		Int64("removed", removed).
		Msg("Sync pass completed")
	return ResultSynced, nil
}

// upload POSTs one batch and interprets the response status.
func (c *Client) upload(ctx context.Context, baseURL, token string, sessions []models.Session) error {
	payload := batchPayload{
		Sessions: sessions,
		SentAt:   time.Now().UnixMilli(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	url := baseURL + "/api/sessions/batch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload batch: %w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload batch: %w: server returned %d: %s", ErrTransient, resp.StatusCode, string(snippet))
	}
	return nil
}

func (c *Client) onFailure(ctx context.Context, ids []string, cause error) {
	if err := c.queue.MarkAttempted(ctx, ids); err != nil {
		log.Warn().Err(err).Msg("Failed to bump attempt counters")
	}

	n := c.failures.Add(1)
	log.Warn().
		Err(cause).
		Int64("consecutiveFailures", n).
		Int("batchSize", len(ids)).
		Msg("Sync pass failed, batch kept in queue")

	if c.notifier != nil && n >= failureAlertThreshold {
		c.notifier.SyncFailing(int(n), cause)
	}
}

func (c *Client) onSuccess() {
	prev := c.failures.Swap(0)
	c.lastSyncAt.Store(time.Now().UnixMilli())
	if c.notifier != nil && prev >= failureAlertThreshold {
		c.notifier.SyncRecovered()
	}
}

// ConsecutiveFailures returns the current failure streak.
func (c *Client) ConsecutiveFailures() int {
	return int(c.failures.Load())
}

// LastSyncedAt returns the time of the last successful pass, zero if none.
func (c *Client) LastSyncedAt() time.Time {
	ms := c.lastSyncAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
