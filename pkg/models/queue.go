package models

// QueueEntry wraps a closed session with sync metadata while it awaits
// acknowledged delivery to the remote store. Entries leave the queue only via
// explicit acknowledgment or a user-initiated reset; once enqueued, nothing
// but the retry counter may change.
type QueueEntry struct {
	Session         Session `json:"session"`
	Attempted       int     `json:"attempted"`
	EnqueuedAtEpoch int64   `json:"enqueuedAtEpoch"`
}
