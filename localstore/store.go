// Package localstore is the tracker's durable on-device persistence: the
// session snapshot, the per-session record log, the transport retry queue and
// the last raw referrer. It is the Go counterpart of the browser's
// origin-scoped local storage.
package localstore

import (
	"encoding/json"
	"errors"
	"time"

	"stylehaven/analytics/models"
)

// ErrNotFound is returned when a requested value has never been stored.
var ErrNotFound = errors.New("localstore: not found")

// QueueEntry wraps an envelope payload that failed transport and is awaiting
// retry. RetryCount only ever increases; the entry is removed once a retry
// succeeds or the retry budget is exhausted.
type QueueEntry struct {
	ID         int64
	EventType  string
	Payload    json.RawMessage
	EnqueuedAt time.Time
	RetryCount int
}

// Store is the persistence contract the tracker depends on. Writes may fail
// (quota, disabled storage); callers treat failures as non-fatal.
type Store interface {
	// SaveSnapshot stores the session snapshot, replacing any existing one.
	SaveSnapshot(snap *models.SessionSnapshot) error
	// LoadSnapshot returns the stored snapshot or ErrNotFound.
	LoadSnapshot() (*models.SessionSnapshot, error)

	// AppendRecord appends one tracking record to the session's record log.
	AppendRecord(rec *models.TrackingRecord) error
	// Records returns the record log in append order.
	Records() ([]models.TrackingRecord, error)

	// SaveLastReferrer stores the most recent raw referrer capture.
	SaveLastReferrer(referrer string) error
	// LastReferrer returns the stored raw referrer or ErrNotFound.
	LastReferrer() (string, error)

	// Enqueue adds a failed envelope to the retry queue with retry count 0.
	Enqueue(eventType string, payload json.RawMessage) error
	// Queue returns all queue entries in enqueue order.
	Queue() ([]QueueEntry, error)
	// IncrementRetry bumps the retry count of one entry.
	IncrementRetry(id int64) error
	// Dequeue removes one entry, after a successful retry or on exhaustion.
	Dequeue(id int64) error

	Close() error
}
