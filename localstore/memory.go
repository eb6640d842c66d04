package localstore

import (
	"encoding/json"
	"sync"
	"time"

	"stylehaven/analytics/models"
)

// MemoryStore keeps tracker state in process memory. It backs tests and the
// storage-disabled fallback: when durable storage cannot be opened the
// tracker still works for the lifetime of the process.
type MemoryStore struct {
	mu           sync.Mutex
	snapshot     *models.SessionSnapshot
	records      []models.TrackingRecord
	lastReferrer *string
	queue        []QueueEntry
	nextQueueID  int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{nextQueueID: 1}
}

func (m *MemoryStore) SaveSnapshot(snap *models.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshot = &cp
	return nil
}

func (m *MemoryStore) LoadSnapshot() (*models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, ErrNotFound
	}
	cp := *m.snapshot
	return &cp, nil
}

func (m *MemoryStore) AppendRecord(rec *models.TrackingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *MemoryStore) Records() ([]models.TrackingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TrackingRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) SaveLastReferrer(referrer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReferrer = &referrer
	return nil
}

func (m *MemoryStore) LastReferrer() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastReferrer == nil {
		return "", ErrNotFound
	}
	return *m.lastReferrer, nil
}

func (m *MemoryStore) Enqueue(eventType string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, QueueEntry{
		ID:         m.nextQueueID,
		EventType:  eventType,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: time.Now().UTC(),
	})
	m.nextQueueID++
	return nil
}

func (m *MemoryStore) Queue() ([]QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueEntry, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

func (m *MemoryStore) IncrementRetry(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID == id {
			m.queue[i].RetryCount++
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) Dequeue(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) Close() error {
	return nil
}
