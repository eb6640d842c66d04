package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stylehaven/analytics/models"
)

// kv keys for singleton values.
const (
	keySnapshot     = "session_snapshot"
	keyLastReferrer = "last_referrer"
)

// SQLiteStore persists tracker state in a single SQLite file. Concurrent
// writers within one process are serialized by database/sql; concurrent
// processes sharing the file race last-writer-wins, same as browser tabs
// sharing a storage key.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the tracker database under dir.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "analytics.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS retry_queue (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		enqueued_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) setKV(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *SQLiteStore) getKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SaveSnapshot(snap *models.SessionSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.setKV(keySnapshot, string(body)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot() (*models.SessionSnapshot, error) {
	body, err := s.getKV(keySnapshot)
	if err != nil {
		return nil, err
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) AppendRecord(rec *models.TrackingRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO records (session_id, body, created_at) VALUES (?, ?, ?)",
		rec.SessionID, string(body), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Records() ([]models.TrackingRecord, error) {
	rows, err := s.db.Query("SELECT body FROM records ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []models.TrackingRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec models.TrackingRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveLastReferrer(referrer string) error {
	if err := s.setKV(keyLastReferrer, referrer); err != nil {
		return fmt.Errorf("save last referrer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastReferrer() (string, error) {
	return s.getKV(keyLastReferrer)
}

func (s *SQLiteStore) Enqueue(eventType string, payload json.RawMessage) error {
	_, err := s.db.Exec(
		"INSERT INTO retry_queue (event_type, payload, retry_count, enqueued_at) VALUES (?, ?, 0, ?)",
		eventType, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Queue() ([]QueueEntry, error) {
	rows, err := s.db.Query(
		"SELECT id, event_type, payload, retry_count, enqueued_at FROM retry_queue ORDER BY id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query retry queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var (
			e       QueueEntry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &e.RetryCount, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) IncrementRetry(id int64) error {
	_, err := s.db.Exec("UPDATE retry_queue SET retry_count = retry_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Dequeue(id int64) error {
	_, err := s.db.Exec("DELETE FROM retry_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	return nil
}
