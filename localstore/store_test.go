package localstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylehaven/analytics/models"
)

// Both implementations must satisfy the same contract.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemory(),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadSnapshot()
			assert.ErrorIs(t, err, ErrNotFound)

			snap := &models.SessionSnapshot{
				SessionID:     "session_1700000000000_abc123",
				Referrer:      "https://www.instagram.com/p/abc",
				TrafficSource: "instagram",
				UTMCampaign:   "summer_sale",
				LandingPage:   "https://shop.example/?utm_source=instagram",
				Timestamp:     time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.SaveSnapshot(snap))

			got, err := s.LoadSnapshot()
			require.NoError(t, err)
			assert.Equal(t, snap.SessionID, got.SessionID)
			assert.Equal(t, snap.TrafficSource, got.TrafficSource)
			assert.Equal(t, snap.UTMCampaign, got.UTMCampaign)

			// Overwrite replaces, not appends.
			snap.UserID = "user-42"
			require.NoError(t, s.SaveSnapshot(snap))
			got, err = s.LoadSnapshot()
			require.NoError(t, err)
			assert.Equal(t, "user-42", got.UserID)
		})
	}
}

func TestRecordLogPreservesOrder(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			names := []string{"home", "products", "checkout"}
			for _, n := range names {
				require.NoError(t, s.AppendRecord(&models.TrackingRecord{
					SessionID: "sess",
					Kind:      models.RecordPageView,
					PageName:  n,
					Timestamp: time.Now().UTC(),
				}))
			}

			records, err := s.Records()
			require.NoError(t, err)
			require.Len(t, records, 3)
			for i, n := range names {
				assert.Equal(t, n, records[i].PageName)
			}
		})
	}
}

func TestLastReferrer(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LastReferrer()
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SaveLastReferrer("https://t.co/abc"))
			got, err := s.LastReferrer()
			require.NoError(t, err)
			assert.Equal(t, "https://t.co/abc", got)
		})
	}
}

func TestRetryQueue(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			payload := json.RawMessage(`{"pageName":"home"}`)
			require.NoError(t, s.Enqueue(models.EventPageView, payload))
			require.NoError(t, s.Enqueue(models.EventConversion, json.RawMessage(`{"value":10}`)))

			entries, err := s.Queue()
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, models.EventPageView, entries[0].EventType)
			assert.JSONEq(t, string(payload), string(entries[0].Payload))
			assert.Equal(t, 0, entries[0].RetryCount)

			require.NoError(t, s.IncrementRetry(entries[0].ID))
			require.NoError(t, s.IncrementRetry(entries[0].ID))
			entries, err = s.Queue()
			require.NoError(t, err)
			assert.Equal(t, 2, entries[0].RetryCount)

			require.NoError(t, s.Dequeue(entries[0].ID))
			entries, err = s.Queue()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, models.EventConversion, entries[0].EventType)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(&models.SessionSnapshot{SessionID: "sess", TrafficSource: "direct"}))
	require.NoError(t, s.Enqueue(models.EventPageView, json.RawMessage(`{}`)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(dir)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "sess", snap.SessionID)

	entries, err := s.Queue()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
