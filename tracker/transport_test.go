package tracker

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylehaven/analytics/localstore"
	"stylehaven/analytics/models"
)

// flakyCollector fails the first failures requests, then accepts.
type flakyCollector struct {
	failures int32
	attempts int32
	server   *httptest.Server
}

func newFlakyCollector(t *testing.T, failures int32) *flakyCollector {
	t.Helper()
	c := &flakyCollector{failures: failures}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&c.attempts, 1)
		if n <= c.failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func TestSendFailureEnqueues(t *testing.T) {
	// Collector never accepts; the failed envelope must land in the queue.
	collector := newFlakyCollector(t, 1<<30)
	store := localstore.NewMemory()
	tr, err := New(Config{Endpoint: collector.server.URL + "/api", Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)

	tr.CaptureSession(PageContext{URL: "https://shop.example/"})
	tr.Close()

	entries, err := store.Queue()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EventSessionStart, entries[0].EventType)
	// The startup flush may have raced in one retry already.
	assert.LessOrEqual(t, entries[0].RetryCount, 1)
}

func TestRetrySucceedsAndDequeues(t *testing.T) {
	// A queued entry from a previous failure is delivered by the next scan.
	collector := newFlakyCollector(t, 0)
	store := localstore.NewMemory()
	require.NoError(t, store.Enqueue(models.EventPageView, []byte(`{"pageName":"home"}`)))

	tr, err := New(Config{Endpoint: collector.server.URL + "/api", Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)
	tr.Close() // waits out the startup flush

	entries, err := store.Queue()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(1), atomic.LoadInt32(&collector.attempts))
}

func TestRetryExhaustionDropsEntry(t *testing.T) {
	// Collector never recovers.
	collector := newFlakyCollector(t, 1<<30)
	store := localstore.NewMemory()
	tr, err := New(Config{Endpoint: collector.server.URL + "/api", Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)
	defer tr.Close()

	tr.CaptureSession(PageContext{URL: "https://shop.example/"})

	require.Eventually(t, func() bool {
		entries, err := store.Queue()
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)

	// Three failed retries exhaust the budget and remove the entry.
	tr.transport.flush()
	tr.transport.flush()
	tr.transport.flush()

	entries, err := store.Queue()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Further scans must not attempt the dropped entry again.
	before := atomic.LoadInt32(&collector.attempts)
	tr.transport.flush()
	assert.Equal(t, before, atomic.LoadInt32(&collector.attempts))
}

func TestFlushSkipsAlreadyExhaustedEntries(t *testing.T) {
	// Entries persisted by an older run may already carry a full retry count.
	collector := newFlakyCollector(t, 0)
	store := localstore.NewMemory()
	require.NoError(t, store.Enqueue(models.EventPageView, []byte(`{}`)))
	entries, err := store.Queue()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.IncrementRetry(entries[0].ID))
	}

	tr, err := New(Config{Endpoint: collector.server.URL + "/api", Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)
	tr.Close()

	entries, err = store.Queue()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(0), atomic.LoadInt32(&collector.attempts))
}

func TestRetryLoopRunsOnInterval(t *testing.T) {
	collector := newFlakyCollector(t, 1)
	store := localstore.NewMemory()
	require.NoError(t, store.Enqueue(models.EventPageView, []byte(`{"pageName":"home"}`)))

	// The startup flush fails once; the ticking loop delivers the retry.
	tr, err := New(Config{Endpoint: collector.server.URL + "/api", Store: store, RetryInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer tr.Close()

	require.Eventually(t, func() bool {
		entries, err := store.Queue()
		return err == nil && len(entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := newTestTracker(t, "http://127.0.0.1:0/api")
	tr.Close()
	tr.Close() // second close must not panic
}
