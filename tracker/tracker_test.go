package tracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylehaven/analytics/localstore"
	"stylehaven/analytics/models"
)

// collectorStub records envelopes the way the real collector would.
type collectorStub struct {
	mu        sync.Mutex
	envelopes []models.Envelope
	server    *httptest.Server
}

func newCollectorStub(t *testing.T) *collectorStub {
	t.Helper()
	c := &collectorStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analytics", func(w http.ResponseWriter, r *http.Request) {
		var env models.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.envelopes = append(c.envelopes, env)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	c.server = httptest.NewServer(mux)
	t.Cleanup(c.server.Close)
	return c
}

func (c *collectorStub) endpoint() string { return c.server.URL + "/api" }

func (c *collectorStub) byType(eventType string) []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Envelope
	for _, env := range c.envelopes {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}

func TestTrackPageViewAppendsAndSends(t *testing.T) {
	collector := newCollectorStub(t)
	store := localstore.NewMemory()
	tr, err := New(Config{Endpoint: collector.endpoint(), Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)

	tr.CaptureSession(PageContext{URL: "https://shop.example/?utm_source=instagram"})
	tr.TrackPageView("home", map[string]any{"ab_test": "variant_b"})
	tr.TrackPageView("products", nil)
	tr.Close() // waits for in-flight sends

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.RecordPageView, records[0].Kind)
	assert.Equal(t, "home", records[0].PageName)
	assert.Equal(t, "products", records[1].PageName)
	assert.Equal(t, records[0].SessionID, records[1].SessionID)

	assert.Len(t, collector.byType(models.EventSessionStart), 1)
	assert.Len(t, collector.byType(models.EventPageView), 2)
}

func TestTrackEventCarriesPayload(t *testing.T) {
	collector := newCollectorStub(t)
	store := localstore.NewMemory()
	tr, err := New(Config{Endpoint: collector.endpoint(), Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)

	tr.CaptureSession(PageContext{URL: "https://shop.example/"})
	tr.TrackEvent("add_to_cart", map[string]any{"productId": "sku-91", "quantity": 2})
	tr.Close()

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RecordCustomEvent, records[0].Kind)
	assert.Equal(t, "add_to_cart", records[0].EventName)
	assert.Equal(t, "sku-91", records[0].Payload["productId"])

	sent := collector.byType(models.EventCustomEvent)
	require.Len(t, sent, 1)
	var rec models.TrackingRecord
	require.NoError(t, json.Unmarshal(sent[0].Data, &rec))
	assert.Equal(t, "add_to_cart", rec.EventName)
}

func TestTrackConversionValidation(t *testing.T) {
	collector := newCollectorStub(t)
	store := localstore.NewMemory()
	tr, err := New(Config{Endpoint: collector.endpoint(), Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)

	tr.CaptureSession(PageContext{URL: "https://shop.example/"})

	err = tr.TrackConversion("purchase", -5, "USD")
	assert.Error(t, err)

	require.NoError(t, tr.TrackConversion("purchase", 89.99, ""))
	tr.Close()

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 1) // rejected conversion left no record
	assert.Equal(t, models.RecordConversion, records[0].Kind)
	assert.Equal(t, 89.99, records[0].Value)
	assert.Equal(t, "USD", records[0].Currency) // default applied

	assert.Len(t, collector.byType(models.EventConversion), 1)
}

func TestSetUserIDAffectsFutureRecordsOnly(t *testing.T) {
	collector := newCollectorStub(t)
	store := localstore.NewMemory()
	tr, err := New(Config{Endpoint: collector.endpoint(), Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)

	tr.CaptureSession(PageContext{URL: "https://shop.example/"})
	tr.TrackPageView("home", nil)
	tr.SetUserID("user-42")
	tr.TrackPageView("dashboard", nil)
	tr.Close()

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Empty(t, records[0].UserID)
	assert.Equal(t, "user-42", records[1].UserID)

	snap, err := store.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "user-42", snap.UserID)

	idents := collector.byType(models.EventUserIdentified)
	require.Len(t, idents, 1)
	var ident models.UserIdentification
	require.NoError(t, json.Unmarshal(idents[0].Data, &ident))
	assert.Equal(t, "user-42", ident.UserID)
	assert.Equal(t, snap.SessionID, ident.SessionID)
}

func TestSnapshotClassificationImmutableAfterSetUserID(t *testing.T) {
	collector := newCollectorStub(t)
	tr, err := New(Config{Endpoint: collector.endpoint(), Store: localstore.NewMemory(), RetryInterval: time.Hour})
	require.NoError(t, err)
	defer tr.Close()

	before := *tr.CaptureSession(PageContext{
		URL:      "https://shop.example/?utm_source=instagram&utm_campaign=summer_sale",
		Referrer: "https://www.instagram.com/",
	})
	tr.SetUserID("user-1")
	after := tr.AttributionReport()

	assert.Equal(t, before.TrafficSource, after.TrafficSource)
	assert.Equal(t, before.UTMCampaign, after.UTMCampaign)
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, "user-1", after.UserID)
}

func TestMirrorReceivesTrackedEvents(t *testing.T) {
	collector := newCollectorStub(t)

	var (
		mu       sync.Mutex
		mirrored []string
	)
	tr, err := New(Config{
		Endpoint:      collector.endpoint(),
		Store:         localstore.NewMemory(),
		RetryInterval: time.Hour,
		Mirror: func(eventType string, params map[string]any) {
			mu.Lock()
			mirrored = append(mirrored, eventType+":"+params["event_label"].(string))
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	tr.CaptureSession(PageContext{URL: "https://shop.example/"})
	tr.TrackPageView("home", nil)
	tr.TrackEvent("signup", nil)
	require.NoError(t, tr.TrackConversion("purchase", 10, "USD"))
	tr.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"page_view:home", "custom_event:signup", "conversion:purchase"}, mirrored)
}

func TestSessionSummary(t *testing.T) {
	collector := newCollectorStub(t)
	tr, err := New(Config{Endpoint: collector.endpoint(), Store: localstore.NewMemory(), RetryInterval: time.Hour})
	require.NoError(t, err)
	defer tr.Close()

	tr.CaptureSession(PageContext{
		URL:      "https://shop.example/?utm_source=instagram&utm_medium=social&utm_campaign=summer_sale",
		Referrer: "https://www.instagram.com/",
	})
	tr.TrackPageView("home", nil)
	tr.TrackPageView("products", nil)
	tr.TrackEvent("add_to_cart", nil)

	s := tr.SessionSummary()
	assert.Equal(t, 2, s.TotalPageViews)
	assert.Equal(t, 1, s.TotalEvents)
	assert.Equal(t, "instagram", s.TrafficSource)
	assert.Equal(t, "summer_sale", s.UTMCampaign)
	assert.Equal(t, "social", s.UTMMedium)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
