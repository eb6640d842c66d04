package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylehaven/analytics/localstore"
)

func newTestTracker(t *testing.T, endpoint string) *Tracker {
	t.Helper()
	tr, err := New(Config{
		Endpoint:      endpoint,
		Store:         localstore.NewMemory(),
		RetryInterval: time.Hour, // retries driven manually in tests
	})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestCaptureSessionBuildsSnapshot(t *testing.T) {
	tr := newTestTracker(t, "http://127.0.0.1:0/api")

	snap := tr.CaptureSession(PageContext{
		URL:           "https://shop.example/?utm_source=Instagram&utm_medium=social&utm_campaign=summer_sale&fbclid=IwAR2x",
		Referrer:      "https://l.instagram.com/",
		UserAgent:     "Mozilla/5.0",
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		ViewportWidth: 1440,
		Language:      "en-US",
	})

	assert.Equal(t, "instagram", snap.TrafficSource)
	assert.Equal(t, "Instagram", snap.UTMSource)
	assert.Equal(t, "social", snap.UTMMedium)
	assert.Equal(t, "summer_sale", snap.UTMCampaign)
	assert.Equal(t, "IwAR2x", snap.FBCLID)
	assert.Equal(t, "https://l.instagram.com/", snap.Referrer)
	assert.Equal(t, "1920x1080", snap.ScreenResolution)
	assert.Equal(t, "desktop", snap.DeviceType)
	assert.NotEmpty(t, snap.SessionID)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestCaptureSessionDirectVisit(t *testing.T) {
	tr := newTestTracker(t, "http://127.0.0.1:0/api")

	snap := tr.CaptureSession(PageContext{URL: "https://shop.example/", ViewportWidth: 375})
	assert.Equal(t, ReferrerDirect, snap.Referrer)
	assert.Equal(t, "direct", snap.TrafficSource)
	assert.Equal(t, "mobile", snap.DeviceType)
}

func TestCaptureSessionIdempotent(t *testing.T) {
	tr := newTestTracker(t, "http://127.0.0.1:0/api")

	first := tr.CaptureSession(PageContext{
		URL:      "https://shop.example/?utm_source=instagram&utm_campaign=summer_sale",
		Referrer: "https://www.instagram.com/",
	})

	// Internal navigation dropped the query string; attribution must not move.
	second := tr.CaptureSession(PageContext{
		URL:      "https://shop.example/products",
		Referrer: "",
	})

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.TrafficSource, second.TrafficSource)
	assert.Equal(t, first, second)
}

func TestCaptureSessionSurvivesRestartViaStore(t *testing.T) {
	store := localstore.NewMemory()

	tr1, err := New(Config{Endpoint: "http://127.0.0.1:0/api", Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)
	first := tr1.CaptureSession(PageContext{
		URL:      "https://shop.example/?utm_source=newsletter",
		Referrer: "",
	})
	tr1.Close()

	// A new tracker over the same store joins the existing session.
	tr2, err := New(Config{Endpoint: "http://127.0.0.1:0/api", Store: store, RetryInterval: time.Hour})
	require.NoError(t, err)
	defer tr2.Close()

	second := tr2.CaptureSession(PageContext{URL: "https://shop.example/", Referrer: "https://www.google.com/"})
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "newsletter", second.TrafficSource)
}

func TestCaptureSessionStoresLastReferrer(t *testing.T) {
	tr := newTestTracker(t, "http://127.0.0.1:0/api")

	tr.CaptureSession(PageContext{URL: "https://shop.example/", Referrer: "https://news.example/article"})
	assert.Equal(t, "https://news.example/article", tr.LastReferrer())
}

func TestDeviceType(t *testing.T) {
	assert.Equal(t, "desktop", deviceType(1024))
	assert.Equal(t, "tablet", deviceType(768))
	assert.Equal(t, "mobile", deviceType(767))
	assert.Equal(t, "mobile", deviceType(0))
}

func TestNewSessionIDFormat(t *testing.T) {
	now := time.Now()
	id := newSessionID(now)
	assert.Regexp(t, `^session_\d+_[0-9a-f]+$`, id)
	assert.NotEqual(t, id, newSessionID(now))
}

func TestBuildSnapshotUnparseableURL(t *testing.T) {
	snap := buildSnapshot(PageContext{URL: "://not-a-url"}, time.Now().UTC())
	assert.Equal(t, "direct", snap.TrafficSource)
	assert.Equal(t, ReferrerDirect, snap.Referrer)
}
