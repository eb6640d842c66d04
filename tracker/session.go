package tracker

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"stylehaven/analytics/attribution"
	"stylehaven/analytics/localstore"
	"stylehaven/analytics/models"
)

// ReferrerDirect is the sentinel stored when a visit has no referrer.
const ReferrerDirect = "direct"

// PageContext is the raw environment of the landing page, supplied by the
// embedding client. The tracker never reads this state itself so that session
// capture stays testable with plain values.
type PageContext struct {
	URL           string // full landing URL including query string
	Referrer      string // document referrer, empty for direct visits
	UserAgent     string
	ScreenWidth   int
	ScreenHeight  int
	ViewportWidth int
	Language      string // BCP 47 tag, e.g. "en-US"
}

// CaptureSession classifies the visit and persists its session snapshot.
// It is idempotent: once a snapshot exists for the session (in memory or in
// the store), repeated calls return it unchanged even if the query string has
// since changed, so attribution is first-touch and stable across internal
// navigation. Storage failures are logged and swallowed; the in-memory
// snapshot remains usable for the life of the process.
func (t *Tracker) CaptureSession(page PageContext) *models.SessionSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captureSessionLocked(page)
}

func (t *Tracker) captureSessionLocked(page PageContext) *models.SessionSnapshot {
	if t.snapshot != nil {
		return t.snapshot
	}

	if snap, err := t.store.LoadSnapshot(); err == nil {
		t.snapshot = snap
		return snap
	} else if !errors.Is(err, localstore.ErrNotFound) {
		t.log.Warn("load session snapshot", zap.Error(err))
	}

	snap := buildSnapshot(page, time.Now().UTC())
	if err := t.store.SaveSnapshot(snap); err != nil {
		t.log.Warn("persist session snapshot", zap.Error(err))
	}
	if err := t.store.SaveLastReferrer(page.Referrer); err != nil {
		t.log.Warn("persist last referrer", zap.Error(err))
	}
	t.snapshot = snap

	t.log.Info("session captured",
		zap.String("sessionId", snap.SessionID),
		zap.String("trafficSource", snap.TrafficSource))
	t.transport.send(models.EventSessionStart, snap)
	return snap
}

// buildSnapshot assembles the immutable session snapshot from raw inputs.
func buildSnapshot(page PageContext, now time.Time) *models.SessionSnapshot {
	params := landingParams(page.URL)

	referrer := page.Referrer
	if referrer == "" {
		referrer = ReferrerDirect
	}

	return &models.SessionSnapshot{
		SessionID:        newSessionID(now),
		Referrer:         referrer,
		TrafficSource:    string(attribution.Classify(page.Referrer, params)),
		UTMSource:        params.Get(attribution.ParamUTMSource),
		UTMMedium:        params.Get(attribution.ParamUTMMedium),
		UTMCampaign:      params.Get(attribution.ParamUTMCampaign),
		UTMTerm:          params.Get(attribution.ParamUTMTerm),
		UTMContent:       params.Get(attribution.ParamUTMContent),
		GCLID:            params.Get(attribution.ParamGCLID),
		FBCLID:           params.Get(attribution.ParamFBCLID),
		LandingPage:      page.URL,
		Timestamp:        now,
		UserAgent:        page.UserAgent,
		ScreenResolution: fmt.Sprintf("%dx%d", page.ScreenWidth, page.ScreenHeight),
		Language:         page.Language,
		DeviceType:       deviceType(page.ViewportWidth),
	}
}

func landingParams(landingURL string) url.Values {
	u, err := url.Parse(landingURL)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

func deviceType(viewportWidth int) string {
	switch {
	case viewportWidth >= 1024:
		return "desktop"
	case viewportWidth >= 768:
		return "tablet"
	default:
		return "mobile"
	}
}

// newSessionID produces IDs in the collector's established wire format:
// session_<unix-millis>_<random suffix>.
func newSessionID(now time.Time) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Degrade to a time-only suffix rather than failing session capture.
		return fmt.Sprintf("session_%d_%s", now.UnixMilli(), strings.ReplaceAll(now.Format("150405.000"), ".", ""))
	}
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
