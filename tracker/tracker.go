// Package tracker is the client-side visit-attribution and analytics SDK:
// it classifies the inbound visit, records page views, custom events and
// conversions, ships them to the collector with durable retry, and reads back
// reporting summaries. All tracking calls are fire-and-forget; no transport
// or storage failure ever reaches the embedding application.
package tracker

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"stylehaven/analytics/localstore"
	"stylehaven/analytics/models"
)

// MirrorFunc forwards a named event with parameters to a host-page analytics
// snippet (e.g. a gtag shim) when one is present. Optional.
type MirrorFunc func(eventType string, params map[string]any)

// Config configures an explicitly constructed Tracker. Endpoint is the only
// required field.
type Config struct {
	// Endpoint is the collector API base URL, e.g. "https://api.shop.example/api".
	Endpoint string
	// APIKey is sent as X-API-KEY on every collector request.
	APIKey string
	// Store is the durable local store. Defaults to an in-memory store, which
	// keeps the tracker functional when durable storage is unavailable.
	Store localstore.Store
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// RetryInterval between retry-queue scans. Defaults to one minute.
	RetryInterval time.Duration
	// MaxRetries per queued entry before it is dropped. Defaults to 3.
	MaxRetries int
	// Mirror, when set, receives every page view, custom event and conversion.
	Mirror MirrorFunc
}

// Tracker is the analytics entry point. Construct with New, capture the
// session once at startup, and Close on application teardown to stop the
// retry loop and flush in-flight sends.
type Tracker struct {
	store     localstore.Store
	transport *transport
	log       *zap.Logger
	mirror    MirrorFunc

	mu       sync.Mutex
	snapshot *models.SessionSnapshot
}

// New builds a Tracker and starts its retry loop (one immediate flush, then
// one scan per RetryInterval).
func New(cfg Config) (*Tracker, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("tracker: Endpoint is required")
	}
	if cfg.Store == nil {
		cfg.Store = localstore.NewMemory()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	t := &Tracker{
		store:  cfg.Store,
		log:    cfg.Logger,
		mirror: cfg.Mirror,
		transport: newTransport(
			cfg.Endpoint, cfg.APIKey, cfg.HTTPClient, cfg.Store, cfg.Logger,
			cfg.RetryInterval, cfg.MaxRetries,
		),
	}
	t.transport.start()
	return t, nil
}

// Close stops the retry loop and waits for in-flight sends. Queued entries
// stay in the durable store for the next run.
func (t *Tracker) Close() {
	t.transport.stop()
}

// TrackPageView records a page view. Never blocks on the network and never
// returns an error: transport failures are queued for retry.
func (t *Tracker) TrackPageView(pageName string, extra map[string]any) {
	rec := t.newRecord(models.RecordPageView)
	rec.PageName = pageName
	rec.Payload = extra
	t.emit(rec)
}

// TrackEvent records a named business event with an arbitrary payload.
func (t *Tracker) TrackEvent(eventName string, payload map[string]any) {
	rec := t.newRecord(models.RecordCustomEvent)
	rec.EventName = eventName
	rec.Payload = payload
	t.emit(rec)
}

// TrackConversion records a conversion. A negative value is rejected
// synchronously; this is the one validation error tracking calls surface.
// Currency defaults to USD.
func (t *Tracker) TrackConversion(conversionType string, value float64, currency string) error {
	if value < 0 {
		return fmt.Errorf("tracker: conversion value must be non-negative, got %v", value)
	}
	if currency == "" {
		currency = "USD"
	}
	rec := t.newRecord(models.RecordConversion)
	rec.ConversionType = conversionType
	rec.Value = value
	rec.Currency = currency
	t.emit(rec)
	return nil
}

// SetUserID attaches the signed-in user to the live session. Future records
// carry the user ID; past records are untouched.
func (t *Tracker) SetUserID(userID string) {
	t.mu.Lock()
	snap := t.captureSessionLocked(PageContext{})
	snap.UserID = userID
	if err := t.store.SaveSnapshot(snap); err != nil {
		t.log.Warn("persist user id", zap.Error(err))
	}
	ident := &models.UserIdentification{
		SessionID: snap.SessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	t.mu.Unlock()

	t.transport.send(models.EventUserIdentified, ident)
}

// newRecord stamps a record with the current session. Tracking before an
// explicit CaptureSession implies a direct visit with no page context.
func (t *Tracker) newRecord(kind models.RecordKind) *models.TrackingRecord {
	t.mu.Lock()
	snap := t.captureSessionLocked(PageContext{})
	rec := &models.TrackingRecord{
		SessionID: snap.SessionID,
		UserID:    snap.UserID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
	t.mu.Unlock()
	return rec
}

// emit appends the record to the local log (preserving call order), forwards
// it to the transport, and mirrors it to the host-page snippet if configured.
func (t *Tracker) emit(rec *models.TrackingRecord) {
	if err := t.store.AppendRecord(rec); err != nil {
		t.log.Warn("persist tracking record", zap.Error(err))
	}
	t.transport.send(string(rec.Kind), rec)
	t.mirrorRecord(rec)
}

func (t *Tracker) mirrorRecord(rec *models.TrackingRecord) {
	if t.mirror == nil {
		return
	}
	label := rec.PageName
	if label == "" {
		label = rec.EventName
	}
	if label == "" {
		label = rec.ConversionType
	}
	t.mirror(string(rec.Kind), map[string]any{
		"event_category": "engagement",
		"event_label":    label,
		"session_id":     rec.SessionID,
	})
}

// LastReferrer returns the most recent raw referrer capture, for the
// "welcome, you came from X" banner. Empty when nothing was stored.
func (t *Tracker) LastReferrer() string {
	ref, err := t.store.LastReferrer()
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			t.log.Warn("read last referrer", zap.Error(err))
		}
		return ""
	}
	return ref
}

// SessionSummary is the local, per-session view of tracking activity.
type SessionSummary struct {
	TotalPageViews  int
	TotalEvents     int
	SessionDuration time.Duration
	TrafficSource   string
	Referrer        string
	UTMSource       string
	UTMMedium       string
	UTMCampaign     string
}

// SessionSummary summarizes the current session from local state only.
func (t *Tracker) SessionSummary() SessionSummary {
	t.mu.Lock()
	snap := t.captureSessionLocked(PageContext{})
	t.mu.Unlock()

	records, err := t.store.Records()
	if err != nil {
		t.log.Warn("read record log", zap.Error(err))
	}

	s := SessionSummary{
		TrafficSource: snap.TrafficSource,
		Referrer:      snap.Referrer,
		UTMSource:     snap.UTMSource,
		UTMMedium:     snap.UTMMedium,
		UTMCampaign:   snap.UTMCampaign,
	}

	var firstView, lastView time.Time
	for _, rec := range records {
		switch rec.Kind {
		case models.RecordPageView:
			s.TotalPageViews++
			if firstView.IsZero() {
				firstView = rec.Timestamp
			}
			lastView = rec.Timestamp
		case models.RecordCustomEvent:
			s.TotalEvents++
		}
	}
	switch {
	case firstView.IsZero():
		s.SessionDuration = 0
	case lastView.Equal(firstView):
		s.SessionDuration = time.Since(firstView)
	default:
		s.SessionDuration = lastView.Sub(firstView)
	}
	return s
}
