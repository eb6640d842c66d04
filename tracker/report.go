package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"stylehaven/analytics/localstore"
	"stylehaven/analytics/models"
)

// Origin tags where a reporting summary came from, so the dashboard and
// tests can tell real collector data from the availability fallback.
type Origin string

const (
	OriginReal     Origin = "real"
	OriginFallback Origin = "fallback"
)

// SummaryResult is a reporting summary plus its origin tag.
type SummaryResult struct {
	Origin  Origin
	Summary *models.AnalyticsSummary
}

var rangeDays = map[string]int{
	"1d":  1,
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// FetchSummary loads the reporting summary for a date range ("1d", "7d",
// "30d" or "90d"; anything else falls back to "7d"). Remote-first: on any
// fetch or decode failure it returns a synthetic summary blended with locally
// persisted session data, tagged OriginFallback, so the dashboard always has
// something to render.
func (t *Tracker) FetchSummary(ctx context.Context, dateRange string) *SummaryResult {
	days, ok := rangeDays[dateRange]
	if !ok {
		t.log.Warn("unknown report range, using 7d", zap.String("range", dateRange))
		dateRange, days = "7d", 7
	}

	summary, err := t.fetchRemoteSummary(ctx, dateRange)
	if err != nil {
		t.log.Warn("reporting fetch failed, serving fallback data", zap.Error(err))
		return &SummaryResult{Origin: OriginFallback, Summary: t.fallbackSummary(days)}
	}
	return &SummaryResult{Origin: OriginReal, Summary: summary}
}

func (t *Tracker) fetchRemoteSummary(ctx context.Context, dateRange string) (*models.AnalyticsSummary, error) {
	url := fmt.Sprintf("%s/analytics/data?range=%s", t.transport.endpoint, dateRange)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.transport.apiKey != "" {
		req.Header.Set("X-API-KEY", t.transport.apiKey)
	}

	resp, err := t.transport.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("report request: unexpected status %d", resp.StatusCode)
	}

	var summary models.AnalyticsSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &summary, nil
}

// AttributionReport returns the current session's persisted snapshot, for
// displays like "you came from Instagram via the Summer Sale campaign".
func (t *Tracker) AttributionReport() *models.SessionSnapshot {
	if snap, err := t.store.LoadSnapshot(); err == nil {
		return snap
	} else if !errors.Is(err, localstore.ErrNotFound) {
		t.log.Warn("load attribution report", zap.Error(err))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captureSessionLocked(PageContext{})
}

// fallbackSummary builds the synthetic dataset and folds the current
// session's locally persisted activity into it, so the numbers a visitor can
// verify (their own source, page views, conversion) are accurate even when
// the collector is unreachable.
func (t *Tracker) fallbackSummary(days int) *models.AnalyticsSummary {
	summary := syntheticSummary(days)

	t.mu.Lock()
	snap := t.captureSessionLocked(PageContext{})
	t.mu.Unlock()

	records, err := t.store.Records()
	if err != nil {
		t.log.Warn("read record log for fallback summary", zap.Error(err))
	}

	var (
		pageViews uint64
		converted bool
		value     float64
	)
	for _, rec := range records {
		switch rec.Kind {
		case models.RecordPageView:
			pageViews++
		case models.RecordConversion:
			converted = true
			value += rec.Value
		}
	}

	summary.TotalVisitors++
	summary.TrafficSources[snap.TrafficSource]++
	if converted {
		sc := summary.ConversionsBySource[snap.TrafficSource]
		sc.Conversions++
		sc.Value += value
		summary.ConversionsBySource[snap.TrafficSource] = sc
	}
	summary.RecentVisitors = append([]models.VisitorEntry{{
		ID:          snap.SessionID,
		Source:      snap.TrafficSource,
		LandingPage: snap.LandingPage,
		Timestamp:   snap.Timestamp,
		Converted:   converted,
		Value:       value,
		Device:      snap.DeviceType,
		PageViews:   pageViews,
		UTMSource:   snap.UTMSource,
		UTMMedium:   snap.UTMMedium,
		UTMCampaign: snap.UTMCampaign,
	}}, summary.RecentVisitors...)

	return summary
}

// syntheticSummary is the clearly-placeholder dataset served when the
// collector is unreachable. Scales its daily buckets to the requested range.
func syntheticSummary(days int) *models.AnalyticsSummary {
	now := time.Now().UTC()

	daily := make([]models.DailyStat, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		daily = append(daily, models.DailyStat{
			Date:        day.Format("2006-01-02"),
			Visitors:    uint64(rand.Intn(200) + 50),
			PageViews:   uint64(rand.Intn(800) + 200),
			Conversions: uint64(rand.Intn(20) + 2),
			Revenue:     float64(rand.Intn(2000) + 500),
		})
	}

	return &models.AnalyticsSummary{
		TotalVisitors: 1247,
		TrafficSources: map[string]uint64{
			"direct":    456,
			"google":    321,
			"facebook":  189,
			"instagram": 134,
			"twitter":   89,
			"referral":  58,
		},
		TopReferrers: []models.ReferrerStat{
			{Domain: "google.com", Visitors: 321, Percentage: 25.7},
			{Domain: "facebook.com", Visitors: 189, Percentage: 15.2},
			{Domain: "instagram.com", Visitors: 134, Percentage: 10.7},
			{Domain: "twitter.com", Visitors: 89, Percentage: 7.1},
			{Domain: "linkedin.com", Visitors: 45, Percentage: 3.6},
		},
		ConversionsBySource: map[string]models.SourceConversions{
			"direct":    {Conversions: 34, Value: 4567.80},
			"google":    {Conversions: 23, Value: 2340.50},
			"facebook":  {Conversions: 15, Value: 1890.25},
			"instagram": {Conversions: 8, Value: 945.60},
		},
		RecentVisitors: syntheticVisitors(now, 20),
		DailyStats:     daily,
		TopPages: []models.PageStat{
			{Page: "/", Views: 456, BounceRate: 0.23},
			{Page: "/products", Views: 234, BounceRate: 0.18},
			{Page: "/products/men", Views: 189, BounceRate: 0.25},
			{Page: "/products/women", Views: 167, BounceRate: 0.21},
			{Page: "/about", Views: 89, BounceRate: 0.45},
		},
		DeviceTypes: map[string]uint64{
			"desktop": 567,
			"mobile":  489,
			"tablet":  191,
		},
		Countries: map[string]uint64{
			"United States":  456,
			"Canada":         234,
			"United Kingdom": 189,
			"Australia":      134,
			"Germany":        89,
			"France":         67,
			"Other":          78,
		},
	}
}

func syntheticVisitors(now time.Time, count int) []models.VisitorEntry {
	sources := []string{"google", "facebook", "instagram", "twitter", "direct", "referral"}
	countries := []string{"United States", "Canada", "United Kingdom", "Australia", "Germany"}
	pages := []string{"/", "/products", "/products/men", "/products/women", "/about"}
	devices := []string{"desktop", "mobile", "tablet"}

	visitors := make([]models.VisitorEntry, 0, count)
	for i := 0; i < count; i++ {
		converted := rand.Float64() > 0.85
		var value float64
		if converted {
			value = float64(rand.Intn(500) + 50)
		}
		visitors = append(visitors, models.VisitorEntry{
			ID:          fmt.Sprintf("visitor_%d", i),
			Source:      sources[rand.Intn(len(sources))],
			LandingPage: pages[rand.Intn(len(pages))],
			Timestamp:   now.Add(-time.Duration(rand.Int63n(int64(7 * 24 * time.Hour)))),
			Converted:   converted,
			Value:       value,
			Country:     countries[rand.Intn(len(countries))],
			Device:      devices[rand.Intn(len(devices))],
			PageViews:   uint64(rand.Intn(10) + 1),
		})
	}
	return visitors
}
