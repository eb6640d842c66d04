package models

import (
	"encoding/json"
	"time"
)

// Event types carried in the collector envelope.
const (
	EventSessionStart   = "session_start"
	EventPageView       = "page_view"
	EventCustomEvent    = "custom_event"
	EventConversion     = "conversion"
	EventUserIdentified = "user_identified"
)

// Envelope is the wire format accepted by the collector:
// POST /api/analytics with a JSON body of {eventType, data, timestamp}.
type Envelope struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionSnapshot captures the attribution state of one visit. It is built
// once on the first page load of a session and never changes afterwards,
// except for UserID which is attached when the visitor signs in.
type SessionSnapshot struct {
	SessionID        string    `json:"sessionId"`
	Referrer         string    `json:"referrer"` // raw referrer URL, or "direct"
	TrafficSource    string    `json:"trafficSource"`
	UTMSource        string    `json:"utmSource,omitempty"`
	UTMMedium        string    `json:"utmMedium,omitempty"`
	UTMCampaign      string    `json:"utmCampaign,omitempty"`
	UTMTerm          string    `json:"utmTerm,omitempty"`
	UTMContent       string    `json:"utmContent,omitempty"`
	GCLID            string    `json:"gclid,omitempty"`
	FBCLID           string    `json:"fbclid,omitempty"`
	LandingPage      string    `json:"landingPage"`
	Timestamp        time.Time `json:"timestamp"`
	UserAgent        string    `json:"userAgent"`
	ScreenResolution string    `json:"screenResolution"`
	Language         string    `json:"language"`
	DeviceType       string    `json:"deviceType"`
	UserID           string    `json:"userId,omitempty"`
}

// RecordKind distinguishes the three tracked occurrence types.
type RecordKind string

const (
	RecordPageView    RecordKind = "page_view"
	RecordCustomEvent RecordKind = "custom_event"
	RecordConversion  RecordKind = "conversion"
)

// TrackingRecord is one tracked occurrence within a session. Records are
// append-only: built at the moment of the action and never mutated.
type TrackingRecord struct {
	SessionID      string         `json:"sessionId"`
	UserID         string         `json:"userId,omitempty"`
	Kind           RecordKind     `json:"kind"`
	PageName       string         `json:"pageName,omitempty"`
	EventName      string         `json:"eventName,omitempty"`
	ConversionType string         `json:"conversionType,omitempty"`
	Value          float64        `json:"value,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// UserIdentification associates a signed-in user with a running session.
type UserIdentification struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalyticsEvent is the flattened row stored in ClickHouse. One envelope of
// any event type becomes exactly one row.
type AnalyticsEvent struct {
	EventID          string          `json:"eventId"`
	EventType        string          `json:"eventType"`
	UserID           string          `json:"userId"`
	SessionID        string          `json:"sessionId"`
	Timestamp        time.Time       `json:"timestamp"`
	PagePath         string          `json:"pagePath"`
	Referrer         string          `json:"referrer"`
	TrafficSource    string          `json:"trafficSource"`
	UTMSource        string          `json:"utmSource"`
	UTMMedium        string          `json:"utmMedium"`
	UTMCampaign      string          `json:"utmCampaign"`
	UTMTerm          string          `json:"utmTerm"`
	UTMContent       string          `json:"utmContent"`
	LandingPage      string          `json:"landingPage"`
	UserAgent        string          `json:"userAgent"`
	ScreenResolution string          `json:"screenResolution"`
	Language         string          `json:"language"`
	DeviceType       string          `json:"deviceType"`
	Country          string          `json:"country"`
	IPAddress        string          `json:"ipAddress"`
	EventName        string          `json:"eventName"`
	ConversionType   string          `json:"conversionType"`
	ConversionValue  float64         `json:"conversionValue"`
	Currency         string          `json:"currency"`
	EventData        json.RawMessage `json:"eventData,omitempty"`
}

// ReferrerStat is one row of the top-referrers table.
type ReferrerStat struct {
	Domain     string  `json:"domain"`
	Visitors   uint64  `json:"visitors"`
	Percentage float64 `json:"percentage"`
}

// SourceConversions aggregates conversions attributed to one traffic source.
type SourceConversions struct {
	Conversions uint64  `json:"conversions"`
	Value       float64 `json:"value"`
}

// VisitorEntry is one row of the recent-visitors list.
type VisitorEntry struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	LandingPage string    `json:"landingPage"`
	Timestamp   time.Time `json:"timestamp"`
	Converted   bool      `json:"converted"`
	Value       float64   `json:"value"`
	Country     string    `json:"country"`
	Device      string    `json:"device"`
	PageViews   uint64    `json:"pageViews"`
	UTMSource   string    `json:"utmSource,omitempty"`
	UTMMedium   string    `json:"utmMedium,omitempty"`
	UTMCampaign string    `json:"utmCampaign,omitempty"`
}

// DailyStat is one day bucket of the reporting range.
type DailyStat struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	Visitors    uint64  `json:"visitors"`
	PageViews   uint64  `json:"pageViews"`
	Conversions uint64  `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// PageStat is one row of the top-pages table.
type PageStat struct {
	Page       string  `json:"page"`
	Views      uint64  `json:"views"`
	BounceRate float64 `json:"bounceRate"`
}

// AnalyticsSummary is the reporting payload served by
// GET /api/analytics/data?range= and consumed by the dashboard.
type AnalyticsSummary struct {
	TotalVisitors       uint64                       `json:"totalVisitors"`
	TrafficSources      map[string]uint64            `json:"trafficSources"`
	TopReferrers        []ReferrerStat               `json:"topReferrers"`
	ConversionsBySource map[string]SourceConversions `json:"conversionsBySource"`
	RecentVisitors      []VisitorEntry               `json:"recentVisitors"`
	DailyStats          []DailyStat                  `json:"dailyStats"`
	TopPages            []PageStat                   `json:"topPages"`
	DeviceTypes         map[string]uint64            `json:"deviceTypes"`
	Countries           map[string]uint64            `json:"countries"`
}
