package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"stylehaven/analytics/database"
	"stylehaven/analytics/models"
	"stylehaven/analytics/utils"
)

// AnalyticsStore persists flattened tracking events in ClickHouse and serves
// the reporting aggregations for the dashboard.
type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{DB: chClient}
}

// EnsureSchema creates the events table when it does not exist yet.
func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	err := s.DB.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS analytics_events (
			event_id         String,
			event_type       LowCardinality(String),
			user_id          String,
			session_id       String,
			timestamp        DateTime64(3),
			page_path        String,
			referrer         String,
			traffic_source   LowCardinality(String),
			utm_source       String,
			utm_medium       String,
			utm_campaign     String,
			utm_term         String,
			utm_content      String,
			landing_page     String,
			user_agent       String,
			screen_resolution String,
			language         LowCardinality(String),
			device_type      LowCardinality(String),
			country          String,
			ip_address       String,
			event_name       String,
			conversion_type  String,
			conversion_value Float64,
			currency         LowCardinality(String),
			event_data       String
		) ENGINE = MergeTree()
		ORDER BY (timestamp, session_id)
	`)
	if err != nil {
		return fmt.Errorf("ensure analytics_events schema: %w", err)
	}
	return nil
}

// InsertEvents batch-inserts flattened events. Column order must match the
// analytics_events schema above.
func (s *AnalyticsStore) InsertEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_type, user_id, session_id, timestamp, page_path, referrer,
			traffic_source, utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			landing_page, user_agent, screen_resolution, language, device_type, country,
			ip_address, event_name, conversion_type, conversion_value, currency, event_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.EventType,
			event.UserID,
			event.SessionID,
			event.Timestamp,
			event.PagePath,
			event.Referrer,
			event.TrafficSource,
			event.UTMSource,
			event.UTMMedium,
			event.UTMCampaign,
			event.UTMTerm,
			event.UTMContent,
			event.LandingPage,
			event.UserAgent,
			event.ScreenResolution,
			event.Language,
			event.DeviceType,
			event.Country,
			event.IPAddress,
			event.EventName,
			event.ConversionType,
			event.ConversionValue,
			event.Currency,
			string(event.EventData),
		)
		if err != nil {
			log.Printf("Error appending event to batch (EventID: %s): %v", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// BuildSummary assembles the full reporting summary for one time window.
// Visitor-level aggregates come from session_start rows; page views and
// conversions are joined to their session's attribution.
func (s *AnalyticsStore) BuildSummary(ctx context.Context, start, end time.Time) (*models.AnalyticsSummary, error) {
	summary := &models.AnalyticsSummary{
		TrafficSources:      map[string]uint64{},
		ConversionsBySource: map[string]models.SourceConversions{},
		DeviceTypes:         map[string]uint64{},
		Countries:           map[string]uint64{},
	}

	total, err := s.totalVisitors(ctx, start, end)
	if err != nil {
		return nil, err
	}
	summary.TotalVisitors = total

	if err := s.trafficSources(ctx, start, end, summary.TrafficSources); err != nil {
		return nil, err
	}
	if summary.TopReferrers, err = s.topReferrers(ctx, start, end, total, 10); err != nil {
		return nil, err
	}
	if err := s.conversionsBySource(ctx, start, end, summary.ConversionsBySource); err != nil {
		return nil, err
	}
	if summary.RecentVisitors, err = s.recentVisitors(ctx, start, end, 50); err != nil {
		return nil, err
	}
	if summary.DailyStats, err = s.dailyStats(ctx, start, end); err != nil {
		return nil, err
	}
	if summary.TopPages, err = s.TopPages(ctx, start, end, 10); err != nil {
		return nil, err
	}
	if err := s.sessionBreakdown(ctx, start, end, "device_type", summary.DeviceTypes); err != nil {
		return nil, err
	}
	if err := s.sessionBreakdown(ctx, start, end, "country", summary.Countries); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *AnalyticsStore) totalVisitors(ctx context.Context, start, end time.Time) (uint64, error) {
	var total uint64
	err := s.DB.Conn.QueryRow(ctx, `
		SELECT uniq(session_id)
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
	`, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query total visitors: %w", err)
	}
	return total, nil
}

func (s *AnalyticsStore) trafficSources(ctx context.Context, start, end time.Time, out map[string]uint64) error {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT traffic_source, uniq(session_id) AS visitors
		FROM analytics_events
		WHERE event_type = 'session_start' AND timestamp >= ? AND timestamp <= ?
		GROUP BY traffic_source
		ORDER BY visitors DESC
	`, start, end)
	if err != nil {
		return fmt.Errorf("failed to query traffic sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source   string
			visitors uint64
		)
		if err := rows.Scan(&source, &visitors); err != nil {
			log.Printf("Error scanning traffic source row: %v", err)
			continue
		}
		out[source] = visitors
	}
	return rows.Err()
}

func (s *AnalyticsStore) topReferrers(ctx context.Context, start, end time.Time, total uint64, limit uint64) ([]models.ReferrerStat, error) {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT domain(referrer) AS ref_domain, uniq(session_id) AS visitors
		FROM analytics_events
		WHERE event_type = 'session_start'
		  AND referrer != 'direct' AND ref_domain != ''
		  AND timestamp >= ? AND timestamp <= ?
		GROUP BY ref_domain
		ORDER BY visitors DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top referrers: %w", err)
	}
	defer rows.Close()

	var results []models.ReferrerStat
	for rows.Next() {
		var stat models.ReferrerStat
		if err := rows.Scan(&stat.Domain, &stat.Visitors); err != nil {
			log.Printf("Error scanning referrer row: %v", err)
			continue
		}
		if total > 0 {
			stat.Percentage = float64(stat.Visitors) / float64(total) * 100
		}
		results = append(results, stat)
	}
	return results, rows.Err()
}

func (s *AnalyticsStore) conversionsBySource(ctx context.Context, start, end time.Time, out map[string]models.SourceConversions) error {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT sessions.traffic_source, count() AS conversions, sum(c.conversion_value) AS value
		FROM analytics_events AS c
		INNER JOIN (
			SELECT session_id, any(traffic_source) AS traffic_source
			FROM analytics_events
			WHERE event_type = 'session_start'
			GROUP BY session_id
		) AS sessions USING (session_id)
		WHERE c.event_type = 'conversion' AND c.timestamp >= ? AND c.timestamp <= ?
		GROUP BY sessions.traffic_source
	`, start, end)
	if err != nil {
		return fmt.Errorf("failed to query conversions by source: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source string
			sc     models.SourceConversions
		)
		if err := rows.Scan(&source, &sc.Conversions, &sc.Value); err != nil {
			log.Printf("Error scanning conversion row: %v", err)
			continue
		}
		out[source] = sc
	}
	return rows.Err()
}

func (s *AnalyticsStore) recentVisitors(ctx context.Context, start, end time.Time, limit uint64) ([]models.VisitorEntry, error) {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT ss.session_id, ss.traffic_source, ss.landing_page, ss.timestamp,
		       ss.device_type, ss.country, ss.utm_source, ss.utm_medium, ss.utm_campaign,
		       pv.views, cv.conversions, cv.value
		FROM (
			SELECT session_id, any(traffic_source) AS traffic_source, any(landing_page) AS landing_page,
			       min(timestamp) AS timestamp, any(device_type) AS device_type, any(country) AS country,
			       any(utm_source) AS utm_source, any(utm_medium) AS utm_medium, any(utm_campaign) AS utm_campaign
			FROM analytics_events
			WHERE event_type = 'session_start' AND timestamp >= ? AND timestamp <= ?
			GROUP BY session_id
		) AS ss
		LEFT JOIN (
			SELECT session_id, count() AS views
			FROM analytics_events
			WHERE event_type = 'page_view'
			GROUP BY session_id
		) AS pv USING (session_id)
		LEFT JOIN (
			SELECT session_id, count() AS conversions, sum(conversion_value) AS value
			FROM analytics_events
			WHERE event_type = 'conversion'
			GROUP BY session_id
		) AS cv USING (session_id)
		ORDER BY ss.timestamp DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent visitors: %w", err)
	}
	defer rows.Close()

	var results []models.VisitorEntry
	for rows.Next() {
		var (
			entry       models.VisitorEntry
			conversions uint64
		)
		if err := rows.Scan(
			&entry.ID, &entry.Source, &entry.LandingPage, &entry.Timestamp,
			&entry.Device, &entry.Country, &entry.UTMSource, &entry.UTMMedium, &entry.UTMCampaign,
			&entry.PageViews, &conversions, &entry.Value,
		); err != nil {
			log.Printf("Error scanning visitor row: %v", err)
			continue
		}
		entry.Converted = conversions > 0
		results = append(results, entry)
	}
	return results, rows.Err()
}

func (s *AnalyticsStore) dailyStats(ctx context.Context, start, end time.Time) ([]models.DailyStat, error) {
	rows, err := s.DB.Conn.Query(ctx, `
		SELECT toDate(timestamp) AS day,
		       uniq(session_id) AS visitors,
		       countIf(event_type = 'page_view') AS page_views,
		       countIf(event_type = 'conversion') AS conversions,
		       sumIf(conversion_value, event_type = 'conversion') AS revenue
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY day
		ORDER BY day ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var results []models.DailyStat
	for rows.Next() {
		var (
			day  time.Time
			stat models.DailyStat
		)
		if err := rows.Scan(&day, &stat.Visitors, &stat.PageViews, &stat.Conversions, &stat.Revenue); err != nil {
			log.Printf("Error scanning daily stat row: %v", err)
			continue
		}
		stat.Date = day.Format("2006-01-02")
		results = append(results, stat)
	}
	return results, rows.Err()
}

// TopPages returns the most viewed pages in the window.
func (s *AnalyticsStore) TopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.PageStat, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT page_path, count() AS views,
		       uniqIf(session_id, is_bounce) / greatest(uniq(session_id), 1) AS bounce_rate
		FROM analytics_events
		INNER JOIN (
			SELECT session_id, count() = 1 AS is_bounce
			FROM analytics_events
			WHERE event_type = 'page_view'
			GROUP BY session_id
		) AS b USING (session_id)
		WHERE event_type = 'page_view' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY views DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.PageStat
	for rows.Next() {
		var stat models.PageStat
		if err := rows.Scan(&stat.Page, &stat.Views, &stat.BounceRate); err != nil {
			log.Printf("Error scanning top page row: %v", err)
			continue
		}
		results = append(results, stat)
	}
	return results, rows.Err()
}

func (s *AnalyticsStore) sessionBreakdown(ctx context.Context, start, end time.Time, column string, out map[string]uint64) error {
	if !utils.IsValidBreakdownColumn(column) {
		return fmt.Errorf("invalid breakdown column: %s", column)
	}

	query := fmt.Sprintf(`
		SELECT %s AS bucket, uniq(session_id) AS visitors
		FROM analytics_events
		WHERE event_type = 'session_start' AND bucket != ''
		  AND timestamp >= ? AND timestamp <= ?
		GROUP BY bucket
	`, column)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return fmt.Errorf("failed to query %s breakdown: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bucket   string
			visitors uint64
		)
		if err := rows.Scan(&bucket, &visitors); err != nil {
			log.Printf("Error scanning %s breakdown row: %v", column, err)
			continue
		}
		out[bucket] = visitors
	}
	return rows.Err()
}

// EventCountsOverTime buckets event counts by a ClickHouse calendar interval,
// optionally filtered to one event type.
type EventCountBucket struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func (s *AnalyticsStore) EventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]EventCountBucket, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []interface{}{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupBy := "time_bucket"
	where := "WHERE timestamp >= ? AND timestamp <= ?"
	orderBy := "time_bucket ASC"
	filtered := eventTypeFilter != ""

	if filtered {
		selectCols += ", event_type"
		groupBy += ", event_type"
		where += " AND event_type = ?"
		orderBy += ", event_type ASC"
		args = append(args, eventTypeFilter)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, where, groupBy, orderBy)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountBucket
	for rows.Next() {
		var bucket EventCountBucket
		if filtered {
			var eventType string
			if err := rows.Scan(&bucket.Time, &bucket.Count, &eventType); err != nil {
				log.Printf("Error scanning event count row (with type filter): %v", err)
				continue
			}
			bucket.EventType = &eventType
		} else {
			if err := rows.Scan(&bucket.Time, &bucket.Count); err != nil {
				log.Printf("Error scanning event count row: %v", err)
				continue
			}
		}
		results = append(results, bucket)
	}
	return results, rows.Err()
}
