package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stylehaven/analytics/models"
	"stylehaven/analytics/store"
	"stylehaven/analytics/utils"
)

type AnalyticsHandlers struct {
	AnalyticsStore *store.AnalyticsStore
}

func NewAnalyticsHandlers(s *store.AnalyticsStore) *AnalyticsHandlers {
	return &AnalyticsHandlers{AnalyticsStore: s}
}

// TrackEvent ingests one {eventType, data, timestamp} envelope from the
// client SDK and flattens it into a single ClickHouse row.
func (h *AnalyticsHandlers) TrackEvent(c *gin.Context) {
	var env models.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		log.Printf("Error binding analytics envelope: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	event, err := flattenEnvelope(&env)
	if err != nil {
		log.Printf("Error flattening analytics envelope (%s): %v", env.EventType, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event.EventID = uuid.New().String()
	event.IPAddress = c.ClientIP()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.AnalyticsStore.InsertEvents(ctx, []models.AnalyticsEvent{*event}); err != nil {
		log.Printf("Error inserting analytics event into ClickHouse: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record analytics event"})
		return
	}

	c.Status(http.StatusOK)
}

// flattenEnvelope maps each envelope type onto the shared row shape. The
// classification arrives pre-computed from the client and is stored as-is.
func flattenEnvelope(env *models.Envelope) (*models.AnalyticsEvent, error) {
	event := &models.AnalyticsEvent{
		EventType: env.EventType,
		Timestamp: env.Timestamp,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	switch env.EventType {
	case models.EventSessionStart:
		var snap models.SessionSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return nil, fmt.Errorf("invalid session_start data: %w", err)
		}
		if snap.SessionID == "" {
			return nil, fmt.Errorf("session_start missing sessionId")
		}
		event.SessionID = snap.SessionID
		event.UserID = snap.UserID
		event.Referrer = snap.Referrer
		event.TrafficSource = snap.TrafficSource
		event.UTMSource = snap.UTMSource
		event.UTMMedium = snap.UTMMedium
		event.UTMCampaign = snap.UTMCampaign
		event.UTMTerm = snap.UTMTerm
		event.UTMContent = snap.UTMContent
		event.LandingPage = snap.LandingPage
		event.UserAgent = snap.UserAgent
		event.ScreenResolution = snap.ScreenResolution
		event.Language = snap.Language
		event.DeviceType = snap.DeviceType

	case models.EventPageView, models.EventCustomEvent, models.EventConversion:
		var rec models.TrackingRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return nil, fmt.Errorf("invalid %s data: %w", env.EventType, err)
		}
		if rec.SessionID == "" {
			return nil, fmt.Errorf("%s missing sessionId", env.EventType)
		}
		event.SessionID = rec.SessionID
		event.UserID = rec.UserID
		event.PagePath = rec.PageName
		event.EventName = rec.EventName
		event.ConversionType = rec.ConversionType
		event.ConversionValue = rec.Value
		event.Currency = rec.Currency
		if len(rec.Payload) > 0 {
			data, err := json.Marshal(rec.Payload)
			if err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", env.EventType, err)
			}
			event.EventData = data
		}

	case models.EventUserIdentified:
		var ident models.UserIdentification
		if err := json.Unmarshal(env.Data, &ident); err != nil {
			return nil, fmt.Errorf("invalid user_identified data: %w", err)
		}
		if ident.SessionID == "" {
			return nil, fmt.Errorf("user_identified missing sessionId")
		}
		event.SessionID = ident.SessionID
		event.UserID = ident.UserID

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.EventType)
	}

	return event, nil
}

// GetAnalyticsData serves the dashboard summary for a date range.
func (h *AnalyticsHandlers) GetAnalyticsData(c *gin.Context) {
	rangeKey := c.DefaultQuery("range", "7d")
	start, end, ok := utils.RangeWindow(rangeKey, time.Now().UTC())
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'range' parameter. Use 1d, 7d, 30d or 90d."})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	summary, err := h.AnalyticsStore.BuildSummary(ctx, start, end)
	if err != nil {
		log.Printf("Error building analytics summary: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve analytics summary"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// timeWindow parses optional start/end query params, defaulting to the last
// seven days.
func timeWindow(c *gin.Context) (start, end time.Time, ok bool) {
	var err error

	end = time.Now().UTC()
	if endParam := c.Query("end"); endParam != "" {
		end, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	}

	start = end.Add(-7 * 24 * time.Hour)
	if startParam := c.Query("start"); startParam != "" {
		start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	}

	return start, end, true
}

// GetEventCountsOverTime serves bucketed event counts for operator charts.
func (h *AnalyticsHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := timeWindow(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.AnalyticsStore.EventCountsOverTime(ctx, interval, start, end, c.Query("eventType"))
	if err != nil {
		log.Printf("Error getting event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetTopPages serves the most viewed pages for operator dashboards.
func (h *AnalyticsHandlers) GetTopPages(c *gin.Context) {
	start, end, ok := timeWindow(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.AnalyticsStore.TopPages(ctx, start, end, limit)
	if err != nil {
		log.Printf("Error getting top pages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top pages statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}
