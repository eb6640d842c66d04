package utils

import "time"

// IsValidInterval reports whether interval is a ClickHouse toStartOf* unit.
func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// IsValidBreakdownColumn whitelists columns usable in breakdown queries,
// since column names cannot be bound as query parameters.
func IsValidBreakdownColumn(column string) bool {
	switch column {
	case "device_type", "country", "traffic_source":
		return true
	default:
		return false
	}
}

// RangeWindow converts a dashboard range key into a [start, end] window
// ending at now. Returns false for unknown keys.
func RangeWindow(r string, now time.Time) (start, end time.Time, ok bool) {
	days := 0
	switch r {
	case "1d":
		days = 1
	case "7d":
		days = 7
	case "30d":
		days = 30
	case "90d":
		days = 90
	default:
		return time.Time{}, time.Time{}, false
	}
	end = now
	start = end.AddDate(0, 0, -days)
	return start, end, true
}
