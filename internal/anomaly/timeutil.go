package anomaly

import (
	"strconv"
	"time"
)

// Stored timestamps carry a literal Z marker; rows written by older tools may lack a zone
// or use a space separator. Zone-less values are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// formatTime renders t in UTC with the literal Z marker used by stored rows.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// pastBoundary reports whether the stored time s lies after end. Values that do not parse
// are compared as strings against the serialized boundary.
func pastBoundary(s string, end time.Time) bool {
	if t, ok := parseTime(s); ok {
		return t.After(end)
	}
	return s > formatTime(end)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
