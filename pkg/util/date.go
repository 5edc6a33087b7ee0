package util

import (
	"math"
	"strconv"
	"time"
)

// CompactDateLayout is the YYYYMMDD form used by some upstream APIs.
const CompactDateLayout = "20060102"

// ParseTime tries RFC3339, RFC3339Nano, "2006-01-02 15:04:05", YYYY-MM-DD,
// YYYYMMDD and unix seconds. Results without a zone are UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if len(s) == len(CompactDateLayout) {
		if t, err := time.Parse(CompactDateLayout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// CompactDate formats t as YYYYMMDD in UTC.
func CompactDate(t time.Time) string {
	return t.UTC().Format(CompactDateLayout)
}

// CeilDays returns the number of days in d rounded up. Negative durations round
// toward zero the same way, so an event 12 hours ago is 0 days out.
func CeilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}
