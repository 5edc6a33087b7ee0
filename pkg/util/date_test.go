package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeCompactAndDateOnly(t *testing.T) {
	want := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"20250304", "2025-03-04"} {
		got, ok := ParseTime(s)
		if !ok {
			t.Fatalf("%s: expected ok", s)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v", s, got)
		}
	}
	if CompactDate(want) != "20250304" {
		t.Fatalf("unexpected compact date %s", CompactDate(want))
	}
}

func TestCeilDays(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{time.Hour, 1},
		{48 * time.Hour, 2},
		{49 * time.Hour, 3},
		{-12 * time.Hour, 0},
		{-36 * time.Hour, -1},
	}
	for _, c := range cases {
		if got := CeilDays(c.d); got != c.want {
			t.Fatalf("CeilDays(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}
