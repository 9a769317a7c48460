package repository

import (
	"testing"
	"time"
)

func TestDateRangeFromPreset(t *testing.T) {
	// A Wednesday afternoon.
	now := time.Date(2026, 8, 26, 15, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		preset string
		start  time.Time
		end    time.Time
	}{
		{"today", day(2026, 8, 26), day(2026, 8, 27)},
		{"yesterday", day(2026, 8, 25), day(2026, 8, 26)},
		{"this_week", day(2026, 8, 24), day(2026, 8, 31)},
		{"last_week", day(2026, 8, 17), day(2026, 8, 24)},
		{"this_month", day(2026, 8, 1), day(2026, 9, 1)},
		{"last_month", day(2026, 7, 1), day(2026, 8, 1)},
		{"last_7_days", day(2026, 8, 19), day(2026, 8, 27)},
		{"last_30_days", day(2026, 7, 27), day(2026, 8, 27)},
		{"last_90_days", day(2026, 5, 28), day(2026, 8, 27)},
		// Unknown presets fall back to the last 30 days.
		{"whenever", day(2026, 7, 27), day(2026, 8, 27)},
	}
	for _, c := range cases {
		start, end := DateRangeFromPreset(c.preset, now)
		if !start.Equal(c.start) || !end.Equal(c.end) {
			t.Errorf("%s: got [%v, %v], want [%v, %v]", c.preset, start, end, c.start, c.end)
		}
	}
}

func TestDateRangeWeekStartsMonday(t *testing.T) {
	// On a Sunday, this_week still anchors at the preceding Monday.
	sunday := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	start, _ := DateRangeFromPreset("this_week", sunday)
	if start.Weekday() != time.Monday {
		t.Errorf("week must start on Monday, got %v", start.Weekday())
	}
	if !start.Equal(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("wrong Monday: %v", start)
	}
}
