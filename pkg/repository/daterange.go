package repository

import (
	"time"
)

// DateRangeFromPreset maps a named preset onto concrete UTC boundaries
// anchored at midnight. Unknown presets fall back to the last 30 days.
func DateRangeFromPreset(name string, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch name {
	case "today":
		return midnight, midnight.AddDate(0, 0, 1)
	case "yesterday":
		return midnight.AddDate(0, 0, -1), midnight
	case "this_week":
		return startOfWeek(midnight), startOfWeek(midnight).AddDate(0, 0, 7)
	case "last_week":
		start := startOfWeek(midnight).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 7)
	case "this_month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	case "last_month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		return start, start.AddDate(0, 1, 0)
	case "last_7_days":
		return midnight.AddDate(0, 0, -7), midnight.AddDate(0, 0, 1)
	case "last_90_days":
		return midnight.AddDate(0, 0, -90), midnight.AddDate(0, 0, 1)
	case "last_30_days":
		return midnight.AddDate(0, 0, -30), midnight.AddDate(0, 0, 1)
	default:
		return midnight.AddDate(0, 0, -30), midnight.AddDate(0, 0, 1)
	}
}

// startOfWeek returns the Monday of the week containing d.
func startOfWeek(d time.Time) time.Time {
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDate(0, 0, -(wd - 1))
}
