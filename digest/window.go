package digest

import (
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

// Schedule is when a user's digests go out, in the user's timezone.
type Schedule struct {
	Location *time.Location
	Hour     int
	Weekday  time.Weekday
}

// LastBoundary returns the most recent send boundary at or before now. Daily
// boundaries fall on Hour:00 local; weekly boundaries additionally fall on
// Weekday.
func LastBoundary(now time.Time, period core.DigestPeriod, schedule Schedule) time.Time {
	loc := schedule.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), schedule.Hour, 0, 0, 0, loc)
	if boundary.After(local) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	if period == core.DigestPeriodWeekly {
		for boundary.Weekday() != schedule.Weekday {
			boundary = boundary.AddDate(0, 0, -1)
		}
	}
	return boundary.UTC()
}

// Window is the half-open range [Start, End) a digest covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor starts at the end of the last sent batch, or one period before
// the boundary when nothing was sent yet.
func WindowFor(boundary time.Time, period core.DigestPeriod, last *core.DigestBatch) Window {
	start := boundary.Add(-period.Length())
	if last != nil && !last.WindowEnd.IsZero() && last.WindowEnd.Before(boundary) {
		start = last.WindowEnd.UTC()
	}
	return Window{Start: start, End: boundary}
}

// Due reports whether the boundary still needs a batch.
func Due(boundary time.Time, last *core.DigestBatch) bool {
	return last == nil || last.WindowEnd.Before(boundary)
}
