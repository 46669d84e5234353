package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// QuietWindow is a daily [start, end) range in minutes after local midnight.
// A window whose start is after its end wraps past midnight. The zero value
// has no quiet hours.
type QuietWindow struct {
	Start int
	End   int
}

// ParseQuietWindow reads "HH:MM" bounds. Empty or equal bounds yield an
// empty window.
func ParseQuietWindow(start string, end string) (QuietWindow, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" || end == "" {
		return QuietWindow{}, nil
	}
	startMinute, err := parseClock(start)
	if err != nil {
		return QuietWindow{}, err
	}
	endMinute, err := parseClock(end)
	if err != nil {
		return QuietWindow{}, err
	}
	return QuietWindow{Start: startMinute, End: endMinute}, nil
}

func (w QuietWindow) Empty() bool {
	return w.Start == w.End
}

// Contains reports whether the wall clock of local falls inside the window.
func (w QuietWindow) Contains(local time.Time) bool {
	if w.Empty() {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	if w.Start < w.End {
		return minute >= w.Start && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

// NextAllowed returns now when it is outside the window, otherwise the first
// minute after the window closes in loc, as UTC.
func (w QuietWindow) NextAllowed(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if !w.Contains(local) {
		return now.UTC()
	}
	next := time.Date(local.Year(), local.Month(), local.Day(), w.End/60, w.End%60, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, w.End/60, w.End%60, 0, 0, loc)
	}
	return next.UTC()
}

func (w QuietWindow) String() string {
	if w.Empty() {
		return ""
	}
	return formatClock(w.Start) + "-" + formatClock(w.End)
}

func parseClock(value string) (int, error) {
	hourText, minuteText, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("notify: quiet hour %q must be HH:MM", value)
	}
	hour, err := strconv.Atoi(hourText)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("notify: quiet hour %q has an invalid hour", value)
	}
	minute, err := strconv.Atoi(minuteText)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("notify: quiet hour %q has an invalid minute", value)
	}
	return hour*60 + minute, nil
}

func formatClock(minute int) string {
	minute = ((minute % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
