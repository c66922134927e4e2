package timetable

import (
	"fmt"
	"strings"
	"time"
)

// weekThreshold is the span from which a request is treated as a week view.
const weekThreshold = 5 * 24 * time.Hour

// Range is a canonical cache window. Start and End are both nil or both set.
type Range struct {
	Start *time.Time
	End   *time.Time
	// Week reports that the bounds were snapped to an ISO week.
	Week bool
}

// NormalizeRange snaps raw bounds to canonical ones in loc. Spans of five
// days or more become the Monday to Sunday week containing start; shorter
// spans snap each bound to its own day. If either bound is missing the
// zero Range is returned and the caller decides.
func NormalizeRange(start, end *time.Time, loc *time.Location) Range {
	if start == nil || end == nil {
		return Range{}
	}
	if loc == nil {
		loc = time.Local
	}
	if end.Sub(*start) >= weekThreshold {
		monday := weekStart(*start, loc)
		sunday := endOfDay(monday.AddDate(0, 0, 6), loc)
		return Range{Start: &monday, End: &sunday, Week: true}
	}
	s := startOfDay(*start, loc)
	e := endOfDay(*end, loc)
	return Range{Start: &s, End: &e}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
}

func weekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
}

var boundLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// ParseBound parses a query bound. Values without an offset are read in loc.
func ParseBound(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range boundLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}
