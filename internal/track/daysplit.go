package track

import (
	"time"

	"github.com/goodtune/sitepulse/internal/storage"
)

// Segment is one day-confined slice of a counting interval.
type Segment struct {
	DateKey string
	Seconds int64
}

// DateKey returns the calendar-date bucket key for an instant in its
// own location.
func DateKey(t time.Time) string {
	return t.Format(storage.DateKeyFormat)
}

// SplitAcrossMidnight tiles the half-open interval [start, end) into
// segments, each confined to one local calendar day, with no gaps or
// overlaps. Seconds are floored per segment, so each extra midnight
// crossed can shed at most one second against the undivided interval.
func SplitAcrossMidnight(start, end time.Time) []Segment {
	var segments []Segment

	t0 := start
	for t0.Before(end) {
		dayEnd := time.Date(t0.Year(), t0.Month(), t0.Day(), 23, 59, 59, int(999*time.Millisecond), t0.Location())
		segmentEnd := dayEnd.Add(time.Millisecond)
		if end.Before(segmentEnd) {
			segmentEnd = end
		}

		segments = append(segments, Segment{
			DateKey: DateKey(t0),
			Seconds: int64(segmentEnd.Sub(t0) / time.Second),
		})

		t0 = segmentEnd
	}

	return segments
}
