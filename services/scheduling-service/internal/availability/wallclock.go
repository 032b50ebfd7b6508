package availability

import (
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
)

// ResolveWallClock maps minute-of-day on date in loc to an instant.
//
// Ambiguous wall times (autumn fall-back) resolve to the offset in effect before the change.
// Wall times that do not exist (spring-forward gap) snap to the first instant after the gap,
// so a window straddling the gap loses only the missing hour.
func ResolveWallClock(date model.Date, minute int, loc *time.Location) time.Time {
	naive := date.WallClock(minute)
	_, before := naive.Add(-48 * time.Hour).In(loc).Zone()
	_, after := naive.Add(48 * time.Hour).In(loc).Zone()

	for _, offset := range []int{before, after} {
		t := naive.Add(-time.Duration(offset) * time.Second)
		if sameWallClock(t.In(loc), naive) {
			return t
		}
	}

	// Gap: reading the wall time with the old offset lands just past the transition.
	t := naive.Add(-time.Duration(before) * time.Second)
	start, _ := t.In(loc).ZoneBounds()
	if start.IsZero() {
		return t
	}
	return start
}

func sameWallClock(t, naive time.Time) bool {
	y, m, d := t.Date()
	ny, nm, nd := naive.Date()
	return y == ny && m == nm && d == nd && t.Hour() == naive.Hour() && t.Minute() == naive.Minute()
}

// alignUp rounds minute up to the next multiple of the slot granularity.
func alignUp(minute int) int {
	step := int(model.SlotGranularity / time.Minute)
	if rem := minute % step; rem != 0 {
		return minute + step - rem
	}
	return minute
}
