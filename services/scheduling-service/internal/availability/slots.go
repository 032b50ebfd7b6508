package availability

import (
	"sort"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Candidates walks [windowStart, windowEnd) in step increments and returns every start whose
// booking of length duration still ends inside the window. Steps are absolute, so a window that
// spans a DST change yields each instant exactly once.
func Candidates(staffID string, windowStart, windowEnd time.Time, duration, step time.Duration) []model.Slot {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}

	var slots []model.Slot
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		slots = append(slots, model.Slot{StaffID: staffID, Start: t, End: t.Add(duration)})
	}
	return slots
}

// NotBefore drops slots starting before cutoff. A slot starting exactly at cutoff is kept.
func NotBefore(slots []model.Slot, cutoff time.Time) []model.Slot {
	return filter(slots, func(s model.Slot) bool {
		return !s.Start.Before(cutoff)
	})
}

// WithoutBlackouts drops slots overlapping a blackout that applies to the slot's staff member.
func WithoutBlackouts(slots []model.Slot, blackouts []model.BlackoutWindow) []model.Slot {
	if len(blackouts) == 0 {
		return slots
	}
	byStaff := map[string][]Interval{}
	var global []Interval
	for _, b := range blackouts {
		iv := Interval{Start: b.Start, End: b.End}
		if b.StaffID == "" {
			global = append(global, iv)
			continue
		}
		byStaff[b.StaffID] = append(byStaff[b.StaffID], iv)
	}
	return filter(slots, func(s model.Slot) bool {
		return !overlapsAny(s.Start, s.End, global) && !overlapsAny(s.Start, s.End, byStaff[s.StaffID])
	})
}

// WithoutBusy drops slots overlapping an active booking of the same staff member.
// Bookings in terminal states are ignored even if the caller passes them in.
func WithoutBusy(slots []model.Slot, bookings []model.Booking) []model.Slot {
	if len(bookings) == 0 {
		return slots
	}
	busy := map[string][]Interval{}
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		busy[b.StaffID] = append(busy[b.StaffID], Interval{Start: b.Start, End: b.End})
	}
	return filter(slots, func(s model.Slot) bool {
		return !overlapsAny(s.Start, s.End, busy[s.StaffID])
	})
}

// SortSlots orders by start, then staff id.
func SortSlots(slots []model.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].StaffID < slots[j].StaffID
	})
}

func filter(slots []model.Slot, keep func(model.Slot) bool) []model.Slot {
	out := slots[:0]
	for _, s := range slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
