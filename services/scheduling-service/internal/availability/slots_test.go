package availability

import (
	"testing"
	"time"

	"github.com/bookline/bookline/services/scheduling-service/internal/model"
)

func TestCandidates_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	slots := Candidates("staff-1", windowStart, windowEnd, 30*time.Minute, 15*time.Minute)
	// 09:00, 09:15, 09:30; 09:45 would end at 10:15.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	last := slots[len(slots)-1]
	if !last.Start.Equal(day.Add(9*time.Hour+30*time.Minute)) || !last.End.Equal(windowEnd) {
		t.Fatalf("expected last slot 09:30-10:00, got %s-%s", last.Start.Format(time.RFC3339), last.End.Format(time.RFC3339))
	}
	for _, s := range slots {
		if s.StaffID != "staff-1" {
			t.Fatalf("slot not tagged with staff: %+v", s)
		}
	}
}

func TestCandidates_DegenerateWindows(t *testing.T) {
	day := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	if got := Candidates("s", day, day, 15*time.Minute, 15*time.Minute); len(got) != 0 {
		t.Fatalf("empty window produced %d slots", len(got))
	}
	if got := Candidates("s", day, day.Add(-time.Hour), 15*time.Minute, 15*time.Minute); len(got) != 0 {
		t.Fatalf("inverted window produced %d slots", len(got))
	}
	if got := Candidates("s", day, day.Add(time.Hour), 0, 15*time.Minute); len(got) != 0 {
		t.Fatalf("zero duration produced %d slots", len(got))
	}
	if got := Candidates("s", day, day.Add(30*time.Minute), time.Hour, 15*time.Minute); len(got) != 0 {
		t.Fatalf("service longer than window produced %d slots", len(got))
	}
}

func TestNotBefore_KeepsExactCutoff(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	slots := Candidates("s", day.Add(9*time.Hour), day.Add(10*time.Hour), 15*time.Minute, 15*time.Minute)

	cutoff := day.Add(9*time.Hour + 30*time.Minute)
	got := NotBefore(slots, cutoff)
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}
	if !got[0].Start.Equal(cutoff) {
		t.Fatalf("expected first slot at cutoff, got %s", got[0].Start.Format(time.RFC3339))
	}
}

func TestWithoutBusy_IgnoresTerminalBookings(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	slots := Candidates("s1", day.Add(9*time.Hour), day.Add(10*time.Hour), 15*time.Minute, 15*time.Minute)

	bookings := []model.Booking{
		{StaffID: "s1", Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute), Status: model.StatusPending},
		{StaffID: "s1", Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 15*time.Minute), Status: model.StatusCancelled},
		{StaffID: "s2", Start: day.Add(9*time.Hour + 45*time.Minute), End: day.Add(10 * time.Hour), Status: model.StatusScheduled},
	}
	got := WithoutBusy(slots, bookings)
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}
	if !got[0].Start.Equal(day.Add(9*time.Hour)) || !got[1].Start.Equal(day.Add(9*time.Hour+45*time.Minute)) {
		t.Fatalf("unexpected slots %s, %s", got[0].Start.Format(time.RFC3339), got[1].Start.Format(time.RFC3339))
	}
}

func TestWithoutBlackouts_GlobalAndStaffSpecific(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	slots := append(
		Candidates("a", day.Add(9*time.Hour), day.Add(10*time.Hour), 30*time.Minute, 30*time.Minute),
		Candidates("b", day.Add(9*time.Hour), day.Add(10*time.Hour), 30*time.Minute, 30*time.Minute)...,
	)
	blackouts := []model.BlackoutWindow{
		// Ends exactly when the 09:30 slots start: they survive.
		{Start: day.Add(8 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute)},
		{StaffID: "b", Start: day.Add(9*time.Hour + 45*time.Minute), End: day.Add(11 * time.Hour)},
	}
	got := WithoutBlackouts(slots, blackouts)
	if len(got) != 1 || got[0].StaffID != "a" || !got[0].Start.Equal(day.Add(9*time.Hour+30*time.Minute)) {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestSortSlots(t *testing.T) {
	day := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	slots := []model.Slot{
		{StaffID: "b", Start: day.Add(15 * time.Minute)},
		{StaffID: "b", Start: day},
		{StaffID: "a", Start: day.Add(15 * time.Minute)},
		{StaffID: "a", Start: day},
	}
	SortSlots(slots)
	want := []string{"a", "b", "a", "b"}
	for i, s := range slots {
		if s.StaffID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], s.StaffID)
		}
		if i > 0 && s.Start.Before(slots[i-1].Start) {
			t.Fatal("slots not sorted by start")
		}
	}
}

func TestAlignUp(t *testing.T) {
	cases := map[int]int{0: 0, 540: 540, 550: 555, 554: 555, 1439: 1440}
	for in, want := range cases {
		if got := alignUp(in); got != want {
			t.Fatalf("alignUp(%d) = %d, want %d", in, got, want)
		}
	}
}
