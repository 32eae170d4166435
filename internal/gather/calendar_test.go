package gather

import (
	"testing"
	"time"
)

func TestDeriveHolidays(t *testing.T) {
	// Week of 2024-07-01: July 4th (Thursday) closed, other weekdays open.
	sessions := map[string]bool{
		"2024-07-01": true,
		"2024-07-02": true,
		"2024-07-03": true,
		"2024-07-05": true,
	}
	span := DateRange{
		Start: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC),
	}

	holidays := deriveHolidays(sessions, span)
	if len(holidays) != 1 {
		t.Fatalf("got %d holidays, want 1: %v", len(holidays), holidays)
	}
	want := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	if !holidays[0].Equal(want) {
		t.Errorf("holiday = %v, want %v", holidays[0], want)
	}
}

func TestDeriveHolidaysSkipsWeekends(t *testing.T) {
	span := DateRange{
		Start: time.Date(2024, 7, 6, 0, 0, 0, 0, time.UTC), // Saturday
		End:   time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC), // Sunday
	}
	if holidays := deriveHolidays(map[string]bool{}, span); len(holidays) != 0 {
		t.Errorf("weekends should never be holidays, got %v", holidays)
	}
}
