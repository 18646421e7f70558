package businesshours

import (
	"errors"
	"testing"
	"time"

	"github.com/servicedesk-io/sla-engine/internal/models"
)

// weekdaySchedule builds a Mon-Fri schedule in the given zone.
func weekdaySchedule(tz, start, end string) *models.BusinessHoursSchedule {
	s := &models.BusinessHoursSchedule{Timezone: tz}
	for _, day := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday} {
		s.Entries = append(s.Entries, models.BusinessHoursEntry{
			DayOfWeek: day,
			StartTime: start,
			EndTime:   end,
			IsEnabled: true,
		})
	}
	return s
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestAddMinutesCarriesOverBusinessDays(t *testing.T) {
	calc := NewCalculator()
	schedule := weekdaySchedule("America/New_York", "09:00", "17:00")
	ny := mustLocation(t, "America/New_York")

	tests := []struct {
		name    string
		start   time.Time
		minutes int
		want    time.Time
	}{
		{
			name:    "within one day",
			start:   time.Date(2025, 1, 6, 10, 0, 0, 0, ny), // Monday 10:00
			minutes: 60,
			want:    time.Date(2025, 1, 6, 11, 0, 0, 0, ny),
		},
		{
			name:    "friday afternoon carries into monday",
			start:   time.Date(2025, 1, 10, 16, 30, 0, 0, ny), // Friday 16:30
			minutes: 60,
			want:    time.Date(2025, 1, 13, 9, 30, 0, 0, ny), // Monday 09:30
		},
		{
			name:    "start on weekend rolls to monday open",
			start:   time.Date(2025, 1, 11, 12, 0, 0, 0, ny), // Saturday
			minutes: 60,
			want:    time.Date(2025, 1, 13, 10, 0, 0, 0, ny),
		},
		{
			name:    "spans more than one full day",
			start:   time.Date(2025, 1, 6, 10, 0, 0, 0, ny), // Monday 10:00
			minutes: 600,                                    // 420 left Monday + 180 Tuesday
			want:    time.Date(2025, 1, 7, 12, 0, 0, 0, ny),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.AddMinutes(schedule, tt.start.UTC(), tt.minutes)
			if err != nil {
				t.Fatalf("AddMinutes: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("AddMinutes = %v, want %v", got.In(ny), tt.want)
			}
		})
	}
}

func TestAddMinutes24x7IgnoresCalendar(t *testing.T) {
	calc := NewCalculator()
	schedule := &models.BusinessHoursSchedule{Is24x7: true}

	start := time.Date(2025, 1, 11, 23, 0, 0, 0, time.UTC) // Saturday 23:00
	got, err := calc.AddMinutes(schedule, start, 120)
	if err != nil {
		t.Fatalf("AddMinutes: %v", err)
	}
	want := time.Date(2025, 1, 12, 1, 0, 0, 0, time.UTC) // Sunday 01:00
	if !got.Equal(want) {
		t.Errorf("AddMinutes = %v, want %v", got, want)
	}
}

func TestElapsedRoundTrip(t *testing.T) {
	calc := NewCalculator()
	schedule := weekdaySchedule("America/New_York", "09:00", "17:00")
	ny := mustLocation(t, "America/New_York")

	starts := []time.Time{
		time.Date(2025, 1, 6, 9, 0, 0, 0, ny),   // Monday open
		time.Date(2025, 1, 6, 13, 30, 0, 0, ny), // Monday midday
		time.Date(2025, 1, 10, 16, 59, 0, 0, ny), // Friday last minute
		time.Date(2025, 1, 11, 4, 0, 0, 0, ny),  // Saturday, outside hours
	}
	for _, start := range starts {
		for _, minutes := range []int{0, 1, 30, 60, 480, 961, 2400} {
			deadline, err := calc.AddMinutes(schedule, start.UTC(), minutes)
			if err != nil {
				t.Fatalf("AddMinutes(%v, %d): %v", start, minutes, err)
			}
			elapsed, err := calc.ElapsedMinutes(schedule, start.UTC(), deadline)
			if err != nil {
				t.Fatalf("ElapsedMinutes: %v", err)
			}
			if elapsed != minutes {
				t.Errorf("round trip from %v: added %d, elapsed %d", start, minutes, elapsed)
			}
		}
	}
}

func TestRemainingMinutesMonotonic(t *testing.T) {
	calc := NewCalculator()
	schedule := weekdaySchedule("UTC", "09:00", "17:00")

	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC) // Monday 10:00
	deadline, err := calc.AddMinutes(schedule, start, 480)
	if err != nil {
		t.Fatalf("AddMinutes: %v", err)
	}

	prev, err := calc.RemainingMinutes(schedule, start, deadline)
	if err != nil {
		t.Fatalf("RemainingMinutes: %v", err)
	}
	prevNow := start
	// Walk through the rest of Monday and into Tuesday morning. Remaining
	// must drop by exactly the business minutes elapsed since the previous
	// reading, which means it stays flat overnight.
	for now := start.Add(30 * time.Minute); now.Before(start.Add(26 * time.Hour)); now = now.Add(30 * time.Minute) {
		remaining, err := calc.RemainingMinutes(schedule, now, deadline)
		if err != nil {
			t.Fatalf("RemainingMinutes at %v: %v", now, err)
		}
		step, err := calc.ElapsedMinutes(schedule, prevNow, now)
		if err != nil {
			t.Fatalf("ElapsedMinutes: %v", err)
		}
		if remaining != prev-step {
			t.Fatalf("remaining at %v = %d, want %d (prev %d minus %d elapsed)", now, remaining, prev-step, prev, step)
		}
		prev = remaining
		prevNow = now
	}
}

func TestRemainingMinutesNegativeAfterDeadline(t *testing.T) {
	calc := NewCalculator()
	schedule := weekdaySchedule("UTC", "09:00", "17:00")

	deadline := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC) // Monday noon
	now := time.Date(2025, 1, 6, 14, 30, 0, 0, time.UTC)
	remaining, err := calc.RemainingMinutes(schedule, now, deadline)
	if err != nil {
		t.Fatalf("RemainingMinutes: %v", err)
	}
	if remaining != -150 {
		t.Errorf("remaining = %d, want -150", remaining)
	}
}

func TestHolidaysExcluded(t *testing.T) {
	calc := NewCalculator()
	schedule := weekdaySchedule("UTC", "09:00", "17:00")
	schedule.Holidays = []models.Holiday{
		{Name: "New Year", Date: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), IsRecurring: true},
		{Name: "Company day", Date: time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)}, // Tuesday
	}

	// Monday 16:00 + 120 minutes skips the Tuesday holiday entirely.
	start := time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC)
	got, err := calc.AddMinutes(schedule, start, 120)
	if err != nil {
		t.Fatalf("AddMinutes: %v", err)
	}
	want := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC) // Wednesday 10:00
	if !got.Equal(want) {
		t.Errorf("AddMinutes over holiday = %v, want %v", got, want)
	}

	// Recurring Jan 1 applies in any year: Wednesday 2025-01-01 is off.
	onHoliday, err := calc.IsWorkTime(schedule, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("IsWorkTime: %v", err)
	}
	if onHoliday {
		t.Error("recurring holiday reported as work time")
	}
}

func TestCompileRejectsBadSchedules(t *testing.T) {
	calc := NewCalculator()
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule *models.BusinessHoursSchedule
	}{
		{
			name:     "unknown timezone",
			schedule: weekdaySchedule("Not/AZone", "09:00", "17:00"),
		},
		{
			name:     "zero enabled minutes per week",
			schedule: &models.BusinessHoursSchedule{Timezone: "UTC"},
		},
		{
			name:     "malformed clock value",
			schedule: weekdaySchedule("UTC", "9am", "17:00"),
		},
		{
			name:     "empty window",
			schedule: weekdaySchedule("UTC", "17:00", "09:00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.AddMinutes(tt.schedule, now, 60)
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}
