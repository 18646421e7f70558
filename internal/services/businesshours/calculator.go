// Package businesshours provides calendar-aware time arithmetic for SLA
// deadlines, wrapping rickar/cal business calendars built from persisted
// weekly schedules.
package businesshours

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/servicedesk-io/sla-engine/internal/models"
)

// Calculator answers elapsed/remaining/deadline questions against a
// BusinessHoursSchedule. Inputs and outputs at the API boundary are UTC
// instants; all internal math happens in the schedule's timezone.
type Calculator struct {
	mu    sync.RWMutex
	cache map[string]*compiledSchedule
}

// NewCalculator creates a calculator with an empty compiled-schedule cache.
func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[string]*compiledSchedule)}
}

type dayWindow struct {
	start   time.Duration
	end     time.Duration
	enabled bool
}

type compiledSchedule struct {
	is24x7   bool
	loc      *time.Location
	calendar *cal.BusinessCalendar
}

// ElapsedMinutes returns the business minutes between from and to.
// Returns zero when to precedes from.
func (c *Calculator) ElapsedMinutes(schedule *models.BusinessHoursSchedule, from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, nil
	}
	cs, err := c.compiled(schedule)
	if err != nil {
		return 0, err
	}
	if cs.is24x7 {
		return int(to.Sub(from).Minutes()), nil
	}
	elapsed := cs.calendar.WorkHoursInRange(from.In(cs.loc), to.In(cs.loc))
	return int(elapsed.Minutes()), nil
}

// AddMinutes returns the instant that lies the given number of business
// minutes after start. It is the algebraic inverse of ElapsedMinutes.
func (c *Calculator) AddMinutes(schedule *models.BusinessHoursSchedule, start time.Time, minutes int) (time.Time, error) {
	cs, err := c.compiled(schedule)
	if err != nil {
		return time.Time{}, err
	}
	if cs.is24x7 {
		return start.Add(time.Duration(minutes) * time.Minute).UTC(), nil
	}
	if minutes <= 0 {
		return start.UTC(), nil
	}
	result := cs.calendar.AddWorkHours(start.In(cs.loc), time.Duration(minutes)*time.Minute)
	return result.UTC(), nil
}

// RemainingMinutes returns the business minutes between now and deadline,
// negative once the deadline has passed.
func (c *Calculator) RemainingMinutes(schedule *models.BusinessHoursSchedule, now, deadline time.Time) (int, error) {
	if now.After(deadline) {
		overdue, err := c.ElapsedMinutes(schedule, deadline, now)
		return -overdue, err
	}
	return c.ElapsedMinutes(schedule, now, deadline)
}

// IsWorkTime reports whether t falls inside the schedule's enabled window.
func (c *Calculator) IsWorkTime(schedule *models.BusinessHoursSchedule, t time.Time) (bool, error) {
	cs, err := c.compiled(schedule)
	if err != nil {
		return false, err
	}
	if cs.is24x7 {
		return true, nil
	}
	return cs.calendar.IsWorkTime(t.In(cs.loc)), nil
}

func (c *Calculator) compiled(schedule *models.BusinessHoursSchedule) (*compiledSchedule, error) {
	if schedule == nil || schedule.Is24x7 {
		return &compiledSchedule{is24x7: true}, nil
	}

	key := fmt.Sprintf("%d|%d", schedule.ID, schedule.UpdatedAt.UnixNano())
	if schedule.ID != 0 {
		c.mu.RLock()
		cached, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	cs, err := compile(schedule)
	if err != nil {
		return nil, err
	}

	if schedule.ID != 0 {
		c.mu.Lock()
		c.cache[key] = cs
		c.mu.Unlock()
	}
	return cs, nil
}

func compile(schedule *models.BusinessHoursSchedule) (*compiledSchedule, error) {
	tz := schedule.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule %d timezone %q: %w", schedule.ID, tz, models.ErrConfiguration)
	}

	windows := make(map[time.Weekday]dayWindow, 7)
	weeklyMinutes := 0
	for _, entry := range schedule.Entries {
		if !entry.IsEnabled {
			continue
		}
		start, err := parseClock(entry.StartTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %d %s start %q: %w", schedule.ID, entry.DayOfWeek, entry.StartTime, models.ErrConfiguration)
		}
		end, err := parseClock(entry.EndTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %d %s end %q: %w", schedule.ID, entry.DayOfWeek, entry.EndTime, models.ErrConfiguration)
		}
		if end <= start {
			return nil, fmt.Errorf("schedule %d %s window %s-%s is empty: %w", schedule.ID, entry.DayOfWeek, entry.StartTime, entry.EndTime, models.ErrConfiguration)
		}
		windows[entry.DayOfWeek] = dayWindow{start: start, end: end, enabled: true}
		weeklyMinutes += int((end - start).Minutes())
	}
	// A schedule with no enabled minutes would make the day-walk in
	// AddWorkHours search forever; refuse it up front.
	if weeklyMinutes == 0 {
		return nil, fmt.Errorf("schedule %d has zero enabled minutes per week: %w", schedule.ID, models.ErrConfiguration)
	}

	recurring := make(map[[2]int]bool)
	oneOff := make(map[[3]int]bool)
	for _, h := range schedule.Holidays {
		y, m, d := h.Date.Date()
		if h.IsRecurring {
			recurring[[2]int{int(m), d}] = true
		} else {
			oneOff[[3]int{y, int(m), d}] = true
		}
	}

	bc := cal.NewBusinessCalendar()
	bc.WorkdayFunc = func(date time.Time) bool {
		w, ok := windows[date.Weekday()]
		if !ok || !w.enabled {
			return false
		}
		y, m, d := date.Date()
		if recurring[[2]int{int(m), d}] || oneOff[[3]int{y, int(m), d}] {
			return false
		}
		return true
	}
	bc.WorkdayStartFunc = func(date time.Time) time.Time {
		w := windows[date.Weekday()]
		y, m, d := date.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(w.start)
	}
	bc.WorkdayEndFunc = func(date time.Time) time.Time {
		w := windows[date.Weekday()]
		y, m, d := date.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, date.Location()).Add(w.end)
	}

	return &compiledSchedule{loc: loc, calendar: bc}, nil
}

// parseClock parses an "HH:MM" wall-clock value into an offset from midnight.
func parseClock(value string) (time.Duration, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("malformed hour in %q", value)
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("malformed minute in %q", value)
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute, nil
}
