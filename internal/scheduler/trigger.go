package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trigger computes the next fire time after a reference instant.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// Every fires on a fixed interval.
func Every(d time.Duration) Trigger { return intervalTrigger{d: d} }

type intervalTrigger struct{ d time.Duration }

func (t intervalTrigger) Next(after time.Time) time.Time { return after.Add(t.d) }
func (t intervalTrigger) String() string                 { return "every " + t.d.String() }

// DailyAt fires once per day at each listed wall-clock time ("HH:MM", UTC).
func DailyAt(times ...string) Trigger { return dailyTrigger{times: parseClocks(times)} }

type clock struct{ hour, minute int }

type dailyTrigger struct{ times []clock }

func (t dailyTrigger) Next(after time.Time) time.Time {
	after = after.UTC()
	best := time.Time{}
	for _, c := range t.times {
		candidate := time.Date(after.Year(), after.Month(), after.Day(), c.hour, c.minute, 0, 0, time.UTC)
		if !candidate.After(after) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if best.IsZero() {
		return after.AddDate(0, 0, 1)
	}
	return best
}

func (t dailyTrigger) String() string {
	parts := make([]string, len(t.times))
	for i, c := range t.times {
		parts[i] = fmt.Sprintf("%02d:%02d", c.hour, c.minute)
	}
	return "daily at " + strings.Join(parts, ",")
}

// WeeklyAt fires once per week at the given weekday and wall-clock time (UTC).
func WeeklyAt(day time.Weekday, at string) Trigger {
	c := parseClock(at)
	return weeklyTrigger{day: day, at: c}
}

// ParseWeekly turns a "Mon 08:00" config expression into a trigger.
func ParseWeekly(expr string) (Trigger, error) {
	fields := strings.Fields(expr)
	if len(fields) != 2 {
		return nil, fmt.Errorf("op=scheduler.ParseWeekly: want %q shape, got %q", "Mon 08:00", expr)
	}
	day, ok := weekdays[strings.ToLower(fields[0])]
	if !ok {
		return nil, fmt.Errorf("op=scheduler.ParseWeekly: unknown weekday %q", fields[0])
	}
	return WeeklyAt(day, fields[1]), nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

type weeklyTrigger struct {
	day time.Weekday
	at  clock
}

func (t weeklyTrigger) Next(after time.Time) time.Time {
	after = after.UTC()
	candidate := time.Date(after.Year(), after.Month(), after.Day(), t.at.hour, t.at.minute, 0, 0, time.UTC)
	daysAhead := (int(t.day) - int(after.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysAhead)
	if !candidate.After(after) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func (t weeklyTrigger) String() string {
	return fmt.Sprintf("weekly %s %02d:%02d", t.day, t.at.hour, t.at.minute)
}

func parseClocks(raw []string) []clock {
	out := make([]clock, 0, len(raw))
	for _, r := range raw {
		out = append(out, parseClock(r))
	}
	return out
}

// parseClock tolerates bad input by falling back to midnight; config
// validation happens at startup, not here.
func parseClock(s string) clock {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return clock{}
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return clock{}
	}
	return clock{hour: h, minute: m}
}
