package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"paybybot/internal/parking"
)

// Units accepted by Every.
const (
	UnitMinute = "minute"
	UnitHour   = "hour"
	UnitDay    = "day"
	UnitWeek   = "week"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Every fires every N units. When Anchored, the first firing lands on the
// next wall-clock occurrence of the anchor and later ones N units apart.
//
// Every implements cron.Schedule: Next always returns a time strictly after t.
type Every struct {
	N    int
	Unit string

	Anchored bool
	Hour     int
	Minute   int
	Second   int

	Weekday    time.Weekday
	HasWeekday bool

	Loc *time.Location
}

var _ cron.Schedule = Every{}

func (e Every) Next(t time.Time) time.Time {
	loc := e.Loc
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	n := e.N
	if n < 1 {
		n = 1
	}

	if !e.Anchored && !e.HasWeekday {
		switch e.Unit {
		case UnitMinute:
			return t.Add(time.Duration(n) * time.Minute)
		case UnitHour:
			return t.Add(time.Duration(n) * time.Hour)
		case UnitWeek:
			return t.AddDate(0, 0, 7*n)
		default:
			return t.AddDate(0, 0, n)
		}
	}

	switch e.Unit {
	case UnitMinute:
		next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), e.Second, 0, loc)
		if !next.After(t) {
			next = next.Add(time.Minute)
		}
		return next.Add(time.Duration(n-1) * time.Minute)
	case UnitHour:
		next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), e.Minute, e.Second, 0, loc)
		if !next.After(t) {
			next = next.Add(time.Hour)
		}
		return next.Add(time.Duration(n-1) * time.Hour)
	case UnitWeek:
		next := time.Date(t.Year(), t.Month(), t.Day(), e.Hour, e.Minute, e.Second, 0, loc)
		days := (int(e.Weekday) - int(t.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(t) {
			next = next.AddDate(0, 0, 7)
		}
		return next.AddDate(0, 0, 7*(n-1))
	default:
		next := time.Date(t.Year(), t.Month(), t.Day(), e.Hour, e.Minute, e.Second, 0, loc)
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next.AddDate(0, 0, n-1)
	}
}

func (e Every) String() string {
	s := fmt.Sprintf("every %d %s", e.N, e.Unit)
	if e.HasWeekday {
		s += " on " + e.Weekday.String()
	}
	if e.Anchored {
		s += fmt.Sprintf(" at %02d:%02d:%02d", e.Hour, e.Minute, e.Second)
	}
	return s
}

var (
	reDayAt    = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)(?::([0-5]\d))?$`)
	reHourAt   = regexp.MustCompile(`^([0-5]\d)?:([0-5]\d)$`)
	reMinuteAt = regexp.MustCompile(`^:([0-5]\d)$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ParseWeekday accepts full or three-letter English names.
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if d, ok := weekdays[s]; ok {
		return d, nil
	}
	if len(s) == 3 {
		for name, d := range weekdays {
			if strings.HasPrefix(name, s) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", raw)
}

// ParseRule builds the recurrence rule for a check cadence, evaluated in loc.
// A cron expression wins over the unit form.
func ParseRule(c parking.Cadence, loc *time.Location) (cron.Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	if expr := strings.TrimSpace(c.Cron); expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %w", expr, err)
		}
		if spec, ok := sched.(*cron.SpecSchedule); ok && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
			spec.Location = loc
		}
		return sched, nil
	}

	e := Every{N: c.Every, Unit: strings.ToLower(strings.TrimSpace(c.Unit)), Loc: loc}
	switch e.Unit {
	case UnitMinute, UnitHour, UnitDay, UnitWeek:
	case "":
		return nil, errors.New("unit or cron required")
	default:
		return nil, fmt.Errorf("invalid unit %q (use minute, hour, day or week)", c.Unit)
	}
	if c.Every < 1 {
		return nil, fmt.Errorf("every must be >= 1, got %d", c.Every)
	}

	if wd := strings.TrimSpace(c.Weekday); wd != "" {
		if e.Unit != UnitWeek {
			return nil, fmt.Errorf("weekday requires unit week, got %q", e.Unit)
		}
		d, err := ParseWeekday(wd)
		if err != nil {
			return nil, err
		}
		e.Weekday, e.HasWeekday = d, true
	}

	if at := strings.TrimSpace(c.At); at != "" {
		if err := e.parseAt(at); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Every) parseAt(at string) error {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	switch e.Unit {
	case UnitDay, UnitWeek:
		if e.Unit == UnitWeek && !e.HasWeekday {
			return fmt.Errorf("at %q on unit week requires a weekday", at)
		}
		m := reDayAt.FindStringSubmatch(at)
		if m == nil {
			return fmt.Errorf("invalid at %q for unit %s (use HH:MM or HH:MM:SS)", at, e.Unit)
		}
		e.Hour, e.Minute, e.Second = atoi(m[1]), atoi(m[2]), atoi(m[3])
	case UnitHour:
		m := reHourAt.FindStringSubmatch(at)
		if m == nil {
			return fmt.Errorf("invalid at %q for unit hour (use :MM or MM:SS)", at)
		}
		if m[1] == "" {
			e.Minute = atoi(m[2])
		} else {
			e.Minute, e.Second = atoi(m[1]), atoi(m[2])
		}
	case UnitMinute:
		m := reMinuteAt.FindStringSubmatch(at)
		if m == nil {
			return fmt.Errorf("invalid at %q for unit minute (use :SS)", at)
		}
		e.Second = atoi(m[1])
	}
	e.Anchored = true
	return nil
}
