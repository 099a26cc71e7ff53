package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Evaluator answers whether a practitioner is theoretically available at an
// instant, judged in a single reference zone.
type Evaluator struct {
	loc *time.Location
}

func NewEvaluator(loc *time.Location) Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return Evaluator{loc: loc}
}

func (e Evaluator) Location() *time.Location {
	if e.loc == nil {
		return time.UTC
	}
	return e.loc
}

// Check returns true when at falls on a working day and inside working
// hours. The returned error is ErrNotWorkingDay or ErrOutsideHours.
// A template without hours accepts any time on a working day.
func (e Evaluator) Check(av Availability, at time.Time) (bool, error) {
	local := at.In(e.Location())

	if !worksOn(av.WorkingDays, local.Weekday()) {
		return false, fmt.Errorf("%w: %s", ErrNotWorkingDay, local.Weekday())
	}

	if strings.TrimSpace(av.StartTime) == "" || strings.TrimSpace(av.EndTime) == "" {
		return true, nil
	}

	start, err := parseTimeOfDay(av.StartTime)
	if err != nil {
		return false, fmt.Errorf("%w: bad start time: %v", ErrOutsideHours, err)
	}
	end, err := parseTimeOfDay(av.EndTime)
	if err != nil {
		return false, fmt.Errorf("%w: bad end time: %v", ErrOutsideHours, err)
	}

	tod := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	if tod < start || tod > end {
		return false, fmt.Errorf("%w: %s not in %s-%s", ErrOutsideHours, local.Format("15:04"), av.StartTime, av.EndTime)
	}
	return true, nil
}

func worksOn(days []string, wd time.Weekday) bool {
	for _, d := range days {
		if parsed, ok := parseWeekday(d); ok && parsed == wd {
			return true
		}
	}
	return false
}

// parseWeekday accepts full or abbreviated English names in any case, and
// 0-6 with Sunday as 0.
func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 0 && n <= 6 {
			return time.Weekday(n), true
		}
		return 0, false
	}
	if len(s) < 3 {
		return 0, false
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if strings.HasPrefix(name, s) {
			return wd, true
		}
	}
	return 0, false
}

// parseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func parseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("unrecognised time of day %q", s)
}
