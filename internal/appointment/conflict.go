package appointment

import (
	"fmt"
	"strings"
	"time"
)

type ConflictResult struct {
	HasConflict bool
	IDs         []string
}

// DetectConflicts tests the candidate [start, start+dur) against existing
// appointments. Each existing appointment is measured with its own
// duration; only occupying statuses count.
func DetectConflicts(existing []Appointment, start time.Time, dur time.Duration) ConflictResult {
	end := start.Add(dur)

	var res ConflictResult
	for i := range existing {
		e := &existing[i]
		if !e.Status.Occupying() {
			continue
		}
		// e.start in [start - e.duration, end)
		if !e.ScheduledAt.Before(start.Add(-e.Duration())) && e.ScheduledAt.Before(end) {
			res.HasConflict = true
			res.IDs = append(res.IDs, e.ID)
		}
	}
	return res
}

// Guard re-validates a booking against the practitioner's live occupying
// appointments for the day. Repositories call it inside the booking
// transaction.
type Guard func(existing []Appointment) error

// slotGuard rejects overlaps and, when maxPerDay > 0, full days.
func slotGuard(start time.Time, dur time.Duration, maxPerDay int) Guard {
	return func(existing []Appointment) error {
		if res := DetectConflicts(existing, start, dur); res.HasConflict {
			return fmt.Errorf("%w: %s", ErrConflict, strings.Join(res.IDs, ","))
		}
		if maxPerDay > 0 {
			occupying := 0
			for i := range existing {
				if existing[i].Status.Occupying() {
					occupying++
				}
			}
			if occupying >= maxPerDay {
				return fmt.Errorf("%w: %d of %d", ErrDayFull, occupying, maxPerDay)
			}
		}
		return nil
	}
}
