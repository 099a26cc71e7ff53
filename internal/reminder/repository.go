package reminder

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, rs []Reminder) error
	ExistsFor(ctx context.Context, appointmentID string) (bool, error)
	ListByAppointment(ctx context.Context, appointmentID string) ([]Reminder, error)

	// CancelFor moves the appointment's pending and failed reminders to
	// cancelled and returns how many changed.
	CancelFor(ctx context.Context, appointmentID string, now time.Time) (int64, error)

	// ClaimDue leases up to limit due reminders to the caller and stamps
	// each with its LeaseUntil. A leased reminder is not returned again
	// until the lease runs out.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Reminder, error)

	// SaveResult stores a dispatch outcome if r is still pending under the
	// lease it was claimed with. It reports false when the reminder was
	// cancelled or re-claimed in the meantime.
	SaveResult(ctx context.Context, r *Reminder) (bool, error)
}
