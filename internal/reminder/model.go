package reminder

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/notify"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

type Reminder struct {
	ID            uuid.UUID
	AppointmentID string
	Recipient     string
	Channel       notify.Channel

	// AppointmentAt is the appointment's start, kept for rendering.
	AppointmentAt time.Time
	ScheduledAt   time.Time

	Status      Status
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	LastError   string
	SentAt      *time.Time

	// LeaseUntil is the claim this copy was handed out under. A result is
	// only stored while the row still carries the same lease.
	LeaseUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue reports whether r should be dispatched at now.
func IsDue(r Reminder, now time.Time) bool {
	if r.Status != StatusPending || now.Before(r.ScheduledAt) {
		return false
	}
	return r.NextRetryAt == nil || !now.Before(*r.NextRetryAt)
}
