package appointment

import (
	"context"
	"errors"
)

var (
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the scheduling core.
type Repository interface {
	// Practitioner directory, in directory order.
	FindPractitioners(ctx context.Context, departmentID, hospitalID string) ([]Practitioner, error)
	GetPractitioner(ctx context.Context, id string) (*Practitioner, error)

	// For conflict checks and load ranking
	FindOccupying(ctx context.Context, practitionerID string, day DayWindow) ([]Appointment, error)
	CountOccupying(ctx context.Context, practitionerIDs []string, day DayWindow) (map[string]int, error)

	GetAppointment(ctx context.Context, id string) (*Appointment, error)

	// Book inserts appt. When guard is non-nil the insert is serialised per
	// practitioner and guard is run against that practitioner's occupying
	// appointments for day, inside the same transaction.
	Book(ctx context.Context, appt *Appointment, day DayWindow, guard Guard) error

	// Save persists appt if its stored status is still from.
	Save(ctx context.Context, appt *Appointment, from AppointmentStatus) error

	// Reassign is Save for a practitioner change: the new practitioner's day
	// is locked and re-validated with guard before the update commits.
	Reassign(ctx context.Context, appt *Appointment, from AppointmentStatus, day DayWindow, guard Guard) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
	ListEvents(ctx context.Context, appointmentID string) ([]EventLog, error)
}
