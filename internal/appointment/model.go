package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// Occupying reports whether an appointment in this status holds its
// practitioner's time.
func (s AppointmentStatus) Occupying() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	return s.Occupying() || s.Terminal()
}

// OccupyingStatuses is the set counted by conflict detection.
var OccupyingStatuses = []AppointmentStatus{StatusPending, StatusConfirmed, StatusInProgress}

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// Availability is a practitioner's weekly template.
type Availability struct {
	WorkingDays []string // "Monday", "mon", "MON" ...
	StartTime   string   // "09:00"; empty means no hours configured
	EndTime     string   // "17:00"
	SlotMinutes int
	MaxPerDay   int // 0 means unlimited
}

type Practitioner struct {
	ID           string
	Name         string
	DepartmentID string
	HospitalID   string
	Contact      string
	Active       bool
	Availability Availability
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Appointment struct {
	ID              string
	PatientID       string
	PractitionerID  string // empty until assigned
	DepartmentID    string
	HospitalID      string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Priority        Priority

	Reason string
	Notes  string

	ApprovedBy         string
	ApprovedAt         *time.Time
	CancellationReason string
	CancelledBy        string
	ReassignedFrom     string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// NewAppointmentID returns an external id of the form APT-XXXXXXXX.
func NewAppointmentID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "APT-" + strings.ToUpper(raw[:8])
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *string
	Payload       []byte
	CreatedAt     time.Time
}

// DayWindow is one calendar day in the reference zone, [Start, End).
type DayWindow struct {
	Start time.Time
	End   time.Time
}

func dayWindow(at time.Time, loc *time.Location) DayWindow {
	local := at.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DayWindow{Start: start, End: start.AddDate(0, 0, 1)}
}
