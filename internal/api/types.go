package api

import (
	"encoding/json"
	"time"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/reminder"
)

type CreateAppointmentRequest struct {
	PatientID       string    `json:"patient_id"`
	PractitionerID  string    `json:"practitioner_id,omitempty"`
	DepartmentID    string    `json:"department_id"`
	HospitalID      string    `json:"hospital_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

func (r CreateAppointmentRequest) toBooking() appointment.BookingRequest {
	return appointment.BookingRequest{
		PatientID:       r.PatientID,
		PractitionerID:  r.PractitionerID,
		DepartmentID:    r.DepartmentID,
		HospitalID:      r.HospitalID,
		ScheduledAt:     r.ScheduledAt,
		DurationMinutes: r.DurationMinutes,
		Priority:        appointment.Priority(r.Priority),
		Reason:          r.Reason,
		Notes:           r.Notes,
	}
}

// TransitionRequest is the body of confirm, start, complete and no-show.
type TransitionRequest struct {
	ActorID string `json:"actor_id"`
}

type CancelAppointmentRequest struct {
	Actor   string `json:"actor"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 string     `json:"id"`
	PatientID          string     `json:"patient_id"`
	PractitionerID     string     `json:"practitioner_id,omitempty"`
	DepartmentID       string     `json:"department_id"`
	HospitalID         string     `json:"hospital_id"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority"`
	ApprovedBy         string     `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ReassignedFrom     string     `json:"reassigned_from,omitempty"`
	Reassigned         bool       `json:"reassigned,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		PractitionerID:     a.PractitionerID,
		DepartmentID:       a.DepartmentID,
		HospitalID:         a.HospitalID,
		ScheduledAt:        a.ScheduledAt,
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		Priority:           string(a.Priority),
		ApprovedBy:         a.ApprovedBy,
		ApprovedAt:         a.ApprovedAt,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		CancelledAt:        a.CancelledAt,
		CompletedAt:        a.CompletedAt,
		ReassignedFrom:     a.ReassignedFrom,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type ReminderResponse struct {
	ID          string     `json:"id"`
	Channel     string     `json:"channel"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

func toReminderResponse(r reminder.Reminder) ReminderResponse {
	return ReminderResponse{
		ID:          r.ID.String(),
		Channel:     string(r.Channel),
		ScheduledAt: r.ScheduledAt,
		Status:      string(r.Status),
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		NextRetryAt: r.NextRetryAt,
		LastError:   r.LastError,
		SentAt:      r.SentAt,
	}
}

type EventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEventResponse(ev appointment.EventLog) EventResponse {
	return EventResponse{
		ID:        ev.ID,
		Type:      ev.EventType,
		Payload:   json.RawMessage(ev.Payload),
		CreatedAt: ev.CreatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
