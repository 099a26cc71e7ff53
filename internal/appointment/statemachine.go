package appointment

import (
	"fmt"
	"strings"
	"time"
)

// transitions is the complete set of legal status changes. Reassignment
// back to pending is not a status transition; see Reassign.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Actor identifies who requested a transition.
type Actor string

const (
	ActorPatient      Actor = "patient"
	ActorPractitioner Actor = "practitioner"
	ActorStaff        Actor = "staff"
	ActorSystem       Actor = "system"
)

type TransitionInput struct {
	Actor   Actor
	ActorID string
	Reason  string
	Now     time.Time
}

type EffectKind string

const (
	EffectCancelReminders    EffectKind = "cancel_reminders"
	EffectNotifyPatient      EffectKind = "notify_patient"
	EffectNotifyPractitioner EffectKind = "notify_practitioner"
	EffectRecordEvent        EffectKind = "record_event"
)

// Effect is an intent produced by a transition. The caller carries it out
// after the new state is persisted.
type Effect struct {
	Kind  EffectKind
	Topic string // notification topic or event type
}

const (
	TopicBooked     = "booked"
	TopicConfirmed  = "confirmed"
	TopicStarted    = "started"
	TopicCompleted  = "completed"
	TopicCancelled  = "cancelled"
	TopicNoShow     = "no_show"
	TopicReassigned = "reassigned"
)

const (
	EventAppointmentBooked     = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed  = "APPOINTMENT_CONFIRMED"
	EventAppointmentStarted    = "APPOINTMENT_STARTED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow     = "APPOINTMENT_NO_SHOW"
	EventAppointmentReassigned = "APPOINTMENT_REASSIGNED"
)

// Transition validates and applies a status change to appt, stamping the
// entry fields of the new state. On error appt is left untouched.
func Transition(appt *Appointment, to AppointmentStatus, in TransitionInput) ([]Effect, error) {
	from := appt.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := in.Now
	var effects []Effect

	switch to {
	case StatusConfirmed:
		appt.ApprovedBy = in.ActorID
		appt.ApprovedAt = &now
		effects = []Effect{
			{Kind: EffectNotifyPatient, Topic: TopicConfirmed},
			{Kind: EffectRecordEvent, Topic: EventAppointmentConfirmed},
		}

	case StatusInProgress:
		effects = []Effect{
			{Kind: EffectRecordEvent, Topic: EventAppointmentStarted},
		}

	case StatusCancelled:
		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			return nil, ErrReasonRequired
		}
		appt.CancellationReason = reason
		appt.CancelledBy = string(in.Actor)
		appt.CancelledAt = &now
		effects = []Effect{
			{Kind: EffectCancelReminders},
			{Kind: EffectNotifyPatient, Topic: TopicCancelled},
			{Kind: EffectRecordEvent, Topic: EventAppointmentCancelled},
		}
		if appt.PractitionerID != "" && in.Actor != ActorPractitioner {
			effects = append(effects, Effect{Kind: EffectNotifyPractitioner, Topic: TopicCancelled})
		}

	case StatusCompleted:
		appt.CompletedAt = &now
		effects = []Effect{
			{Kind: EffectCancelReminders},
			{Kind: EffectRecordEvent, Topic: EventAppointmentCompleted},
		}

	case StatusNoShow:
		if !now.After(appt.ScheduledAt) {
			return nil, fmt.Errorf("%w: scheduled %s", ErrTooEarlyForNoShow, appt.ScheduledAt.Format(time.RFC3339))
		}
		effects = []Effect{
			{Kind: EffectCancelReminders},
			{Kind: EffectNotifyPatient, Topic: TopicNoShow},
			{Kind: EffectRecordEvent, Topic: EventAppointmentNoShow},
		}
	}

	appt.Status = to
	appt.UpdatedAt = now
	return effects, nil
}

// Reassign hands appt to another practitioner after the current one
// cancelled. The appointment returns to pending so the new practitioner can
// accept it; the slot and reminders are kept.
func Reassign(appt *Appointment, to Practitioner, in TransitionInput) ([]Effect, error) {
	if !CanTransition(appt.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot reassign from %s", ErrInvalidTransition, appt.Status)
	}
	if to.ID == "" || to.ID == appt.PractitionerID {
		return nil, fmt.Errorf("%w: reassignment target must differ from current practitioner", ErrInvalidRequest)
	}

	appt.ReassignedFrom = appt.PractitionerID
	appt.PractitionerID = to.ID
	appt.Status = StatusPending
	appt.ApprovedBy = ""
	appt.ApprovedAt = nil
	appt.UpdatedAt = in.Now

	return []Effect{
		{Kind: EffectNotifyPatient, Topic: TopicReassigned},
		{Kind: EffectNotifyPractitioner, Topic: TopicReassigned},
		{Kind: EffectRecordEvent, Topic: EventAppointmentReassigned},
	}, nil
}
