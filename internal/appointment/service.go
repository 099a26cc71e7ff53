package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/clock"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/telemetry"
)

// ReminderScheduler owns reminder rows for appointments.
type ReminderScheduler interface {
	ScheduleAppointment(ctx context.Context, appointmentID, recipient string, at time.Time) error
	CancelAppointment(ctx context.Context, appointmentID string) error
}

// Notifier delivers messages without blocking the caller.
type Notifier interface {
	Go(ctx context.Context, msgs ...notify.Message)
}

type ServiceOptions struct {
	Location            *time.Location
	NotificationChannel notify.Channel
	Metrics             *telemetry.Metrics
}

// Service drives appointments through their lifecycle and carries out the
// effects each step produces.
type Service struct {
	repo        Repository
	coordinator *Coordinator
	resolver    *Resolver
	reminders   ReminderScheduler
	notifier    Notifier
	clock       clock.Clock
	loc         *time.Location
	channel     notify.Channel
	metrics     *telemetry.Metrics
}

func NewService(repo Repository, coordinator *Coordinator, reminders ReminderScheduler, notifier Notifier, clk clock.Clock, opts ServiceOptions) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.NotificationChannel == "" {
		opts.NotificationChannel = notify.ChannelEmail
	}
	return &Service{
		repo:        repo,
		coordinator: coordinator,
		resolver:    NewResolver(coordinator),
		reminders:   reminders,
		notifier:    notifier,
		clock:       clk,
		loc:         opts.Location,
		channel:     opts.NotificationChannel,
		metrics:     opts.Metrics,
	}
}

// Book creates a pending appointment, schedules its reminders and notifies
// the patient and practitioner. Only the booking itself can fail the call.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.coordinator.Book(ctx, req)
	if err != nil {
		return nil, err
	}

	log := zerolog.Ctx(ctx)

	if s.reminders != nil {
		if err := s.reminders.ScheduleAppointment(ctx, appt.ID, appt.PatientID, appt.ScheduledAt); err != nil {
			log.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to schedule reminders")
		}
	}

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"patient_id":      appt.PatientID,
		"practitioner_id": appt.PractitionerID,
		"scheduled_at":    appt.ScheduledAt,
		"duration":        appt.DurationMinutes,
		"priority":        appt.Priority,
		"requested":       req.PractitionerID,
	})

	s.notify(ctx, appt, []Effect{
		{Kind: EffectNotifyPatient, Topic: TopicBooked},
		{Kind: EffectNotifyPractitioner, Topic: TopicBooked},
	})

	return appt, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// History returns the appointment's event log, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]EventLog, error) {
	if _, err := s.repo.GetAppointment(ctx, id); err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Confirm moves a pending appointment to confirmed, stamping the approver.
func (s *Service) Confirm(ctx context.Context, id, approverID string) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, TransitionInput{Actor: ActorPractitioner, ActorID: approverID})
}

func (s *Service) Start(ctx context.Context, id, actorID string) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, TransitionInput{Actor: ActorPractitioner, ActorID: actorID})
}

func (s *Service) Complete(ctx context.Context, id, actorID string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, TransitionInput{Actor: ActorPractitioner, ActorID: actorID})
}

func (s *Service) MarkNoShow(ctx context.Context, id, actorID string) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, TransitionInput{Actor: ActorStaff, ActorID: actorID})
}

type CancelRequest struct {
	Actor   Actor
	ActorID string
	Reason  string
}

// CancelResult reports whether the cancellation ended in a reassignment.
type CancelResult struct {
	Appointment *Appointment
	Reassigned  bool
}

// Cancel cancels an appointment. When the assigned practitioner cancels with
// a reason, a free peer at the same instant takes the appointment over
// instead and it goes back to pending.
func (s *Service) Cancel(ctx context.Context, id string, req CancelRequest) (*CancelResult, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	in := TransitionInput{Actor: req.Actor, ActorID: req.ActorID, Reason: req.Reason, Now: s.clock.Now()}

	if s.reassignable(appt, in) {
		reassigned, err := s.tryReassign(ctx, appt, in)
		if err != nil {
			return nil, err
		}
		if reassigned {
			return &CancelResult{Appointment: appt, Reassigned: true}, nil
		}
	}

	updated, err := s.apply(ctx, appt, StatusCancelled, in)
	if err != nil {
		return nil, err
	}
	return &CancelResult{Appointment: updated}, nil
}

func (s *Service) reassignable(appt *Appointment, in TransitionInput) bool {
	return in.Actor == ActorPractitioner &&
		in.Reason != "" &&
		appt.PractitionerID != "" &&
		in.ActorID == appt.PractitionerID &&
		CanTransition(appt.Status, StatusCancelled)
}

// tryReassign returns true once the appointment has been handed to a peer.
// Resolver failures fall through to ordinary cancellation.
func (s *Service) tryReassign(ctx context.Context, appt *Appointment, in TransitionInput) (bool, error) {
	log := zerolog.Ctx(ctx)

	peer, effects, err := s.resolver.Resolve(ctx, appt, in)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return false, err
		}
		log.Warn().Err(err).Str("appointment_id", appt.ID).Msg("reassignment failed, cancelling instead")
		s.metrics.RecordReassignment(ctx, false)
		return false, nil
	}
	if peer == nil {
		s.metrics.RecordReassignment(ctx, false)
		return false, nil
	}

	s.metrics.RecordReassignment(ctx, true)
	s.runEffects(ctx, appt, effects, map[string]any{
		"from_practitioner": appt.ReassignedFrom,
		"to_practitioner":   peer.ID,
		"reason":            in.Reason,
	})
	return true, nil
}

func (s *Service) transition(ctx context.Context, id string, to AppointmentStatus, in TransitionInput) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	in.Now = s.clock.Now()
	return s.apply(ctx, appt, to, in)
}

func (s *Service) apply(ctx context.Context, appt *Appointment, to AppointmentStatus, in TransitionInput) (*Appointment, error) {
	from := appt.Status
	next := *appt

	effects, err := Transition(&next, to, in)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, &next, from); err != nil {
		return nil, fmt.Errorf("save appointment: %w", err)
	}

	s.metrics.RecordTransition(ctx, string(from), string(to))
	s.runEffects(ctx, &next, effects, map[string]any{
		"from":   from,
		"to":     to,
		"actor":  in.Actor,
		"reason": in.Reason,
	})

	*appt = next
	return appt, nil
}

// runEffects carries out transition intents after the state is persisted.
// None of them can undo the transition.
func (s *Service) runEffects(ctx context.Context, appt *Appointment, effects []Effect, payload map[string]any) {
	log := zerolog.Ctx(ctx)

	for _, e := range effects {
		switch e.Kind {
		case EffectCancelReminders:
			if s.reminders == nil {
				continue
			}
			if err := s.reminders.CancelAppointment(ctx, appt.ID); err != nil {
				log.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to cancel reminders")
			}
		case EffectRecordEvent:
			s.logEvent(ctx, appt.ID, e.Topic, payload)
		}
	}

	s.notify(ctx, appt, effects)
}

func (s *Service) notify(ctx context.Context, appt *Appointment, effects []Effect) {
	if s.notifier == nil {
		return
	}
	if msgs := messagesFor(appt, effects, s.channel, s.loc); len(msgs) > 0 {
		s.notifier.Go(ctx, msgs...)
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID string, eventType string, payload map[string]any) {
	log := zerolog.Ctx(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}
