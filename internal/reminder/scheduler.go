package reminder

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/clock"
	"github.com/hackgods/hospital-scheduling/internal/notify"
)

// Policy decides when reminders go out and how failed sends are retried.
type Policy struct {
	Offsets    []time.Duration
	Channels   []notify.Channel
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

func DefaultPolicy() Policy {
	return Policy{
		Offsets:    []time.Duration{48 * time.Hour, 24 * time.Hour, 2 * time.Hour},
		Channels:   []notify.Channel{notify.ChannelEmail},
		MaxRetries: 3,
		BaseDelay:  5 * time.Minute,
		Multiplier: 3,
	}
}

// Backoff returns the delay before retry n (1-based): base * multiplier^(n-1).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n-1)))
}

// RecordResult folds a dispatch outcome into r.
func (p Policy) RecordResult(r *Reminder, sendErr error, now time.Time) {
	r.UpdatedAt = now

	if sendErr == nil {
		r.Status = StatusSent
		r.SentAt = &now
		r.NextRetryAt = nil
		r.LastError = ""
		return
	}

	r.LastError = sendErr.Error()

	if notify.IsPermanent(sendErr) || r.RetryCount >= r.MaxRetries {
		r.Status = StatusFailed
		r.NextRetryAt = nil
		return
	}

	r.RetryCount++
	next := now.Add(p.Backoff(r.RetryCount))
	r.Status = StatusPending
	r.NextRetryAt = &next
}

// Target is the appointment a set of reminders belongs to.
type Target struct {
	AppointmentID string
	Recipient     string
	ScheduledAt   time.Time
}

type Scheduler struct {
	repo   Repository
	policy Policy
	clock  clock.Clock
}

func NewScheduler(repo Repository, policy Policy, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if len(policy.Channels) == 0 {
		policy.Channels = []notify.Channel{notify.ChannelEmail}
	}
	return &Scheduler{repo: repo, policy: policy, clock: clk}
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Plan builds one pending reminder per offset and channel. Offsets whose
// send time has already passed are left out.
func (s *Scheduler) Plan(t Target, now time.Time) []Reminder {
	var out []Reminder
	for _, off := range s.policy.Offsets {
		at := t.ScheduledAt.Add(-off)
		if at.Before(now) {
			continue
		}
		for _, ch := range s.policy.Channels {
			out = append(out, Reminder{
				ID:            uuid.New(),
				AppointmentID: t.AppointmentID,
				Recipient:     t.Recipient,
				Channel:       ch,
				AppointmentAt: t.ScheduledAt,
				ScheduledAt:   at,
				Status:        StatusPending,
				MaxRetries:    s.policy.MaxRetries,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
	}
	return out
}

// ScheduleFor persists the reminders for t. It does nothing if the
// appointment already has reminders.
func (s *Scheduler) ScheduleFor(ctx context.Context, t Target) ([]Reminder, error) {
	exists, err := s.repo.ExistsFor(ctx, t.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("check reminders: %w", err)
	}
	if exists {
		return nil, nil
	}

	planned := s.Plan(t, s.clock.Now())
	if len(planned) == 0 {
		return nil, nil
	}

	if err := s.repo.Insert(ctx, planned); err != nil {
		return nil, fmt.Errorf("insert reminders: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("appointment_id", t.AppointmentID).
		Int("count", len(planned)).
		Msg("reminders scheduled")

	return planned, nil
}

func (s *Scheduler) ScheduleAppointment(ctx context.Context, appointmentID, recipient string, at time.Time) error {
	_, err := s.ScheduleFor(ctx, Target{AppointmentID: appointmentID, Recipient: recipient, ScheduledAt: at})
	return err
}

// CancelFor cancels every reminder of the appointment that has not been
// sent. Sent reminders are left as they are.
func (s *Scheduler) CancelFor(ctx context.Context, appointmentID string) (int64, error) {
	n, err := s.repo.CancelFor(ctx, appointmentID, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cancel reminders: %w", err)
	}
	zerolog.Ctx(ctx).Debug().
		Str("appointment_id", appointmentID).
		Int64("count", n).
		Msg("reminders cancelled")
	return n, nil
}

func (s *Scheduler) CancelAppointment(ctx context.Context, appointmentID string) error {
	_, err := s.CancelFor(ctx, appointmentID)
	return err
}

func (s *Scheduler) ListFor(ctx context.Context, appointmentID string) ([]Reminder, error) {
	return s.repo.ListByAppointment(ctx, appointmentID)
}
