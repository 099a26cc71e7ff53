package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/clock"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
	"github.com/hackgods/hospital-scheduling/internal/telemetry"
)

type BookingRequest struct {
	PatientID       string
	PractitionerID  string // optional
	DepartmentID    string
	HospitalID      string
	ScheduledAt     time.Time
	DurationMinutes int // 0 uses the practitioner's slot length
	Priority        Priority
	Reason          string
	Notes           string
}

func (r BookingRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.PatientID) == "" {
		missing = append(missing, "patient_id")
	}
	if strings.TrimSpace(r.DepartmentID) == "" {
		missing = append(missing, "department_id")
	}
	if strings.TrimSpace(r.HospitalID) == "" {
		missing = append(missing, "hospital_id")
	}
	if r.ScheduledAt.IsZero() {
		missing = append(missing, "scheduled_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if r.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidRequest)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, r.Priority)
	}
	return nil
}

// reserver runs the availability check and the atomic conflict check for
// one practitioner. Shared by booking and reassignment.
type reserver struct {
	repo   Repository
	locker redisclient.Locker
	eval   Evaluator
}

// lock wraps fn in the distributed practitioner lock when one is
// configured. The repository's transaction is the authoritative guard; the
// Redis lock keeps replicas from piling onto the same practitioner row.
// When Redis is unreachable fn runs under the transaction's lock alone.
func (r reserver) lock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error {
	if r.locker == nil {
		return fn(ctx)
	}
	err := r.locker.WithPractitionerLock(ctx, practitionerID, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return fmt.Errorf("%w: %s", ErrPractitionerBusy, practitionerID)
	case errors.Is(err, redisclient.ErrLockUnavailable):
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("practitioner_id", practitionerID).
			Msg("redis lock unavailable, relying on database lock")
		return fn(ctx)
	}
	return err
}

func (r reserver) book(ctx context.Context, p Practitioner, appt *Appointment) error {
	if !p.Active {
		return fmt.Errorf("%w: %s", ErrInactive, p.ID)
	}
	if _, err := r.eval.Check(p.Availability, appt.ScheduledAt); err != nil {
		return err
	}

	appt.PractitionerID = p.ID
	guard := slotGuard(appt.ScheduledAt, appt.Duration(), p.Availability.MaxPerDay)
	day := dayWindow(appt.ScheduledAt, r.eval.Location())

	err := r.lock(ctx, p.ID, func(lockCtx context.Context) error {
		return r.repo.Book(lockCtx, appt, day, guard)
	})
	if err != nil {
		appt.PractitionerID = ""
		return err
	}
	return nil
}

func (r reserver) reassign(ctx context.Context, p Practitioner, appt *Appointment, in TransitionInput) ([]Effect, error) {
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactive, p.ID)
	}
	if _, err := r.eval.Check(p.Availability, appt.ScheduledAt); err != nil {
		return nil, err
	}

	candidate := *appt
	from := candidate.Status
	effects, err := Reassign(&candidate, p, in)
	if err != nil {
		return nil, err
	}

	guard := slotGuard(candidate.ScheduledAt, candidate.Duration(), p.Availability.MaxPerDay)
	day := dayWindow(candidate.ScheduledAt, r.eval.Location())

	err = r.lock(ctx, p.ID, func(lockCtx context.Context) error {
		return r.repo.Reassign(lockCtx, &candidate, from, day, guard)
	})
	if err != nil {
		return nil, err
	}

	*appt = candidate
	return effects, nil
}

// Coordinator decides which practitioner gets a booking and persists it.
type Coordinator struct {
	reserver
	ranker          Ranker
	clock           clock.Clock
	defaultDuration int
	metrics         *telemetry.Metrics
}

type CoordinatorOptions struct {
	Location               *time.Location
	DefaultDurationMinutes int
	Metrics                *telemetry.Metrics
}

func NewCoordinator(repo Repository, locker redisclient.Locker, ranker Ranker, clk clock.Clock, opts CoordinatorOptions) *Coordinator {
	if ranker == nil {
		ranker = DirectoryOrder{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.DefaultDurationMinutes <= 0 {
		opts.DefaultDurationMinutes = 30
	}
	return &Coordinator{
		reserver: reserver{
			repo:   repo,
			locker: locker,
			eval:   NewEvaluator(opts.Location),
		},
		ranker:          ranker,
		clock:           clk,
		defaultDuration: opts.DefaultDurationMinutes,
		metrics:         opts.Metrics,
	}
}

// Book validates the request and persists a pending appointment with the
// requested practitioner, or the first eligible alternate.
func (c *Coordinator) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}

	now := c.clock.Now()
	emergency := req.Priority == PriorityEmergency

	if !emergency && req.ScheduledAt.Before(now) {
		c.metrics.RecordBooking(ctx, "past_date", string(req.Priority))
		return nil, fmt.Errorf("%w: %s", ErrPastDate, req.ScheduledAt.Format(time.RFC3339))
	}

	appt := &Appointment{
		ID:              NewAppointmentID(),
		PatientID:       req.PatientID,
		DepartmentID:    req.DepartmentID,
		HospitalID:      req.HospitalID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusPending,
		Priority:        req.Priority,
		Reason:          req.Reason,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	log := zerolog.Ctx(ctx).With().
		Str("appointment_id", appt.ID).
		Str("priority", string(req.Priority)).
		Logger()

	if emergency {
		return c.bookEmergency(ctx, appt, req, &log)
	}

	var requestedErr error
	if req.PractitionerID != "" {
		p, err := c.repo.GetPractitioner(ctx, req.PractitionerID)
		if err != nil {
			return nil, fmt.Errorf("load practitioner: %w", err)
		}

		c.applyDuration(appt, req, p)
		requestedErr = c.book(ctx, *p, appt)
		if requestedErr == nil {
			c.metrics.RecordBooking(ctx, "booked", string(req.Priority))
			log.Debug().Str("practitioner_id", p.ID).Msg("requested practitioner booked")
			return appt, nil
		}
		if !fallbackable(requestedErr) {
			return nil, requestedErr
		}
		log.Info().Err(requestedErr).Str("practitioner_id", p.ID).Msg("requested practitioner unavailable, searching alternates")
		c.metrics.RecordFallback(ctx)
	}

	candidates, err := c.candidates(ctx, req, appt)
	if err != nil {
		return nil, err
	}

	for _, p := range candidates {
		c.applyDuration(appt, req, &p)
		err := c.book(ctx, p, appt)
		if err == nil {
			c.metrics.RecordBooking(ctx, "booked", string(req.Priority))
			log.Info().Str("practitioner_id", p.ID).Msg("alternate practitioner booked")
			return appt, nil
		}
		if !fallbackable(err) {
			return nil, err
		}
		log.Debug().Err(err).Str("practitioner_id", p.ID).Msg("candidate rejected")
	}

	c.metrics.RecordBooking(ctx, "no_availability", string(req.Priority))
	if requestedErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAvailability, requestedErr)
	}
	return nil, ErrNoAvailability
}

// bookEmergency skips availability and overlap checks entirely.
func (c *Coordinator) bookEmergency(ctx context.Context, appt *Appointment, req BookingRequest, log *zerolog.Logger) (*Appointment, error) {
	var p *Practitioner
	if req.PractitionerID != "" {
		loaded, err := c.repo.GetPractitioner(ctx, req.PractitionerID)
		if err != nil {
			return nil, fmt.Errorf("load practitioner: %w", err)
		}
		p = loaded
		appt.PractitionerID = loaded.ID
	}
	c.applyDuration(appt, req, p)

	if err := c.repo.Book(ctx, appt, dayWindow(appt.ScheduledAt, c.eval.Location()), nil); err != nil {
		return nil, fmt.Errorf("book emergency appointment: %w", err)
	}

	c.metrics.RecordBooking(ctx, "emergency", string(req.Priority))
	log.Warn().Str("practitioner_id", appt.PractitionerID).Msg("emergency appointment booked without availability checks")
	return appt, nil
}

func (c *Coordinator) candidates(ctx context.Context, req BookingRequest, appt *Appointment) ([]Practitioner, error) {
	all, err := c.repo.FindPractitioners(ctx, req.DepartmentID, req.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("find practitioners: %w", err)
	}

	eligible := make([]Practitioner, 0, len(all))
	for _, p := range all {
		if !p.Active || p.ID == req.PractitionerID {
			continue
		}
		eligible = append(eligible, p)
	}

	rc := RankContext{
		PatientID:    req.PatientID,
		DepartmentID: req.DepartmentID,
		HospitalID:   req.HospitalID,
		ScheduledAt:  req.ScheduledAt,
		Duration:     appt.Duration(),
		Priority:     req.Priority,
	}
	ranked, err := c.ranker.Rank(ctx, eligible, rc)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("ranking failed, using directory order")
		return eligible, nil
	}
	return ranked, nil
}

// applyDuration fills the appointment length from the request, then the
// practitioner's slot length, then the configured default.
func (c *Coordinator) applyDuration(appt *Appointment, req BookingRequest, p *Practitioner) {
	switch {
	case req.DurationMinutes > 0:
		appt.DurationMinutes = req.DurationMinutes
	case p != nil && p.Availability.SlotMinutes > 0:
		appt.DurationMinutes = p.Availability.SlotMinutes
	default:
		appt.DurationMinutes = c.defaultDuration
	}
}
