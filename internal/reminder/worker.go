package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hackgods/hospital-scheduling/internal/clock"
	"github.com/hackgods/hospital-scheduling/internal/notify"
	"github.com/hackgods/hospital-scheduling/internal/telemetry"
)

type WorkerOptions struct {
	Interval        time.Duration
	DispatchTimeout time.Duration
	BatchSize       int
	Concurrency     int
	RatePerSec      float64 // 0 disables throttling
	Location        *time.Location
	Metrics         *telemetry.Metrics
}

// Worker polls for due reminders and hands them to the dispatcher.
type Worker struct {
	repo       Repository
	policy     Policy
	dispatcher notify.Dispatcher
	clock      clock.Clock
	limiter    *rate.Limiter
	opts       WorkerOptions
}

func NewWorker(repo Repository, policy Policy, dispatcher notify.Dispatcher, clk clock.Clock, opts WorkerOptions) *Worker {
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Concurrency)
	}

	return &Worker{
		repo:       repo,
		policy:     policy,
		dispatcher: dispatcher,
		clock:      clk,
		limiter:    limiter,
		opts:       opts,
	}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	w.runOnce(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	log := zerolog.Ctx(ctx)

	start := time.Now()
	n, err := w.Tick(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reminder run error")
		return
	}
	if n > 0 {
		log.Info().Int("dispatched", n).Dur("took", time.Since(start)).Msg("reminder run complete")
	}
}

const saveTimeout = 5 * time.Second

// Lease is how long a claimed batch stays reserved. It covers the slowest
// run of the batch: every send and save in every pool wave timing out,
// plus the time the limiter spreads the batch over.
func (w *Worker) Lease() time.Duration {
	waves := (w.opts.BatchSize + w.opts.Concurrency - 1) / w.opts.Concurrency
	lease := time.Duration(waves) * (w.opts.DispatchTimeout + saveTimeout)
	if w.opts.RatePerSec > 0 {
		lease += time.Duration(float64(w.opts.BatchSize) / w.opts.RatePerSec * float64(time.Second))
	}
	return lease
}

// Tick claims one batch of due reminders and dispatches it. A slow send
// only holds up its own slot in the pool.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	now := w.clock.Now()

	due, err := w.repo.ClaimDue(ctx, now, w.Lease(), w.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due reminders: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)

	for i := range due {
		r := due[i]
		if !IsDue(r, now) {
			continue
		}
		g.Go(func() error {
			if err := w.limiter.Wait(gctx); err != nil {
				return err
			}
			w.dispatch(gctx, &r)
			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return len(due), err
	}
	return len(due), nil
}

func (w *Worker) dispatch(ctx context.Context, r *Reminder) {
	log := zerolog.Ctx(ctx).With().
		Str("reminder_id", r.ID.String()).
		Str("appointment_id", r.AppointmentID).
		Str("channel", string(r.Channel)).
		Logger()

	sendCtx, cancel := context.WithTimeout(ctx, w.opts.DispatchTimeout)
	start := time.Now()
	sendErr := w.dispatcher.Send(sendCtx, w.message(r))
	elapsed := time.Since(start)
	cancel()

	w.policy.RecordResult(r, sendErr, w.clock.Now())

	outcome := string(r.Status)
	if r.Status == StatusPending {
		outcome = "retry"
	}
	w.opts.Metrics.RecordDispatch(ctx, string(r.Channel), outcome, float64(elapsed.Milliseconds()))

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancelSave()

	saved, err := w.repo.SaveResult(saveCtx, r)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("failed to save reminder result")
	case !saved:
		log.Info().Msg("reminder cancelled or re-claimed during dispatch, result dropped")
	case sendErr != nil:
		log.Warn().Err(sendErr).
			Str("code", notify.ErrorCode(sendErr)).
			Str("status", string(r.Status)).
			Int("retry_count", r.RetryCount).
			Msg("reminder dispatch failed")
	default:
		log.Debug().Msg("reminder sent")
	}
}

func (w *Worker) message(r *Reminder) notify.Message {
	when := r.AppointmentAt.In(w.opts.Location).Format("Mon 02 Jan 2006 15:04")
	return notify.Message{
		Channel:   r.Channel,
		Recipient: r.Recipient,
		Subject:   "Appointment reminder",
		Body:      fmt.Sprintf("Reminder: your appointment %s is on %s.", r.AppointmentID, when),
		Metadata: map[string]string{
			"appointment_id": r.AppointmentID,
			"reminder_id":    r.ID.String(),
			"topic":          "reminder",
		},
	}
}
