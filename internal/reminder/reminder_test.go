package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hackgods/hospital-scheduling/internal/clock"
	"github.com/hackgods/hospital-scheduling/internal/notify"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[string]*Reminder

	// onSave runs before a result is stored, standing in for a concurrent writer.
	onSave func(r *Reminder)
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]*Reminder{}}
}

func (m *memRepo) Insert(_ context.Context, rs []Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rs {
		r := rs[i]
		m.rows[r.ID.String()] = &r
	}
	return nil
}

func (m *memRepo) ExistsFor(_ context.Context, appointmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListByAppointment(_ context.Context, appointmentID string) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reminder
	for _, r := range m.rows {
		if r.AppointmentID == appointmentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memRepo) CancelFor(_ context.Context, appointmentID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.AppointmentID != appointmentID {
			continue
		}
		if r.Status == StatusPending || r.Status == StatusFailed {
			r.Status = StatusCancelled
			r.NextRetryAt = nil
			r.LeaseUntil = nil
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until := now.Add(lease)
	var out []Reminder
	for _, r := range m.rows {
		if len(out) == limit || !IsDue(*r, now) {
			continue
		}
		if r.LeaseUntil != nil && !r.LeaseUntil.Before(now) {
			continue
		}
		r.LeaseUntil = &until
		out = append(out, *r)
	}
	return out, nil
}

func (m *memRepo) SaveResult(_ context.Context, r *Reminder) (bool, error) {
	if m.onSave != nil {
		m.onSave(r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID.String()]
	if !ok || cur.Status != StatusPending {
		return false, nil
	}
	if cur.LeaseUntil == nil || r.LeaseUntil == nil || !cur.LeaseUntil.Equal(*r.LeaseUntil) {
		return false, nil
	}
	cp := *r
	cp.LeaseUntil = nil
	m.rows[r.ID.String()] = &cp
	return true, nil
}

func (m *memRepo) get(t *testing.T, id string) Reminder {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		t.Fatalf("reminder %s not found", id)
	}
	return *r
}

type stubDispatcher struct {
	mu   sync.Mutex
	err  error
	sent []notify.Message
}

func (d *stubDispatcher) Send(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return d.err
}

// Monday 10:00 UTC.
var monday = time.Date(2030, time.March, 4, 10, 0, 0, 0, time.UTC)

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 5 * time.Minute},
		{2, 15 * time.Minute},
		{3, 45 * time.Minute},
		{4, 135 * time.Minute},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.n); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestRecordResult_BackoffThenFailed(t *testing.T) {
	p := DefaultPolicy()
	r := &Reminder{Status: StatusPending, MaxRetries: 3}
	now := monday
	sendErr := notify.Retryable(errors.New("smtp timeout"))

	wantDelays := []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}
	for i, want := range wantDelays {
		p.RecordResult(r, sendErr, now)
		if r.Status != StatusPending {
			t.Fatalf("failure %d: status = %s, want pending", i+1, r.Status)
		}
		if r.RetryCount != i+1 {
			t.Fatalf("failure %d: retry count = %d", i+1, r.RetryCount)
		}
		if r.NextRetryAt == nil || r.NextRetryAt.Sub(now) != want {
			t.Fatalf("failure %d: next retry offset = %v, want %s", i+1, r.NextRetryAt, want)
		}
		now = *r.NextRetryAt
	}

	p.RecordResult(r, sendErr, now)
	if r.Status != StatusFailed {
		t.Fatalf("fourth failure: status = %s, want failed", r.Status)
	}
	if r.NextRetryAt != nil {
		t.Fatalf("failed reminder still has a retry time")
	}
	if r.LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestRecordResult_PermanentFailsImmediately(t *testing.T) {
	p := DefaultPolicy()
	r := &Reminder{Status: StatusPending, MaxRetries: 3}

	p.RecordResult(r, notify.Permanent(errors.New("bad address")), monday)

	if r.Status != StatusFailed || r.RetryCount != 0 {
		t.Fatalf("got status=%s retries=%d, want failed with no retries", r.Status, r.RetryCount)
	}
}

func TestRecordResult_Success(t *testing.T) {
	p := DefaultPolicy()
	r := &Reminder{Status: StatusPending, MaxRetries: 3, RetryCount: 2, LastError: "earlier"}

	p.RecordResult(r, nil, monday)

	if r.Status != StatusSent || r.SentAt == nil || !r.SentAt.Equal(monday) {
		t.Fatalf("got status=%s sentAt=%v", r.Status, r.SentAt)
	}
	if r.LastError != "" {
		t.Fatalf("last error not cleared")
	}
}

func TestIsDue(t *testing.T) {
	later := monday.Add(time.Hour)

	tests := []struct {
		name string
		r    Reminder
		now  time.Time
		want bool
	}{
		{"before send time", Reminder{Status: StatusPending, ScheduledAt: later}, monday, false},
		{"at send time", Reminder{Status: StatusPending, ScheduledAt: monday}, monday, true},
		{"sent", Reminder{Status: StatusSent, ScheduledAt: monday}, later, false},
		{"cancelled", Reminder{Status: StatusCancelled, ScheduledAt: monday}, later, false},
		{"waiting for retry", Reminder{Status: StatusPending, ScheduledAt: monday, NextRetryAt: &later}, monday.Add(time.Minute), false},
		{"retry reached", Reminder{Status: StatusPending, ScheduledAt: monday, NextRetryAt: &later}, later, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.r, tt.now); got != tt.want {
				t.Errorf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlan_TwoDaysBeforeMondayIsSaturday(t *testing.T) {
	s := NewScheduler(newMemRepo(), DefaultPolicy(), nil)

	planned := s.Plan(Target{AppointmentID: "APT-1", Recipient: "p1", ScheduledAt: monday}, monday.AddDate(0, 0, -7))
	if len(planned) != 3 {
		t.Fatalf("planned %d reminders, want 3", len(planned))
	}

	first := planned[0]
	if first.ScheduledAt.Weekday() != time.Saturday || first.ScheduledAt.Hour() != 10 || first.ScheduledAt.Minute() != 0 {
		t.Fatalf("two-days-before reminder at %s, want Saturday 10:00", first.ScheduledAt)
	}
	if first.Status != StatusPending || first.MaxRetries != 3 {
		t.Fatalf("unexpected reminder state: %+v", first)
	}
}

func TestScheduleFor_SkipsPastOffsetsAndIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	clk := clock.NewFake(monday.Add(-30 * time.Hour))
	s := NewScheduler(repo, DefaultPolicy(), clk)
	ctx := context.Background()

	target := Target{AppointmentID: "APT-1", Recipient: "p1", ScheduledAt: monday}

	got, err := s.ScheduleFor(ctx, target)
	if err != nil {
		t.Fatalf("ScheduleFor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("scheduled %d reminders, want 2 (48h offset already passed)", len(got))
	}

	again, err := s.ScheduleFor(ctx, target)
	if err != nil {
		t.Fatalf("second ScheduleFor: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second ScheduleFor created %d reminders", len(again))
	}

	all, _ := repo.ListByAppointment(ctx, "APT-1")
	if len(all) != 2 {
		t.Fatalf("repository holds %d reminders, want 2", len(all))
	}
}

func TestCancelFor_LeavesSentUntouched(t *testing.T) {
	repo := newMemRepo()
	clk := clock.NewFake(monday.AddDate(0, 0, -7))
	s := NewScheduler(repo, DefaultPolicy(), clk)
	ctx := context.Background()

	planned, err := s.ScheduleFor(ctx, Target{AppointmentID: "APT-1", Recipient: "p1", ScheduledAt: monday})
	if err != nil {
		t.Fatalf("ScheduleFor: %v", err)
	}

	// One earlier reminder has already gone out.
	sentAt := monday.Add(-48 * time.Hour)
	sent := planned[0]
	sent.Status = StatusSent
	sent.SentAt = &sentAt
	repo.rows[sent.ID.String()] = &sent

	n, err := s.CancelFor(ctx, "APT-1")
	if err != nil {
		t.Fatalf("CancelFor: %v", err)
	}
	if n != 2 {
		t.Fatalf("cancelled %d reminders, want 2", n)
	}

	if got := repo.get(t, sent.ID.String()); got.Status != StatusSent {
		t.Fatalf("sent reminder changed to %s", got.Status)
	}
	for _, r := range planned[1:] {
		if got := repo.get(t, r.ID.String()); got.Status != StatusCancelled {
			t.Fatalf("reminder %s status = %s, want cancelled", r.ID, got.Status)
		}
	}
}

func TestWorkerTick(t *testing.T) {
	ctx := context.Background()

	t.Run("sends due reminders", func(t *testing.T) {
		repo := newMemRepo()
		clk := clock.NewFake(monday.AddDate(0, 0, -7))
		s := NewScheduler(repo, DefaultPolicy(), clk)
		planned, _ := s.ScheduleFor(ctx, Target{AppointmentID: "APT-1", Recipient: "p1", ScheduledAt: monday})

		disp := &stubDispatcher{}
		w := NewWorker(repo, s.Policy(), disp, clk, WorkerOptions{Concurrency: 2})

		clk.Set(monday.Add(-24 * time.Hour))
		n, err := w.Tick(ctx)
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if n != 2 {
			t.Fatalf("claimed %d, want 2", n)
		}
		if len(disp.sent) != 2 {
			t.Fatalf("dispatched %d messages, want 2", len(disp.sent))
		}
		if got := repo.get(t, planned[2].ID.String()); got.Status != StatusPending {
			t.Fatalf("2h reminder status = %s before its time", got.Status)
		}
		if got := repo.get(t, planned[0].ID.String()); got.Status != StatusSent {
			t.Fatalf("48h reminder status = %s, want sent", got.Status)
		}
	})

	t.Run("retryable failure schedules a retry", func(t *testing.T) {
		repo := newMemRepo()
		clk := clock.NewFake(monday.Add(-3 * time.Hour))
		s := NewScheduler(repo, DefaultPolicy(), clk)
		planned, _ := s.ScheduleFor(ctx, Target{AppointmentID: "APT-2", Recipient: "p2", ScheduledAt: monday})

		disp := &stubDispatcher{err: errors.New("connection reset")}
		w := NewWorker(repo, s.Policy(), disp, clk, WorkerOptions{})

		clk.Set(monday.Add(-2 * time.Hour))
		if _, err := w.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}

		got := repo.get(t, planned[0].ID.String())
		if got.Status != StatusPending || got.RetryCount != 1 {
			t.Fatalf("got status=%s retries=%d", got.Status, got.RetryCount)
		}
		if got.NextRetryAt == nil || !got.NextRetryAt.Equal(clk.Now().Add(5*time.Minute)) {
			t.Fatalf("next retry = %v", got.NextRetryAt)
		}
	})

	t.Run("cancellation during dispatch wins", func(t *testing.T) {
		repo := newMemRepo()
		clk := clock.NewFake(monday.Add(-3 * time.Hour))
		s := NewScheduler(repo, DefaultPolicy(), clk)
		planned, _ := s.ScheduleFor(ctx, Target{AppointmentID: "APT-3", Recipient: "p3", ScheduledAt: monday})

		repo.onSave = func(*Reminder) {
			_, _ = repo.CancelFor(ctx, "APT-3", clk.Now())
		}

		w := NewWorker(repo, s.Policy(), &stubDispatcher{}, clk, WorkerOptions{})
		clk.Set(monday.Add(-2 * time.Hour))
		if _, err := w.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}

		if got := repo.get(t, planned[0].ID.String()); got.Status != StatusCancelled {
			t.Fatalf("status = %s, want cancelled", got.Status)
		}
	})

	t.Run("result from an expired lease is dropped", func(t *testing.T) {
		repo := newMemRepo()
		clk := clock.NewFake(monday.Add(-3 * time.Hour))
		s := NewScheduler(repo, DefaultPolicy(), clk)
		planned, _ := s.ScheduleFor(ctx, Target{AppointmentID: "APT-4", Recipient: "p4", ScheduledAt: monday})

		w := NewWorker(repo, s.Policy(), &stubDispatcher{}, clk, WorkerOptions{})
		clk.Set(monday.Add(-2 * time.Hour))

		// The send outlives the lease and another worker claims the row.
		var reclaimed []Reminder
		repo.onSave = func(*Reminder) {
			repo.onSave = nil
			clk.Advance(w.Lease() + time.Second)
			reclaimed, _ = repo.ClaimDue(ctx, clk.Now(), w.Lease(), 10)
		}

		if _, err := w.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if len(reclaimed) != 1 {
			t.Fatalf("re-claimed %d reminders, want 1", len(reclaimed))
		}

		got := repo.get(t, planned[0].ID.String())
		if got.Status != StatusPending {
			t.Fatalf("stale result stored: status = %s", got.Status)
		}
		if got.LeaseUntil == nil || !got.LeaseUntil.Equal(*reclaimed[0].LeaseUntil) {
			t.Fatalf("lease = %v, want the second claim's", got.LeaseUntil)
		}

		second := reclaimed[0]
		DefaultPolicy().RecordResult(&second, nil, clk.Now())
		saved, err := repo.SaveResult(ctx, &second)
		if err != nil || !saved {
			t.Fatalf("second claim save: saved=%v err=%v", saved, err)
		}
		if got := repo.get(t, planned[0].ID.String()); got.Status != StatusSent {
			t.Fatalf("status = %s, want sent", got.Status)
		}
	})
}

func TestWorkerLease(t *testing.T) {
	tests := []struct {
		name string
		opts WorkerOptions
		want time.Duration
	}{
		{"defaults", WorkerOptions{}, 13 * 15 * time.Second},
		{"one wave", WorkerOptions{BatchSize: 8, Concurrency: 8, DispatchTimeout: time.Second}, 6 * time.Second},
		{"throttled", WorkerOptions{BatchSize: 10, Concurrency: 5, DispatchTimeout: time.Second, RatePerSec: 2}, 2*6*time.Second + 5*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorker(newMemRepo(), DefaultPolicy(), &stubDispatcher{}, nil, tt.opts)
			if got := w.Lease(); got != tt.want {
				t.Errorf("Lease = %s, want %s", got, tt.want)
			}
		})
	}
}
