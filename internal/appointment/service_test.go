package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hackgods/hospital-scheduling/internal/clock"
)

type serviceFixture struct {
	svc       *Service
	repo      *memRepo
	reminders *fakeReminders
	notifier  *syncNotifier
	clock     *clock.Fake
}

func newServiceFixture(ps ...Practitioner) *serviceFixture {
	repo := newMemRepo(ps...)
	clk := clock.NewFake(mon10.Add(-2 * time.Hour))
	coord := NewCoordinator(repo, nil, nil, clk, CoordinatorOptions{Location: time.UTC})
	f := &serviceFixture{
		repo:      repo,
		reminders: newFakeReminders(),
		notifier:  &syncNotifier{},
		clock:     clk,
	}
	f.svc = NewService(repo, coord, f.reminders, f.notifier, clk, ServiceOptions{Location: time.UTC})
	return f
}

func (f *serviceFixture) book(t *testing.T, practitionerID string, at time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), request(practitionerID, at))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return appt
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestServiceBook_SchedulesRemindersAndNotifies(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5))
	appt := f.book(t, "A", mon10)

	if at, ok := f.reminders.scheduled[appt.ID]; !ok || !at.Equal(mon10) {
		t.Fatalf("reminders scheduled = %v", f.reminders.scheduled)
	}
	if got := f.repo.eventTypes(); len(got) != 1 || got[0] != EventAppointmentBooked {
		t.Fatalf("events = %v", got)
	}
	topics := f.notifier.topics()
	if !contains(topics, "patient:booked") || !contains(topics, "practitioner:booked") {
		t.Fatalf("notifications = %v", topics)
	}
}

func TestServiceBook_FailureHasNoSideEffects(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5))
	if _, err := f.svc.Book(context.Background(), request("A", mon10.Add(-4*time.Hour))); !errors.Is(err, ErrPastDate) {
		t.Fatalf("err = %v", err)
	}
	if len(f.reminders.scheduled) != 0 || len(f.repo.eventTypes()) != 0 || len(f.notifier.topics()) != 0 {
		t.Fatal("side effects ran for a rejected booking")
	}
}

func TestServiceLifecycle(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5))
	ctx := context.Background()
	appt := f.book(t, "A", mon10)

	confirmed, err := f.svc.Confirm(ctx, appt.ID, "A")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed || confirmed.ApprovedBy != "A" {
		t.Fatalf("after confirm: %+v", confirmed)
	}

	f.clock.Set(mon10)
	if _, err := f.svc.Start(ctx, appt.ID, "A"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.clock.Advance(30 * time.Minute)
	done, err := f.svc.Complete(ctx, appt.ID, "A")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || !done.CompletedAt.Equal(mon10.Add(30*time.Minute)) {
		t.Fatalf("after complete: %+v", done)
	}

	stored, err := f.svc.Get(ctx, appt.ID)
	if err != nil || stored.Status != StatusCompleted {
		t.Fatalf("Get: %v %+v", err, stored)
	}
	if len(f.reminders.cancelled) != 1 || f.reminders.cancelled[0] != appt.ID {
		t.Fatalf("reminders cancelled = %v", f.reminders.cancelled)
	}

	want := []string{EventAppointmentBooked, EventAppointmentConfirmed, EventAppointmentStarted, EventAppointmentCompleted}
	history, err := f.svc.History(ctx, appt.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var got []string
	for _, ev := range history {
		got = append(got, ev.EventType)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	if _, err := f.svc.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorStaff, Reason: "late"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after complete: err = %v", err)
	}
}

func TestServiceTransition_IllegalLeavesStateAlone(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5))
	appt := f.book(t, "A", mon10)

	if _, err := f.svc.Complete(context.Background(), appt.ID, "A"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	stored, _ := f.svc.Get(context.Background(), appt.ID)
	if stored.Status != StatusPending {
		t.Fatalf("status = %s", stored.Status)
	}
	if _, err := f.svc.Confirm(context.Background(), "APT-NOPE", "A"); Code(err) != CodeNotFound {
		t.Fatalf("missing appointment: err = %v", err)
	}
}

func TestServiceMarkNoShow(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5))
	ctx := context.Background()
	appt := f.book(t, "A", mon10)
	if _, err := f.svc.Confirm(ctx, appt.ID, "A"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if _, err := f.svc.MarkNoShow(ctx, appt.ID, "desk"); !errors.Is(err, ErrTooEarlyForNoShow) {
		t.Fatalf("err = %v, want ErrTooEarlyForNoShow", err)
	}

	f.clock.Set(mon10.Add(15 * time.Minute))
	got, err := f.svc.MarkNoShow(ctx, appt.ID, "desk")
	if err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}
	if got.Status != StatusNoShow {
		t.Fatalf("status = %s", got.Status)
	}
	if !contains(f.reminders.cancelled, appt.ID) || !contains(f.notifier.topics(), "patient:no_show") {
		t.Fatalf("cancelled %v notified %v", f.reminders.cancelled, f.notifier.topics())
	}
}

func TestServiceCancel_ByPatient(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5), doctor("B", weekdays9to5))
	ctx := context.Background()
	appt := f.book(t, "A", mon10)

	if _, err := f.svc.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorPatient, ActorID: "PAT-1"}); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("err = %v, want ErrReasonRequired", err)
	}

	res, err := f.svc.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorPatient, ActorID: "PAT-1", Reason: "feeling better"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Reassigned || res.Appointment.Status != StatusCancelled || res.Appointment.PractitionerID != "A" {
		t.Fatalf("result = %+v", res.Appointment)
	}
	if !contains(f.reminders.cancelled, appt.ID) {
		t.Fatal("reminders not cancelled")
	}
	if !contains(f.notifier.topics(), "practitioner:cancelled") {
		t.Fatalf("practitioner not told: %v", f.notifier.topics())
	}

	// The slot is free again.
	again := f.book(t, "A", mon10)
	if again.PractitionerID != "A" {
		t.Fatalf("rebooked with %s", again.PractitionerID)
	}
}

func TestServiceCancel_PractitionerReassignsToPeer(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5), doctor("B", weekdays9to5))
	ctx := context.Background()
	appt := f.book(t, "A", mon10)
	if _, err := f.svc.Confirm(ctx, appt.ID, "A"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	res, err := f.svc.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorPractitioner, ActorID: "A", Reason: "conference"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !res.Reassigned {
		t.Fatal("expected reassignment")
	}

	stored, _ := f.svc.Get(ctx, appt.ID)
	if stored.PractitionerID != "B" || stored.ReassignedFrom != "A" || stored.Status != StatusPending {
		t.Fatalf("stored = %+v", stored)
	}
	if !stored.ScheduledAt.Equal(mon10) || stored.ApprovedBy != "" {
		t.Fatalf("slot or approval not reset: %+v", stored)
	}
	if len(f.reminders.cancelled) != 0 {
		t.Fatalf("reminders cancelled on reassignment: %v", f.reminders.cancelled)
	}
	if !contains(f.repo.eventTypes(), EventAppointmentReassigned) {
		t.Fatalf("events = %v", f.repo.eventTypes())
	}
	topics := f.notifier.topics()
	if !contains(topics, "patient:reassigned") || !contains(topics, "practitioner:reassigned") {
		t.Fatalf("notifications = %v", topics)
	}
}

func TestServiceCancel_PractitionerWithoutFreePeerCancels(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5), doctor("B", weekdays9to5))
	f.repo.put(Appointment{ID: "APT-B", PractitionerID: "B", ScheduledAt: mon10.Add(15 * time.Minute), DurationMinutes: 30, Status: StatusConfirmed})
	ctx := context.Background()
	appt := f.book(t, "A", mon10)

	res, err := f.svc.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorPractitioner, ActorID: "A", Reason: "sick"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Reassigned || res.Appointment.Status != StatusCancelled {
		t.Fatalf("result = %+v reassigned=%v", res.Appointment, res.Reassigned)
	}
	if res.Appointment.CancelledBy != string(ActorPractitioner) {
		t.Fatalf("CancelledBy = %q", res.Appointment.CancelledBy)
	}
	if !contains(f.reminders.cancelled, appt.ID) {
		t.Fatal("reminders not cancelled")
	}
}

func TestServiceCancel_StaffNeverReassigns(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5), doctor("B", weekdays9to5))
	appt := f.book(t, "A", mon10)

	res, err := f.svc.Cancel(context.Background(), appt.ID, CancelRequest{Actor: ActorStaff, Reason: "clinic closed"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Reassigned || res.Appointment.PractitionerID != "A" {
		t.Fatalf("staff cancel reassigned: %+v", res.Appointment)
	}
}

func TestServiceCancel_OtherPractitionerDoesNotReassign(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5), doctor("B", weekdays9to5), doctor("C", weekdays9to5))
	ctx := context.Background()
	appt := f.book(t, "A", mon10)

	res, err := f.svc.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorPractitioner, ActorID: "B", Reason: "covering rota"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Reassigned || res.Appointment.Status != StatusCancelled {
		t.Fatalf("result = %+v reassigned=%v", res.Appointment, res.Reassigned)
	}
	stored, _ := f.svc.Get(ctx, appt.ID)
	if stored.PractitionerID != "A" || stored.ReassignedFrom != "" {
		t.Fatalf("appointment moved: %+v", stored)
	}
	if contains(f.repo.eventTypes(), EventAppointmentReassigned) {
		t.Fatalf("events = %v", f.repo.eventTypes())
	}
	if !contains(f.reminders.cancelled, appt.ID) {
		t.Fatal("reminders not cancelled")
	}
}

// staleRepo hands out a snapshot taken before a concurrent change landed.
type staleRepo struct {
	*memRepo
	snapshot Appointment
}

func (s *staleRepo) GetAppointment(context.Context, string) (*Appointment, error) {
	cp := s.snapshot
	return &cp, nil
}

func TestServiceTransition_StaleStatus(t *testing.T) {
	f := newServiceFixture(doctor("A", weekdays9to5))
	appt := f.book(t, "A", mon10)
	snapshot, _ := f.repo.GetAppointment(context.Background(), appt.ID)

	if _, err := f.svc.Confirm(context.Background(), appt.ID, "A"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	repo := &staleRepo{memRepo: f.repo, snapshot: *snapshot}
	coord := NewCoordinator(repo, nil, nil, f.clock, CoordinatorOptions{})
	svc := NewService(repo, coord, f.reminders, f.notifier, f.clock, ServiceOptions{})

	_, err := svc.Cancel(context.Background(), appt.ID, CancelRequest{Actor: ActorPatient, Reason: "changed plans"})
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("err = %v, want ErrStaleStatus", err)
	}
	stored, _ := f.repo.GetAppointment(context.Background(), appt.ID)
	if stored.Status != StatusConfirmed {
		t.Fatalf("status = %s", stored.Status)
	}
}
