package appointment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hackgods/hospital-scheduling/internal/notify"
	redisclient "github.com/hackgods/hospital-scheduling/internal/redis"
)

// memRepo is an in-memory Repository. Book and Reassign hold one mutex for
// the guard and the write, which gives the same atomicity the Postgres
// advisory lock does.
type memRepo struct {
	mu            sync.Mutex
	practitioners []Practitioner
	appts         map[string]*Appointment
	events        []EventLog

	countErr error
}

func newMemRepo(ps ...Practitioner) *memRepo {
	return &memRepo{practitioners: ps, appts: map[string]*Appointment{}}
}

func (m *memRepo) FindPractitioners(_ context.Context, departmentID, hospitalID string) ([]Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Practitioner
	for _, p := range m.practitioners {
		if p.DepartmentID == departmentID && p.HospitalID == hospitalID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRepo) GetPractitioner(_ context.Context, id string) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.practitioners {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrPractitionerNotFound
}

func (m *memRepo) occupying(practitionerID string, day DayWindow) []Appointment {
	var out []Appointment
	for _, a := range m.appts {
		if a.PractitionerID != practitionerID || !a.Status.Occupying() {
			continue
		}
		if a.ScheduledAt.Before(day.Start) || !a.ScheduledAt.Before(day.End) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func (m *memRepo) FindOccupying(_ context.Context, practitionerID string, day DayWindow) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.occupying(practitionerID, day), nil
}

func (m *memRepo) CountOccupying(_ context.Context, ids []string, day DayWindow) (map[string]int, error) {
	if m.countErr != nil {
		return nil, m.countErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, id := range ids {
		out[id] = len(m.occupying(id, day))
	}
	return out, nil
}

func (m *memRepo) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) Book(_ context.Context, appt *Appointment, day DayWindow, guard Guard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guard != nil && appt.PractitionerID != "" {
		if err := guard(m.occupying(appt.PractitionerID, day)); err != nil {
			return err
		}
	}
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *memRepo) Save(_ context.Context, appt *Appointment, from AppointmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(appt, from)
}

func (m *memRepo) save(appt *Appointment, from AppointmentStatus) error {
	cur, ok := m.appts[appt.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != from {
		return ErrStaleStatus
	}
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *memRepo) Reassign(_ context.Context, appt *Appointment, from AppointmentStatus, day DayWindow, guard Guard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guard != nil {
		if err := guard(m.occupying(appt.PractitionerID, day)); err != nil {
			return err
		}
	}
	return m.save(appt, from)
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) ListEvents(_ context.Context, appointmentID string) ([]EventLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventLog
	for _, ev := range m.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memRepo) put(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[a.ID] = &a
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.EventType
	}
	return out
}

func (m *memRepo) all() []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Appointment, 0, len(m.appts))
	for _, a := range m.appts {
		out = append(out, *a)
	}
	return out
}

type fakeReminders struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{scheduled: map[string]time.Time{}}
}

func (f *fakeReminders) ScheduleAppointment(_ context.Context, appointmentID, _ string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[appointmentID] = at
	return nil
}

func (f *fakeReminders) CancelAppointment(_ context.Context, appointmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

// syncNotifier records messages instead of sending them in the background.
type syncNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *syncNotifier) Go(_ context.Context, msgs ...notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msgs...)
}

func (n *syncNotifier) topics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.msgs))
	for i, m := range n.msgs {
		out[i] = m.Metadata["role"] + ":" + m.Metadata["topic"]
	}
	return out
}

type busyLocker struct {
	busy map[string]bool
}

func (b busyLocker) WithPractitionerLock(ctx context.Context, id string, fn func(context.Context) error) error {
	if b.busy[id] {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

// downLocker behaves like a locker whose Redis is unreachable.
type downLocker struct{}

func (downLocker) WithPractitionerLock(context.Context, string, func(context.Context) error) error {
	return fmt.Errorf("%w: dial tcp 127.0.0.1:6379: connect: connection refused", redisclient.ErrLockUnavailable)
}

var weekdays9to5 = Availability{
	WorkingDays: []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
	StartTime:   "09:00",
	EndTime:     "17:00",
	SlotMinutes: 30,
}

func doctor(id string, av Availability) Practitioner {
	return Practitioner{
		ID:           id,
		Name:         "Dr " + id,
		DepartmentID: "cardio",
		HospitalID:   "h1",
		Active:       true,
		Availability: av,
	}
}

// Monday 4 March 2030, 10:00 UTC.
var mon10 = time.Date(2030, time.March, 4, 10, 0, 0, 0, time.UTC)
