package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const practitionerColumns = `
	id, name, department_id, hospital_id, contact, active,
	working_days, start_time, end_time, slot_minutes, max_per_day,
	created_at, updated_at`

const appointmentColumns = `
	id, patient_id, practitioner_id, department_id, hospital_id,
	scheduled_at, duration_minutes, status, priority, reason, notes,
	approved_by, approved_at, cancellation_reason, cancelled_by, reassigned_from,
	created_at, updated_at, cancelled_at, completed_at`

// Helpers

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	var contact, start, end *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.DepartmentID,
		&p.HospitalID,
		&contact,
		&p.Active,
		&p.Availability.WorkingDays,
		&start,
		&end,
		&p.Availability.SlotMinutes,
		&p.Availability.MaxPerDay,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}

	p.Contact = deref(contact)
	p.Availability.StartTime = deref(start)
	p.Availability.EndTime = deref(end)
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var practitionerID, reason, notes, approvedBy, cancelReason, cancelledBy, reassignedFrom *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&practitionerID,
		&a.DepartmentID,
		&a.HospitalID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Priority,
		&reason,
		&notes,
		&approvedBy,
		&a.ApprovedAt,
		&cancelReason,
		&cancelledBy,
		&reassignedFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CancelledAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.PractitionerID = deref(practitionerID)
	a.Reason = deref(reason)
	a.Notes = deref(notes)
	a.ApprovedBy = deref(approvedBy)
	a.CancellationReason = deref(cancelReason)
	a.CancelledBy = deref(cancelledBy)
	a.ReassignedFrom = deref(reassignedFrom)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) FindPractitioners(ctx context.Context, departmentID, hospitalID string) ([]Practitioner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE department_id = $1
		  AND hospital_id = $2
		ORDER BY created_at, id
	`, departmentID, hospitalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetPractitioner(ctx context.Context, id string) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+practitionerColumns+`
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) FindOccupying(ctx context.Context, practitionerID string, day DayWindow) ([]Appointment, error) {
	return findOccupying(ctx, r.pool, practitionerID, day)
}

func findOccupying(ctx context.Context, q querier, practitionerID string, day DayWindow) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND status = ANY($2)
		  AND scheduled_at >= $3
		  AND scheduled_at < $4
		ORDER BY scheduled_at
	`, practitionerID, statusStrings(OccupyingStatuses), day.Start, day.End)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CountOccupying(ctx context.Context, practitionerIDs []string, day DayWindow) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT practitioner_id, count(*)
		FROM appointments
		WHERE practitioner_id = ANY($1)
		  AND status = ANY($2)
		  AND scheduled_at >= $3
		  AND scheduled_at < $4
		GROUP BY practitioner_id
	`, practitionerIDs, statusStrings(OccupyingStatuses), day.Start, day.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(practitionerIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Book(ctx context.Context, appt *Appointment, day DayWindow, guard Guard) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if guard != nil && appt.PractitionerID != "" {
		if err := lockAndGuard(ctx, tx, appt.PractitionerID, day, guard); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		appt.ID, appt.PatientID, nullable(appt.PractitionerID), appt.DepartmentID, appt.HospitalID,
		appt.ScheduledAt, appt.DurationMinutes, appt.Status, appt.Priority,
		nullable(appt.Reason), nullable(appt.Notes),
		nullable(appt.ApprovedBy), appt.ApprovedAt, nullable(appt.CancellationReason),
		nullable(appt.CancelledBy), nullable(appt.ReassignedFrom),
		appt.CreatedAt, appt.UpdatedAt, appt.CancelledAt, appt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) Save(ctx context.Context, appt *Appointment, from AppointmentStatus) error {
	return save(ctx, r.pool, appt, from)
}

func (r *PgRepository) Reassign(ctx context.Context, appt *Appointment, from AppointmentStatus, day DayWindow, guard Guard) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reassign tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if guard != nil {
		if err := lockAndGuard(ctx, tx, appt.PractitionerID, day, guard); err != nil {
			return err
		}
	}

	if err := save(ctx, tx, appt, from); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// lockAndGuard serialises writers for one practitioner until the
// transaction ends, then runs guard against the committed state.
func lockAndGuard(ctx context.Context, tx pgx.Tx, practitionerID string, day DayWindow, guard Guard) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, practitionerID); err != nil {
		return fmt.Errorf("lock practitioner: %w", err)
	}

	existing, err := findOccupying(ctx, tx, practitionerID, day)
	if err != nil {
		return fmt.Errorf("load occupying appointments: %w", err)
	}

	return guard(existing)
}

// save writes the mutable columns, guarded by the status the caller read.
func save(ctx context.Context, q querier, appt *Appointment, from AppointmentStatus) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET practitioner_id = $3,
		    status = $4,
		    approved_by = $5,
		    approved_at = $6,
		    cancellation_reason = $7,
		    cancelled_by = $8,
		    reassigned_from = $9,
		    updated_at = $10,
		    cancelled_at = $11,
		    completed_at = $12
		WHERE id = $1
		  AND status = $2
	`,
		appt.ID, from,
		nullable(appt.PractitionerID), appt.Status,
		nullable(appt.ApprovedBy), appt.ApprovedAt,
		nullable(appt.CancellationReason), nullable(appt.CancelledBy), nullable(appt.ReassignedFrom),
		appt.UpdatedAt, appt.CancelledAt, appt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, appt.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAppointmentNotFound
		}
		return ErrStaleStatus
	}

	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

// ListEvents returns the audit trail of one appointment, oldest first.
func (r *PgRepository) ListEvents(ctx context.Context, appointmentID string) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	return result, rows.Err()
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
