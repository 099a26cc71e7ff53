package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const reminderColumns = `
	id, appointment_id, recipient, channel, appointment_at, scheduled_at,
	status, retry_count, max_retries, next_retry_at, last_error, sent_at,
	created_at, updated_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	var lastError *string

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Recipient,
		&r.Channel,
		&r.AppointmentAt,
		&r.ScheduledAt,
		&r.Status,
		&r.RetryCount,
		&r.MaxRetries,
		&r.NextRetryAt,
		&lastError,
		&r.SentAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError != nil {
		r.LastError = *lastError
	}
	return &r, nil
}

func collect(rows pgx.Rows) ([]Reminder, error) {
	defer rows.Close()

	var result []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (p *PgRepository) Insert(ctx context.Context, rs []Reminder) error {
	batch := &pgx.Batch{}
	for _, r := range rs {
		batch.Queue(`
			INSERT INTO reminders (`+reminderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, $11, $12)
			ON CONFLICT (appointment_id, channel, scheduled_at) DO NOTHING
		`, r.ID, r.AppointmentID, r.Recipient, r.Channel, r.AppointmentAt, r.ScheduledAt,
			r.Status, r.RetryCount, r.MaxRetries, r.NextRetryAt, r.CreatedAt, r.UpdatedAt)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert reminders: %w", err)
	}
	return nil
}

func (p *PgRepository) ExistsFor(ctx context.Context, appointmentID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reminders WHERE appointment_id = $1)
	`, appointmentID).Scan(&exists)
	return exists, err
}

func (p *PgRepository) ListByAppointment(ctx context.Context, appointmentID string) ([]Reminder, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_at, channel
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (p *PgRepository) CancelFor(ctx context.Context, appointmentID string, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE reminders
		SET status = 'cancelled',
		    next_retry_at = NULL,
		    locked_until = NULL,
		    updated_at = $2
		WHERE appointment_id = $1
		  AND status IN ('pending', 'failed')
	`, appointmentID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PgRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Reminder, error) {
	// timestamptz keeps microseconds; the lease is compared for equality later.
	until := now.Add(lease).Truncate(time.Microsecond)

	rows, err := p.pool.Query(ctx, `
		UPDATE reminders
		SET locked_until = $2
		WHERE id IN (
			SELECT id
			FROM reminders
			WHERE status = 'pending'
			  AND scheduled_at <= $1
			  AND (next_retry_at IS NULL OR next_retry_at <= $1)
			  AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY scheduled_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reminderColumns,
		now, until, limit)
	if err != nil {
		return nil, err
	}

	claimed, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for i := range claimed {
		claimed[i].LeaseUntil = &until
	}
	return claimed, nil
}

func (p *PgRepository) SaveResult(ctx context.Context, r *Reminder) (bool, error) {
	if r.LeaseUntil == nil {
		return false, fmt.Errorf("save reminder %s: not claimed", r.ID)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE reminders
		SET status = $2,
		    retry_count = $3,
		    next_retry_at = $4,
		    last_error = $5,
		    sent_at = $6,
		    locked_until = NULL,
		    updated_at = $7
		WHERE id = $1
		  AND status = 'pending'
		  AND locked_until = $8
	`, r.ID, r.Status, r.RetryCount, r.NextRetryAt, nullable(r.LastError), r.SentAt, r.UpdatedAt, *r.LeaseUntil)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
