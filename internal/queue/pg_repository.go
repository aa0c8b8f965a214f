package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

const queueColumns = `id, clinic_id, name, description, queue_type, status, max_capacity,
	current_count, average_wait_time, estimated_wait_time, priority_level, is_active,
	auto_assign, created_at, updated_at`

const entryColumns = `id, queue_id, patient_id, priority, status, joined_at, called_at,
	served_at, removed_at, estimated_wait_time, actual_wait_time, metadata, notes, updated_at`

// Helpers

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	err := row.Scan(
		&q.ID,
		&q.ClinicID,
		&q.Name,
		&q.Description,
		&q.Type,
		&q.Status,
		&q.MaxCapacity,
		&q.CurrentCount,
		&q.AverageWaitTime,
		&q.EstimatedWaitTime,
		&q.PriorityLevel,
		&q.IsActive,
		&q.AutoAssign,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}
	return &q, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var metadata []byte

	err := row.Scan(
		&e.ID,
		&e.QueueID,
		&e.PatientID,
		&e.Priority,
		&e.Status,
		&e.JoinedAt,
		&e.CalledAt,
		&e.ServedAt,
		&e.RemovedAt,
		&e.EstimatedWaitTime,
		&e.ActualWaitTime,
		&metadata,
		&e.Notes,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	e.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode entry metadata: %w", err)
		}
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []EntryStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) CreateQueue(ctx context.Context, q *Queue) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO queues (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, q.ID, q.ClinicID, q.Name, q.Description, q.Type, q.Status, q.MaxCapacity,
		q.CurrentCount, q.AverageWaitTime, q.EstimatedWaitTime, q.PriorityLevel, q.IsActive,
		q.AutoAssign, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert queue: %w", err)
	}
	return nil
}

func (r *PgRepository) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE id = $1
	`, id)
	return scanQueue(row)
}

func (r *PgRepository) LockQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanQueue(row)
}

func (r *PgRepository) ListQueues(ctx context.Context, clinicID uuid.UUID) ([]Queue, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE $1::uuid = '00000000-0000-0000-0000-000000000000' OR clinic_id = $1
		ORDER BY created_at, name
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) UpdateQueue(ctx context.Context, q *Queue) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE queues
		SET name = $2,
		    description = $3,
		    queue_type = $4,
		    status = $5,
		    max_capacity = $6,
		    current_count = $7,
		    average_wait_time = $8,
		    estimated_wait_time = $9,
		    priority_level = $10,
		    is_active = $11,
		    auto_assign = $12,
		    updated_at = $13
		WHERE id = $1
	`, q.ID, q.Name, q.Description, q.Type, q.Status, q.MaxCapacity, q.CurrentCount,
		q.AverageWaitTime, q.EstimatedWaitTime, q.PriorityLevel, q.IsActive, q.AutoAssign, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQueueNotFound
	}
	return nil
}

func (r *PgRepository) InsertEntry(ctx context.Context, e *Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode entry metadata: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO queue_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.QueueID, e.PatientID, e.Priority, e.Status, e.JoinedAt, e.CalledAt,
		e.ServedAt, e.RemovedAt, e.EstimatedWaitTime, e.ActualWaitTime, metadata, e.Notes, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// UpdateEntry never touches joined_at, which is fixed at creation.
func (r *PgRepository) UpdateEntry(ctx context.Context, e *Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode entry metadata: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE queue_entries
		SET priority = $2,
		    status = $3,
		    called_at = $4,
		    served_at = $5,
		    removed_at = $6,
		    estimated_wait_time = $7,
		    actual_wait_time = $8,
		    metadata = $9,
		    notes = $10,
		    updated_at = $11
		WHERE id = $1
	`, e.ID, e.Priority, e.Status, e.CalledAt, e.ServedAt, e.RemovedAt,
		e.EstimatedWaitTime, e.ActualWaitTime, metadata, e.Notes, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *PgRepository) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) FindWaitingByQueue(ctx context.Context, queueID uuid.UUID) ([]Entry, error) {
	return r.ListEntries(ctx, queueID, StatusWaiting)
}

func (r *PgRepository) FindLatestPatientEntry(ctx context.Context, queueID, patientID uuid.UUID, statuses ...EntryStatus) (*Entry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1
		  AND patient_id = $2
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		ORDER BY joined_at DESC, seq DESC
		LIMIT 1
	`, queueID, patientID, statusStrings(statuses))
	return scanEntry(row)
}

func (r *PgRepository) ListEntries(ctx context.Context, queueID uuid.UUID, statuses ...EntryStatus) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY joined_at, seq
	`, queueID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *PgRepository) ListServedSince(ctx context.Context, queueID uuid.UUID, since time.Time) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1
		  AND status = 'served'
		  AND served_at >= $2
		ORDER BY served_at
	`, queueID, since)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (r *PgRepository) CountByStatus(ctx context.Context, queueID uuid.UUID) (map[EntryStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*)
		FROM queue_entries
		WHERE queue_id = $1
		GROUP BY status
	`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[EntryStatus]int, 4)
	for rows.Next() {
		var status EntryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO queue_events (event_type, queue_id, entry_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.QueueID, ev.EntryID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert queue event: %w", err)
	}
	return nil
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if r.pool == nil {
		// already inside a transaction
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{db: tx})
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
