package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/md-rashed-zaman/examinerops/libs/db"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
)

// slotLockClass namespaces the advisory locks taken on UTC-day buckets.
const slotLockClass int32 = 0x534c4f54

const slotColumns = `id, start_time, end_time, duration_minutes, status, application_id, archived, archived_at, created_at, updated_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed Store. Used directly it runs each statement on
// its own; RunInTx gives fn a Store bound to one transaction.
//
// Transactions run at read committed. Writers serialise on advisory locks
// per UTC day (LockIntervals) and every statement after the lock sees the
// rows committed by the previous holder, so LockIntervals must come before
// the conflict read. The exclusion constraint on booked rows backs this up.
type Postgres struct {
	pgStore
	pool  *db.Pool
	txCfg db.TxConfig
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{
		pgStore: pgStore{q: pool},
		pool:    pool,
		txCfg: db.TxConfig{
			IsoLevel:    pgx.ReadCommitted,
			MaxAttempts: 3,
			BaseBackoff: 25 * time.Millisecond,
		},
	}
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(Store) error) error {
	return db.InTx(ctx, p.pool, p.txCfg, func(tx pgx.Tx) error {
		return fn(&pgStore{q: tx})
	})
}

type pgStore struct {
	q querier
}

func (s *pgStore) FindApplicationByID(ctx context.Context, id uuid.UUID) (model.ExaminerApplication, error) {
	return s.getApplication(ctx, `
		SELECT id, email, status, created_at, updated_at
		FROM examiner_applications
		WHERE id = $1
	`, id)
}

func (s *pgStore) LockApplication(ctx context.Context, id uuid.UUID) (model.ExaminerApplication, error) {
	return s.getApplication(ctx, `
		SELECT id, email, status, created_at, updated_at
		FROM examiner_applications
		WHERE id = $1
		FOR UPDATE
	`, id)
}

func (s *pgStore) getApplication(ctx context.Context, sql string, id uuid.UUID) (model.ExaminerApplication, error) {
	var app model.ExaminerApplication
	var status string
	err := s.q.QueryRow(ctx, sql, id).Scan(&app.ID, &app.Email, &status, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return model.ExaminerApplication{}, ErrNotFound
		}
		return model.ExaminerApplication{}, fmt.Errorf("select application %s: %w", id, err)
	}
	app.Status = model.ApplicationStatus(status)
	return app, nil
}

func (s *pgStore) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.ApplicationStatus) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE examiner_applications
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) LockIntervals(ctx context.Context, intervals []availability.Interval) error {
	for _, day := range dayBuckets(intervals) {
		if _, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int4, $2::int4)`, slotLockClass, day); err != nil {
			return fmt.Errorf("advisory lock day %d: %w", day, err)
		}
	}
	return nil
}

// dayBuckets returns the sorted distinct UTC day numbers covered by the
// intervals. Taking locks in this order keeps concurrent writers deadlock free.
func dayBuckets(intervals []availability.Interval) []int32 {
	var days []int32
	for _, iv := range intervals {
		first := iv.Start.UTC().Unix() / 86400
		last := iv.End.UTC().Add(-time.Nanosecond).Unix() / 86400
		for d := first; d <= last; d++ {
			days = append(days, int32(d))
		}
	}
	slices.Sort(days)
	return slices.Compact(days)
}

func (s *pgStore) FindActiveSlotsByApplication(ctx context.Context, applicationID uuid.UUID) ([]model.InterviewSlot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM interview_slots
		WHERE application_id = $1 AND NOT archived
		ORDER BY start_time ASC
	`, applicationID)
}

func (s *pgStore) FindActiveBookedSlotsOverlapping(ctx context.Context, iv availability.Interval, excludeID *uuid.UUID) ([]model.InterviewSlot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM interview_slots
		WHERE status = 'booked'
			AND NOT archived
			AND start_time < $2
			AND end_time > $1
			AND ($3::uuid IS NULL OR id <> $3)
		ORDER BY start_time ASC
	`, iv.Start.UTC(), iv.End.UTC(), excludeID)
}

func (s *pgStore) FindReusableSlot(ctx context.Context, iv availability.Interval, applicationID uuid.UUID) (model.InterviewSlot, error) {
	slots, err := s.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM interview_slots
		WHERE start_time = $1
			AND end_time = $2
			AND (
				(NOT archived AND status = 'booked')
				-- Active requested rows of other applications are never taken over.
				OR (NOT archived AND application_id = $3)
				OR (archived AND application_id IS NULL)
			)
		ORDER BY
			CASE
				WHEN NOT archived AND status = 'booked' THEN 0
				WHEN NOT archived THEN 1
				ELSE 2
			END,
			updated_at DESC
		LIMIT 1
		FOR UPDATE
	`, iv.Start.UTC(), iv.End.UTC(), applicationID)
	if err != nil {
		return model.InterviewSlot{}, err
	}
	if len(slots) == 0 {
		return model.InterviewSlot{}, ErrNotFound
	}
	return slots[0], nil
}

func (s *pgStore) CreateSlot(ctx context.Context, slot model.InterviewSlot) (model.InterviewSlot, error) {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO interview_slots (id, start_time, end_time, duration_minutes, status, application_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+slotColumns,
		slot.ID, slot.StartTime.UTC(), slot.EndTime.UTC(), slot.Duration, string(slot.Status), slot.ApplicationID)
	created, err := scanSlot(row)
	if err != nil {
		return model.InterviewSlot{}, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (s *pgStore) ArchiveSlot(ctx context.Context, id uuid.UUID, status model.SlotStatus) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE interview_slots
		SET status = $2,
			archived = true,
			archived_at = now(),
			application_id = NULL,
			updated_at = now()
		WHERE id = $1 AND NOT archived
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("archive slot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdateSlotStatus(ctx context.Context, id uuid.UUID, status model.SlotStatus, applicationID *uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE interview_slots
		SET status = $2,
			application_id = $3,
			archived = false,
			archived_at = NULL,
			updated_at = now()
		WHERE id = $1
	`, id, string(status), applicationID)
	if err != nil {
		return fmt.Errorf("update slot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) querySlots(ctx context.Context, sql string, args ...any) ([]model.InterviewSlot, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var slots []model.InterviewSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	return slots, nil
}

func scanSlot(row pgx.Row) (model.InterviewSlot, error) {
	var (
		slot       model.InterviewSlot
		status     string
		appID      pgtype.UUID
		archivedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&slot.ID,
		&slot.StartTime,
		&slot.EndTime,
		&slot.Duration,
		&status,
		&appID,
		&slot.Archived,
		&archivedAt,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	); err != nil {
		return model.InterviewSlot{}, err
	}
	slot.Status = model.SlotStatus(status)
	slot.StartTime = slot.StartTime.UTC()
	slot.EndTime = slot.EndTime.UTC()
	if appID.Valid {
		id := uuid.UUID(appID.Bytes)
		slot.ApplicationID = &id
	}
	if archivedAt.Valid {
		t := archivedAt.Time.UTC()
		slot.ArchivedAt = &t
	}
	return slot, nil
}

// CreateApplication is used by seeding tools and tests; applications are
// otherwise owned by the onboarding flow.
func (p *Postgres) CreateApplication(ctx context.Context, app model.ExaminerApplication) (model.ExaminerApplication, error) {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	err := p.q.QueryRow(ctx, `
		INSERT INTO examiner_applications (id, email, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, app.ID, app.Email, string(app.Status)).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return model.ExaminerApplication{}, fmt.Errorf("insert application: %w", err)
	}
	return app, nil
}
