// Package postgres implements the PostgreSQL persistence layer for Schedule Sync.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aqademiq/schedule-sync/internal/domain/schedule"
	"github.com/aqademiq/schedule-sync/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements schedule.Repository for PostgreSQL.
type EventRepository struct {
	conn *Connection
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{conn: conn}
}

const eventColumns = `id, owner_id, course_id, title, description, location,
	   day_of_week, start_time, end_time, specific_date, is_recurring, is_active,
	   rotation_type, rotation_weeks, semester_week_start, semester_id,
	   external_id, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create creates a new scheduled event.
func (r *EventRepository) Create(ctx context.Context, e *schedule.ScheduledEvent) error {
	query := `
		INSERT INTO scheduled_events (
			id, owner_id, course_id, title, description, location,
			day_of_week, start_time, end_time, specific_date, is_recurring, is_active,
			rotation_type, rotation_weeks, semester_week_start, semester_id,
			external_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.conn.Exec(ctx, query,
		e.ID,
		e.OwnerID,
		nullIfEmpty(e.CourseID),
		e.Title,
		e.Description,
		e.Location,
		dayOfWeekArg(e.DayOfWeek),
		int(e.StartTime),
		int(e.EndTime),
		e.SpecificDate,
		e.IsRecurring,
		e.IsActive,
		string(e.RotationType),
		weeksArg(e.RotationWeeks),
		e.SemesterWeekStart,
		nullIfEmpty(e.SemesterID),
		e.ExternalID,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrEventAlreadyExists
		}
		return fmt.Errorf("failed to create scheduled event: %w", err)
	}

	return nil
}

// GetByID returns an event by internal ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*schedule.ScheduledEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduled_events WHERE id = $1`, eventColumns)

	row := r.conn.QueryRow(ctx, query, id)
	return r.scanEvent(row)
}

// GetByExternalID returns an event by its remote calendar identifier.
func (r *EventRepository) GetByExternalID(ctx context.Context, ownerID, externalID string) (*schedule.ScheduledEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scheduled_events
		WHERE owner_id = $1 AND external_id = $2 AND external_id != ''
	`, eventColumns)

	row := r.conn.QueryRow(ctx, query, ownerID, externalID)
	return r.scanEvent(row)
}

// GetByOwner returns all active events of an owner.
func (r *EventRepository) GetByOwner(ctx context.Context, ownerID string) ([]*schedule.ScheduledEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scheduled_events
		WHERE owner_id = $1 AND is_active
		ORDER BY created_at
	`, eventColumns)

	rows, err := r.conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by owner: %w", err)
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// Update updates an event.
func (r *EventRepository) Update(ctx context.Context, e *schedule.ScheduledEvent) error {
	result, err := r.conn.Exec(ctx, updateEventQuery+` WHERE id = $16`, r.updateArgs(e)...)
	if err != nil {
		return fmt.Errorf("failed to update scheduled event: %w", err)
	}

	if result.RowsAffected() == 0 {
		return schedule.ErrEventNotFound
	}

	return nil
}

// UpdateIfUnmodified updates an event only if its stored UpdatedAt still
// matches expectedUpdatedAt. A lost race returns shared.ErrOptimisticLock
// so the caller can re-detect conflicts against the fresh row.
func (r *EventRepository) UpdateIfUnmodified(ctx context.Context, e *schedule.ScheduledEvent, expectedUpdatedAt time.Time) error {
	args := append(r.updateArgs(e), expectedUpdatedAt)
	result, err := r.conn.Exec(ctx, updateEventQuery+` WHERE id = $16 AND updated_at = $17`, args...)
	if err != nil {
		return fmt.Errorf("failed to update scheduled event: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Distinguish "row changed underneath us" from "row gone".
		var exists bool
		if checkErr := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scheduled_events WHERE id = $1)`, e.ID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("failed to check scheduled event: %w", checkErr)
		}
		if !exists {
			return schedule.ErrEventNotFound
		}
		return shared.ErrOptimisticLock
	}

	return nil
}

// Deactivate soft-deletes an event.
func (r *EventRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE scheduled_events SET is_active = FALSE, updated_at = $1 WHERE id = $2`

	result, err := r.conn.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate scheduled event: %w", err)
	}

	if result.RowsAffected() == 0 {
		return schedule.ErrEventNotFound
	}

	return nil
}

// ModifiedSince returns the owner's events modified after the given moment,
// including soft-deleted ones so deletions get pushed too.
func (r *EventRepository) ModifiedSince(ctx context.Context, ownerID string, since time.Time) ([]*schedule.ScheduledEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scheduled_events
		WHERE owner_id = $1 AND updated_at > $2
		ORDER BY updated_at
	`, eventColumns)

	rows, err := r.conn.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query modified events: %w", err)
	}
	defer rows.Close()

	return r.scanEvents(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan Helpers
// ─────────────────────────────────────────────────────────────────────────────

const updateEventQuery = `
	UPDATE scheduled_events SET
		course_id = $1,
		title = $2,
		description = $3,
		location = $4,
		day_of_week = $5,
		start_time = $6,
		end_time = $7,
		specific_date = $8,
		is_recurring = $9,
		is_active = $10,
		rotation_type = $11,
		rotation_weeks = $12,
		semester_week_start = $13,
		semester_id = $14,
		external_id = $15,
		updated_at = NOW()
`

func (r *EventRepository) updateArgs(e *schedule.ScheduledEvent) []interface{} {
	return []interface{}{
		nullIfEmpty(e.CourseID),
		e.Title,
		e.Description,
		e.Location,
		dayOfWeekArg(e.DayOfWeek),
		int(e.StartTime),
		int(e.EndTime),
		e.SpecificDate,
		e.IsRecurring,
		e.IsActive,
		string(e.RotationType),
		weeksArg(e.RotationWeeks),
		e.SemesterWeekStart,
		nullIfEmpty(e.SemesterID),
		e.ExternalID,
		e.ID,
	}
}

func (r *EventRepository) scanEvent(row pgx.Row) (*schedule.ScheduledEvent, error) {
	var e schedule.ScheduledEvent
	var courseID, semesterID *string
	var dayOfWeek *int16
	var startTime, endTime int
	var rotationType string
	var rotationWeeks []int32

	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&courseID,
		&e.Title,
		&e.Description,
		&e.Location,
		&dayOfWeek,
		&startTime,
		&endTime,
		&e.SpecificDate,
		&e.IsRecurring,
		&e.IsActive,
		&rotationType,
		&rotationWeeks,
		&e.SemesterWeekStart,
		&semesterID,
		&e.ExternalID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, schedule.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to scan scheduled event: %w", err)
	}

	if courseID != nil {
		e.CourseID = *courseID
	}
	if semesterID != nil {
		e.SemesterID = *semesterID
	}
	if dayOfWeek != nil {
		d := schedule.DayOfWeek(*dayOfWeek)
		e.DayOfWeek = &d
	}
	e.StartTime = schedule.TimeOfDay(startTime)
	e.EndTime = schedule.TimeOfDay(endTime)
	e.RotationType = schedule.RotationType(rotationType)
	if len(rotationWeeks) > 0 {
		e.RotationWeeks = make([]int, len(rotationWeeks))
		for i, w := range rotationWeeks {
			e.RotationWeeks[i] = int(w)
		}
	}

	return &e, nil
}

func (r *EventRepository) scanEvents(rows pgx.Rows) ([]*schedule.ScheduledEvent, error) {
	var events []*schedule.ScheduledEvent
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullIfEmpty maps "" to SQL NULL for optional UUID columns.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func dayOfWeekArg(d *schedule.DayOfWeek) interface{} {
	if d == nil {
		return nil
	}
	return int16(*d)
}

func weeksArg(weeks []int) interface{} {
	if len(weeks) == 0 {
		return nil
	}
	out := make([]int32, len(weeks))
	for i, w := range weeks {
		out[i] = int32(w)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SEMESTER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SemesterRepository implements schedule.SemesterRepository for PostgreSQL.
type SemesterRepository struct {
	conn *Connection
}

// NewSemesterRepository creates a new SemesterRepository.
func NewSemesterRepository(conn *Connection) *SemesterRepository {
	return &SemesterRepository{conn: conn}
}

// Create creates a semester. Creating an active semester deactivates the
// previous active one inside the same transaction.
func (r *SemesterRepository) Create(ctx context.Context, s *schedule.Semester) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if s.IsActive {
			_, err := tx.Exec(ctx,
				`UPDATE semesters SET is_active = FALSE, updated_at = NOW() WHERE owner_id = $1 AND is_active`,
				s.OwnerID,
			)
			if err != nil {
				return fmt.Errorf("failed to deactivate previous semester: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO semesters (id, owner_id, name, start_date, end_date, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			s.ID,
			s.OwnerID,
			s.Name,
			s.StartDate,
			endDateArg(s.EndDate),
			s.IsActive,
			s.CreatedAt,
			s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create semester: %w", err)
		}
		return nil
	})
}

// GetByID returns a semester by ID.
func (r *SemesterRepository) GetByID(ctx context.Context, id string) (*schedule.Semester, error) {
	query := `
		SELECT id, owner_id, name, start_date, end_date, is_active, created_at, updated_at
		FROM semesters
		WHERE id = $1
	`

	return r.scanSemester(r.conn.QueryRow(ctx, query, id))
}

// GetActive returns the owner's active semester.
func (r *SemesterRepository) GetActive(ctx context.Context, ownerID string) (*schedule.Semester, error) {
	query := `
		SELECT id, owner_id, name, start_date, end_date, is_active, created_at, updated_at
		FROM semesters
		WHERE owner_id = $1 AND is_active
	`

	return r.scanSemester(r.conn.QueryRow(ctx, query, ownerID))
}

// Update updates a semester.
func (r *SemesterRepository) Update(ctx context.Context, s *schedule.Semester) error {
	query := `
		UPDATE semesters SET
			name = $1,
			start_date = $2,
			end_date = $3,
			is_active = $4,
			updated_at = $5
		WHERE id = $6
	`

	result, err := r.conn.Exec(ctx, query,
		s.Name,
		s.StartDate,
		endDateArg(s.EndDate),
		s.IsActive,
		time.Now().UTC(),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update semester: %w", err)
	}

	if result.RowsAffected() == 0 {
		return schedule.ErrSemesterNotFound
	}

	return nil
}

func (r *SemesterRepository) scanSemester(row pgx.Row) (*schedule.Semester, error) {
	var s schedule.Semester
	var endDate *time.Time

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Name,
		&s.StartDate,
		&endDate,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, schedule.ErrSemesterNotFound
		}
		return nil, fmt.Errorf("failed to scan semester: %w", err)
	}

	if endDate != nil {
		s.EndDate = *endDate
	}

	return &s, nil
}

// endDateArg maps the zero time to SQL NULL (open-ended semester).
func endDateArg(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
