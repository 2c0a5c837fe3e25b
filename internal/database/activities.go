package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

func (db *DB) CreateActivity(ctx context.Context, a *models.Activity) error {
	now := time.Now()
	if a.Status == "" {
		a.Status = models.ActivityActive
	}

	query, args, err := qb.Insert("activities").
		Columns("court_id", "venue_id", "organizer_id", "organizer_source", "name", "booking_date",
			"start_time", "end_time", "max_participants", "current_participants", "unit_price",
			"status", "batch_id", "created_at").
		Values(a.CourtID, a.VenueID, a.OrganizerID, a.OrganizerSource, a.Name, formatDate(a.BookingDate),
			a.StartTime, a.EndTime, a.MaxParticipants, a.CurrentParticipants, a.UnitPrice,
			a.Status, a.BatchID, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateActivity: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt = now
	return nil
}

// CreateActivitySlotLocks inserts all lock rows with one statement. A slot
// already owned by another active activity yields ErrDuplicateRecord.
func (db *DB) CreateActivitySlotLocks(ctx context.Context, locks []models.ActivitySlotLock) error {
	if len(locks) == 0 {
		return nil
	}
	now := time.Now()

	builder := qb.Insert("activity_slot_locks").
		Columns("activity_id", "slot_template_id", "booking_date", "batch_id", "status", "created_at")
	for i := range locks {
		if locks[i].Status == "" {
			locks[i].Status = models.ActivityLockActive
		}
		builder = builder.Values(locks[i].ActivityID, locks[i].SlotTemplateID, formatDate(locks[i].BookingDate),
			locks[i].BatchID, locks[i].Status, now)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateActivitySlotLocks: %v", ErrBuildQuery, err)
	}

	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("activity slot lock: %w", ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to create activity slot locks: %w", err)
	}

	// ids are needed by callers returning the rows
	created, err := db.listActivityLocks(ctx, sq.Eq{"activity_id": locks[0].ActivityID, "batch_id": locks[0].BatchID})
	if err != nil {
		return err
	}
	byTemplate := make(map[int64]models.ActivitySlotLock, len(created))
	for _, l := range created {
		byTemplate[l.SlotTemplateID] = l
	}
	for i := range locks {
		if l, ok := byTemplate[locks[i].SlotTemplateID]; ok {
			locks[i].ID = l.ID
			locks[i].CreatedAt = l.CreatedAt
		}
	}
	return nil
}

// GetActiveActivityLocks returns the active activity locks of the given
// templates on date keyed by template id.
func (db *DB) GetActiveActivityLocks(ctx context.Context, templateIDs []int64, date time.Time) (map[int64]*models.ActivitySlotLock, error) {
	out := make(map[int64]*models.ActivitySlotLock, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}
	locks, err := db.listActivityLocks(ctx, sq.Eq{
		"slot_template_id": templateIDs,
		"booking_date":     formatDate(date),
		"status":           models.ActivityLockActive,
	})
	if err != nil {
		return nil, err
	}
	for i := range locks {
		out[locks[i].SlotTemplateID] = &locks[i]
	}
	return out, nil
}

func (db *DB) ListActivityLocks(ctx context.Context, activityID int64) ([]models.ActivitySlotLock, error) {
	return db.listActivityLocks(ctx, sq.Eq{"activity_id": activityID})
}

func (db *DB) listActivityLocks(ctx context.Context, where sq.Eq) ([]models.ActivitySlotLock, error) {
	query, args, err := qb.Select("id", "activity_id", "slot_template_id", "booking_date", "batch_id", "status", "created_at").
		From("activity_slot_locks").
		Where(where).
		OrderBy("slot_template_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: listActivityLocks: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity locks: %w", err)
	}
	defer rows.Close()

	var locks []models.ActivitySlotLock
	for rows.Next() {
		var (
			l   models.ActivitySlotLock
			day string
		)
		if err := rows.Scan(&l.ID, &l.ActivityID, &l.SlotTemplateID, &day, &l.BatchID, &l.Status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity lock: %w", err)
		}
		if l.BookingDate, err = parseDate(day); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

var activityColumns = []string{
	"id", "court_id", "venue_id", "organizer_id", "organizer_source", "name", "booking_date",
	"start_time", "end_time", "max_participants", "current_participants", "unit_price",
	"status", "batch_id", "created_at",
}

func scanActivity(row interface{ Scan(...any) error }) (*models.Activity, error) {
	var (
		a   models.Activity
		day string
	)
	if err := row.Scan(&a.ID, &a.CourtID, &a.VenueID, &a.OrganizerID, &a.OrganizerSource, &a.Name, &day,
		&a.StartTime, &a.EndTime, &a.MaxParticipants, &a.CurrentParticipants, &a.UnitPrice,
		&a.Status, &a.BatchID, &a.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.BookingDate, err = parseDate(day); err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) GetActivity(ctx context.Context, id int64) (*models.Activity, error) {
	query, args, err := qb.Select(activityColumns...).
		From("activities").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetActivity: %v", ErrBuildQuery, err)
	}

	a, err := scanActivity(db.executor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("activity %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// ListActivitiesByCourt returns the active activities of a court on date.
func (db *DB) ListActivitiesByCourt(ctx context.Context, courtID int64, date time.Time) ([]*models.Activity, error) {
	query, args, err := qb.Select(activityColumns...).
		From("activities").
		Where(sq.Eq{"court_id": courtID, "booking_date": formatDate(date), "status": models.ActivityActive}).
		OrderBy("start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListActivitiesByCourt: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddParticipants changes the participant counter by delta, keeping it within
// [0, max_participants]. Zero rows means the bound would be crossed or the
// activity is not active.
func (db *DB) AddParticipants(ctx context.Context, activityID int64, delta int) (int64, error) {
	query, args, err := qb.Update("activities").
		Set("current_participants", sq.Expr("current_participants + ?", delta)).
		Where(sq.Eq{"id": activityID, "status": models.ActivityActive}).
		Where(sq.Expr("current_participants + ? BETWEEN 0 AND max_participants", delta)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: AddParticipants: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update participants: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) CancelActivity(ctx context.Context, activityID int64) (int64, error) {
	query, args, err := qb.Update("activities").
		Set("status", models.ActivityCancelled).
		Where(sq.Eq{"id": activityID, "status": models.ActivityActive}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: CancelActivity: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel activity: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) ReleaseActivityLocks(ctx context.Context, activityID int64) (int64, error) {
	query, args, err := qb.Update("activity_slot_locks").
		Set("status", models.ActivityLockReleased).
		Where(sq.Eq{"activity_id": activityID, "status": models.ActivityLockActive}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: ReleaseActivityLocks: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release activity locks: %w", err)
	}
	return result.RowsAffected()
}
