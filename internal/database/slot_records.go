package database

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var slotRecordColumns = []string{
	"id", "slot_template_id", "booking_date", "status", "operator_id",
	"operator_source", "lock_reason", "version", "created_at", "updated_at",
}

// GetSlotRecords returns the records of the given templates on date keyed by
// template id. Templates without a record are absent from the map.
func (db *DB) GetSlotRecords(ctx context.Context, templateIDs []int64, date time.Time) (map[int64]*models.SlotRecord, error) {
	out := make(map[int64]*models.SlotRecord, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}

	query, args, err := qb.Select(slotRecordColumns...).
		From("slot_records").
		Where(sq.Eq{"slot_template_id": templateIDs, "booking_date": formatDate(date)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetSlotRecords: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r   models.SlotRecord
			day string
		)
		if err := rows.Scan(&r.ID, &r.SlotTemplateID, &day, &r.Status, &r.OperatorID,
			&r.OperatorSource, &r.LockReason, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan slot record: %w", err)
		}
		if r.BookingDate, err = parseDate(day); err != nil {
			return nil, err
		}
		out[r.SlotTemplateID] = &r
	}
	return out, rows.Err()
}

// InsertSlotRecord creates the record for a template and date. A record that
// already exists yields ErrDuplicateRecord.
func (db *DB) InsertSlotRecord(ctx context.Context, record *models.SlotRecord) error {
	now := time.Now()
	if record.Status == "" {
		record.Status = models.SlotAvailable
	}
	if record.OperatorSource == "" {
		record.OperatorSource = models.SourceSystem
	}

	query, args, err := qb.Insert("slot_records").
		Columns("slot_template_id", "booking_date", "status", "operator_id",
			"operator_source", "lock_reason", "version", "created_at", "updated_at").
		Values(record.SlotTemplateID, formatDate(record.BookingDate), record.Status, record.OperatorID,
			record.OperatorSource, record.LockReason, 1, now, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: InsertSlotRecord: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("slot record %d on %s: %w", record.SlotTemplateID, formatDate(record.BookingDate), ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to insert slot record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

// CompareAndSetSlotStatus moves a record from one status to another in a
// single conditional update and returns the number of rows changed. Zero
// means the record was not in the expected status.
func (db *DB) CompareAndSetSlotStatus(ctx context.Context, recordID int64, from, to models.SlotStatus, op models.Operator) (int64, error) {
	source := op.Source
	if source == "" {
		source = models.SourceSystem
	}

	query, args, err := qb.Update("slot_records").
		Set("status", to).
		Set("operator_id", op.ID).
		Set("operator_source", source).
		Set("lock_reason", op.Reason).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": recordID, "status": from}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: CompareAndSetSlotStatus: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update slot record status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// EnsureSlotRecords creates AVAILABLE records for every template on date that
// has none yet. Existing records are left untouched.
func (db *DB) EnsureSlotRecords(ctx context.Context, date time.Time) (int64, error) {
	now := time.Now()
	query := `INSERT OR IGNORE INTO slot_records (
                slot_template_id, booking_date, status, operator_id, operator_source,
                lock_reason, version, created_at, updated_at
            ) SELECT id, ?, ?, 0, ?, '', 1, ?, ? FROM slot_templates`

	result, err := db.executor(ctx).ExecContext(ctx, query,
		formatDate(date), models.SlotAvailable, models.SourceSystem, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to pregenerate slot records: %w", err)
	}
	return result.RowsAffected()
}

// ExpirePastRecords marks AVAILABLE records dated before the given day as
// EXPIRED. Booked and blocked records keep their status.
func (db *DB) ExpirePastRecords(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := qb.Update("slot_records").
		Set("status", models.SlotExpired).
		Set("operator_source", models.SourceSystem).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"status": models.SlotAvailable}).
		Where(sq.Lt{"booking_date": formatDate(before)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: ExpirePastRecords: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire slot records: %w", err)
	}
	return result.RowsAffected()
}
