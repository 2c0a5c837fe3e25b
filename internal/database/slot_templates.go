package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

func (db *DB) CreateSlotTemplate(ctx context.Context, tpl *models.SlotTemplate) error {
	start, err := normalizeClock(tpl.StartTime)
	if err != nil {
		return domain.Validationf("bad start time %q", tpl.StartTime)
	}
	end, err := normalizeClock(tpl.EndTime)
	if err != nil {
		return domain.Validationf("bad end time %q", tpl.EndTime)
	}
	tpl.StartTime, tpl.EndTime = start, end
	if tpl.StartTime >= tpl.EndTime {
		return domain.Validationf("slot start %s must be before end %s", tpl.StartTime, tpl.EndTime)
	}

	court, err := db.GetCourt(ctx, tpl.CourtID)
	if err != nil {
		return err
	}

	query, args, err := qb.Insert("slot_templates").
		Columns("court_id", "start_time", "end_time").
		Values(tpl.CourtID, tpl.StartTime, tpl.EndTime).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateSlotTemplate: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("slot template %d %s: %w", tpl.CourtID, tpl.StartTime, ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to create slot template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	tpl.ID = id
	tpl.VenueID = court.VenueID
	return nil
}

// normalizeClock parses an HH:MM value and returns it zero padded. Times are
// compared as strings, so "9:00" must be stored as "09:00".
func normalizeClock(v string) (string, error) {
	t, err := time.Parse(models.TimeLayout, strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("%q: %w", v, ErrInvalidTime)
	}
	return t.Format(models.TimeLayout), nil
}

func selectSlotTemplates() sq.SelectBuilder {
	return qb.Select("t.id", "t.court_id", "c.venue_id", "t.start_time", "t.end_time").
		From("slot_templates t").
		Join("courts c ON c.id = t.court_id")
}

// GetSlotTemplatesByIDs returns the templates that exist, ordered by court and
// start time. Unknown ids are silently missing from the result.
func (db *DB) GetSlotTemplatesByIDs(ctx context.Context, ids []int64) ([]*models.SlotTemplate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := selectSlotTemplates().
		Where(sq.Eq{"t.id": ids}).
		OrderBy("t.court_id", "t.start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetSlotTemplatesByIDs: %v", ErrBuildQuery, err)
	}
	return db.querySlotTemplates(ctx, query, args)
}

func (db *DB) ListSlotTemplatesByCourt(ctx context.Context, courtID int64) ([]*models.SlotTemplate, error) {
	query, args, err := selectSlotTemplates().
		Where(sq.Eq{"t.court_id": courtID}).
		OrderBy("t.start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListSlotTemplatesByCourt: %v", ErrBuildQuery, err)
	}
	return db.querySlotTemplates(ctx, query, args)
}

func (db *DB) ListAllSlotTemplates(ctx context.Context) ([]*models.SlotTemplate, error) {
	query, args, err := selectSlotTemplates().
		OrderBy("t.court_id", "t.start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListAllSlotTemplates: %v", ErrBuildQuery, err)
	}
	return db.querySlotTemplates(ctx, query, args)
}

func (db *DB) querySlotTemplates(ctx context.Context, query string, args []any) ([]*models.SlotTemplate, error) {
	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slot templates: %w", err)
	}
	defer rows.Close()

	return scanSlotTemplates(rows)
}

func scanSlotTemplates(rows *sql.Rows) ([]*models.SlotTemplate, error) {
	var out []*models.SlotTemplate
	for rows.Next() {
		var t models.SlotTemplate
		if err := rows.Scan(&t.ID, &t.CourtID, &t.VenueID, &t.StartTime, &t.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan slot template: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
