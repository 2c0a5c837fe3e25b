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

// CreateCourt is used for seeding; venue and court management lives elsewhere.
func (db *DB) CreateCourt(ctx context.Context, court *models.Court) error {
	now := time.Now()
	query, args, err := qb.Insert("courts").
		Columns("venue_id", "name", "created_at").
		Values(court.VenueID, court.Name, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateCourt: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create court: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	court.ID = id
	court.CreatedAt = now
	return nil
}

func (db *DB) GetCourt(ctx context.Context, id int64) (*models.Court, error) {
	query, args, err := qb.Select("id", "venue_id", "name", "created_at").
		From("courts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetCourt: %v", ErrBuildQuery, err)
	}

	var c models.Court
	err = db.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.VenueID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("court %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get court: %w", err)
	}
	return &c, nil
}

func (db *DB) ListCourtsByVenue(ctx context.Context, venueID int64) ([]*models.Court, error) {
	query, args, err := qb.Select("id", "venue_id", "name", "created_at").
		From("courts").
		Where(sq.Eq{"venue_id": venueID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListCourtsByVenue: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list courts: %w", err)
	}
	defer rows.Close()

	var courts []*models.Court
	for rows.Next() {
		var c models.Court
		if err := rows.Scan(&c.ID, &c.VenueID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan court: %w", err)
		}
		courts = append(courts, &c)
	}
	return courts, rows.Err()
}
