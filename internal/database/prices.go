package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"courtbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

// CreatePriceTemplate stores a template with its periods. Periods must not
// overlap; enabling a template disables the venue's other templates.
func (db *DB) CreatePriceTemplate(ctx context.Context, tpl *models.PriceTemplate) error {
	if err := validatePeriods(tpl.Periods); err != nil {
		return err
	}

	return db.WithTx(ctx, func(ctx context.Context) error {
		exec := db.executor(ctx)

		if tpl.Enabled {
			query, args, err := qb.Update("price_templates").
				Set("enabled", false).
				Where(sq.Eq{"venue_id": tpl.VenueID}).
				ToSql()
			if err != nil {
				return fmt.Errorf("%w: CreatePriceTemplate: %v", ErrBuildQuery, err)
			}
			if _, err := exec.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to disable price templates: %w", err)
			}
		}

		query, args, err := qb.Insert("price_templates").
			Columns("venue_id", "name", "enabled").
			Values(tpl.VenueID, tpl.Name, tpl.Enabled).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: CreatePriceTemplate: %v", ErrBuildQuery, err)
		}
		result, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to create price template: %w", err)
		}
		if tpl.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		for i := range tpl.Periods {
			p := &tpl.Periods[i]
			p.TemplateID = tpl.ID
			query, args, err := qb.Insert("price_periods").
				Columns("template_id", "start_time", "end_time", "weekday_price", "weekend_price", "holiday_price").
				Values(p.TemplateID, p.StartTime, p.EndTime, p.WeekdayPrice, p.WeekendPrice, p.HolidayPrice).
				ToSql()
			if err != nil {
				return fmt.Errorf("%w: CreatePriceTemplate: %v", ErrBuildQuery, err)
			}
			result, err := exec.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to create price period: %w", err)
			}
			if p.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get last insert id: %w", err)
			}
		}
		return nil
	})
}

// validatePeriods normalizes the periods' times in place and checks that they
// do not overlap.
func validatePeriods(periods []models.PricePeriod) error {
	for i := range periods {
		p := &periods[i]
		start, err := normalizeClock(p.StartTime)
		if err != nil {
			return err
		}
		end, err := normalizeClock(p.EndTime)
		if err != nil {
			return err
		}
		p.StartTime, p.EndTime = start, end
	}

	sorted := make([]models.PricePeriod, len(periods))
	copy(sorted, periods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	for i, p := range sorted {
		if p.StartTime >= p.EndTime {
			return fmt.Errorf("%s-%s: %w", p.StartTime, p.EndTime, ErrInvalidPeriod)
		}
		if i > 0 && sorted[i-1].EndTime > p.StartTime {
			return fmt.Errorf("%s-%s and %s-%s: %w",
				sorted[i-1].StartTime, sorted[i-1].EndTime, p.StartTime, p.EndTime, ErrPeriodOverlap)
		}
	}
	return nil
}

// GetEnabledPriceTemplate returns the venue's enabled template with periods
// ordered by start time, or nil when the venue has none.
func (db *DB) GetEnabledPriceTemplate(ctx context.Context, venueID int64) (*models.PriceTemplate, error) {
	query, args, err := qb.Select("id", "venue_id", "name", "enabled").
		From("price_templates").
		Where(sq.Eq{"venue_id": venueID, "enabled": true}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetEnabledPriceTemplate: %v", ErrBuildQuery, err)
	}

	var tpl models.PriceTemplate
	err = db.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&tpl.ID, &tpl.VenueID, &tpl.Name, &tpl.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price template: %w", err)
	}

	query, args, err = qb.Select("id", "template_id", "start_time", "end_time", "weekday_price", "weekend_price", "holiday_price").
		From("price_periods").
		Where(sq.Eq{"template_id": tpl.ID}).
		OrderBy("start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetEnabledPriceTemplate: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get price periods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.PricePeriod
		if err := rows.Scan(&p.ID, &p.TemplateID, &p.StartTime, &p.EndTime,
			&p.WeekdayPrice, &p.WeekendPrice, &p.HolidayPrice); err != nil {
			return nil, fmt.Errorf("failed to scan price period: %w", err)
		}
		tpl.Periods = append(tpl.Periods, p)
	}
	return &tpl, rows.Err()
}

func (db *DB) CreatePriceOverride(ctx context.Context, o *models.PriceOverride) error {
	start, err := normalizeClock(o.StartTime)
	if err != nil {
		return err
	}
	end, err := normalizeClock(o.EndTime)
	if err != nil {
		return err
	}
	o.StartTime, o.EndTime = start, end
	if o.StartTime >= o.EndTime {
		return fmt.Errorf("%s-%s: %w", o.StartTime, o.EndTime, ErrInvalidPeriod)
	}
	query, args, err := qb.Insert("price_overrides").
		Columns("venue_id", "date", "start_time", "end_time", "price", "enabled").
		Values(o.VenueID, formatDate(o.Date), o.StartTime, o.EndTime, o.Price, o.Enabled).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreatePriceOverride: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create price override: %w", err)
	}
	if o.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// ListPriceOverrides returns the enabled overrides of a venue on date.
func (db *DB) ListPriceOverrides(ctx context.Context, venueID int64, date time.Time) ([]models.PriceOverride, error) {
	query, args, err := qb.Select("id", "venue_id", "date", "start_time", "end_time", "price", "enabled").
		From("price_overrides").
		Where(sq.Eq{"venue_id": venueID, "date": formatDate(date), "enabled": true}).
		OrderBy("start_time", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListPriceOverrides: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list price overrides: %w", err)
	}
	defer rows.Close()

	var out []models.PriceOverride
	for rows.Next() {
		var (
			o   models.PriceOverride
			day string
		)
		if err := rows.Scan(&o.ID, &o.VenueID, &day, &o.StartTime, &o.EndTime, &o.Price, &o.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan price override: %w", err)
		}
		if o.Date, err = parseDate(day); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (db *DB) CreateExtraChargeTemplate(ctx context.Context, t *models.ExtraChargeTemplate) error {
	query, args, err := qb.Insert("extra_charge_templates").
		Columns("venue_id", "name", "level", "mode", "unit_value", "court_ids", "enabled").
		Values(t.VenueID, t.Name, t.Level, t.Mode, t.UnitValue, joinIDs(t.CourtIDs), t.Enabled).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateExtraChargeTemplate: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create extra charge template: %w", err)
	}
	if t.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// ListExtraChargeTemplates returns the enabled templates of a level ordered by id.
func (db *DB) ListExtraChargeTemplates(ctx context.Context, venueID int64, level models.ChargeLevel) ([]models.ExtraChargeTemplate, error) {
	query, args, err := qb.Select("id", "venue_id", "name", "level", "mode", "unit_value", "court_ids", "enabled").
		From("extra_charge_templates").
		Where(sq.Eq{"venue_id": venueID, "level": level, "enabled": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListExtraChargeTemplates: %v", ErrBuildQuery, err)
	}

	rows, err := db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list extra charge templates: %w", err)
	}
	defer rows.Close()

	var out []models.ExtraChargeTemplate
	for rows.Next() {
		var (
			t        models.ExtraChargeTemplate
			courtIDs string
		)
		if err := rows.Scan(&t.ID, &t.VenueID, &t.Name, &t.Level, &t.Mode, &t.UnitValue, &courtIDs, &t.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan extra charge template: %w", err)
		}
		if t.CourtIDs, err = splitIDs(courtIDs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) AddHoliday(ctx context.Context, h models.Holiday) error {
	query, args, err := qb.Insert("holidays").
		Options("OR REPLACE").
		Columns("date", "name").
		Values(formatDate(h.Date), h.Name).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: AddHoliday: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to add holiday: %w", err)
	}
	return nil
}

func (db *DB) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	query, args, err := qb.Select("COUNT(*)").
		From("holidays").
		Where(sq.Eq{"date": formatDate(date)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: IsHoliday: %v", ErrBuildQuery, err)
	}

	var count int
	if err := db.executor(ctx).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check holiday: %w", err)
	}
	return count > 0, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid court id list %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
