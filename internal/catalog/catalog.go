// Package catalog seeds venues, courts, slot templates and price tables from a
// YAML file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"courtbook/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Venues   []Venue   `yaml:"venues"`
	Holidays []Holiday `yaml:"holidays"`
}

type Venue struct {
	ID     int64       `yaml:"id"`
	Courts []Court     `yaml:"courts"`
	Prices *PriceTable `yaml:"prices"`
	Extras []Extra     `yaml:"extras"`
}

// Court is cut into SlotMinutes long templates between Open and Close.
type Court struct {
	Name        string `yaml:"name"`
	Open        string `yaml:"open"`
	Close       string `yaml:"close"`
	SlotMinutes int    `yaml:"slot_minutes"`
}

type PriceTable struct {
	Name    string   `yaml:"name"`
	Periods []Period `yaml:"periods"`
}

type Period struct {
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Weekday int64  `yaml:"weekday"`
	Weekend int64  `yaml:"weekend"`
	Holiday int64  `yaml:"holiday"`
}

// Extra is a surcharge. Courts lists court names; empty means every court.
type Extra struct {
	Name   string   `yaml:"name"`
	Level  string   `yaml:"level"`
	Mode   string   `yaml:"mode"`
	Value  float64  `yaml:"value"`
	Courts []string `yaml:"courts"`
}

type Holiday struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

// Store is the part of the database the seeder writes to.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListCourtsByVenue(ctx context.Context, venueID int64) ([]*models.Court, error)
	CreateCourt(ctx context.Context, court *models.Court) error
	CreateSlotTemplate(ctx context.Context, tpl *models.SlotTemplate) error
	CreatePriceTemplate(ctx context.Context, tpl *models.PriceTemplate) error
	CreateExtraChargeTemplate(ctx context.Context, t *models.ExtraChargeTemplate) error
	AddHoliday(ctx context.Context, h models.Holiday) error
}

// Result counts what Apply created.
type Result struct {
	Venues        int
	SkippedVenues int
	Courts        int
	Templates     int
	Holidays      int
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	if len(c.Venues) == 0 {
		return errors.New("catalog has no venues")
	}
	seen := make(map[int64]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.ID <= 0 {
			return fmt.Errorf("venue id must be positive, got %d", v.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("venue %d listed twice", v.ID)
		}
		seen[v.ID] = true

		names := make(map[string]bool, len(v.Courts))
		for _, court := range v.Courts {
			if strings.TrimSpace(court.Name) == "" {
				return fmt.Errorf("venue %d: court name is required", v.ID)
			}
			if names[court.Name] {
				return fmt.Errorf("venue %d: court %q listed twice", v.ID, court.Name)
			}
			names[court.Name] = true
			if _, err := court.Slots(); err != nil {
				return fmt.Errorf("venue %d court %q: %w", v.ID, court.Name, err)
			}
		}
		if v.Prices != nil {
			for _, p := range v.Prices.Periods {
				if err := p.validate(); err != nil {
					return fmt.Errorf("venue %d prices: %w", v.ID, err)
				}
			}
		}
		for _, e := range v.Extras {
			if _, err := e.level(); err != nil {
				return fmt.Errorf("venue %d extra %q: %w", v.ID, e.Name, err)
			}
			if _, err := e.mode(); err != nil {
				return fmt.Errorf("venue %d extra %q: %w", v.ID, e.Name, err)
			}
			for _, name := range e.Courts {
				if !names[name] {
					return fmt.Errorf("venue %d extra %q: unknown court %q", v.ID, e.Name, name)
				}
			}
		}
	}
	for _, h := range c.Holidays {
		if _, err := time.Parse(models.DateLayout, h.Date); err != nil {
			return fmt.Errorf("holiday %q: bad date", h.Date)
		}
	}
	return nil
}

// Slots returns the [start, end) pairs of the court's templates.
func (c Court) Slots() ([][2]string, error) {
	if c.SlotMinutes <= 0 {
		return nil, errors.New("slot_minutes must be positive")
	}
	open, err := time.Parse(models.TimeLayout, c.Open)
	if err != nil {
		return nil, fmt.Errorf("bad open time %q", c.Open)
	}
	closing, err := time.Parse(models.TimeLayout, c.Close)
	if err != nil {
		return nil, fmt.Errorf("bad close time %q", c.Close)
	}
	if !open.Before(closing) {
		return nil, fmt.Errorf("open %s must be before close %s", c.Open, c.Close)
	}

	step := time.Duration(c.SlotMinutes) * time.Minute
	var out [][2]string
	for t := open; !t.Add(step).After(closing); t = t.Add(step) {
		out = append(out, [2]string{t.Format(models.TimeLayout), t.Add(step).Format(models.TimeLayout)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no %d minute slot fits between %s and %s", c.SlotMinutes, c.Open, c.Close)
	}
	return out, nil
}

func (p Period) validate() error {
	start, err := time.Parse(models.TimeLayout, p.Start)
	if err != nil {
		return fmt.Errorf("bad period start %q", p.Start)
	}
	end, err := time.Parse(models.TimeLayout, p.End)
	if err != nil {
		return fmt.Errorf("bad period end %q", p.End)
	}
	if !start.Before(end) {
		return fmt.Errorf("period %s-%s must start before it ends", p.Start, p.End)
	}
	return nil
}

func (e Extra) level() (models.ChargeLevel, error) {
	switch l := models.ChargeLevel(strings.ToUpper(e.Level)); l {
	case models.ChargeLevelOrder, models.ChargeLevelItem:
		return l, nil
	}
	return "", fmt.Errorf("unknown level %q", e.Level)
}

func (e Extra) mode() (models.ChargeMode, error) {
	switch m := models.ChargeMode(strings.ToUpper(e.Mode)); m {
	case models.ChargeModePercent, models.ChargeModeFixed:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", e.Mode)
}

// Apply seeds every venue that has no courts yet. Venues with courts are left
// alone so the catalog can be applied on every start. Holidays are upserted.
func Apply(ctx context.Context, store Store, c *Catalog, logger *zerolog.Logger) (Result, error) {
	var res Result
	for _, v := range c.Venues {
		existing, err := store.ListCourtsByVenue(ctx, v.ID)
		if err != nil {
			return res, fmt.Errorf("venue %d: %w", v.ID, err)
		}
		if len(existing) > 0 {
			res.SkippedVenues++
			continue
		}

		var courts, templates int
		err = store.WithTx(ctx, func(ctx context.Context) error {
			var err error
			courts, templates, err = seedVenue(ctx, store, v)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("seed venue %d: %w", v.ID, err)
		}
		res.Venues++
		res.Courts += courts
		res.Templates += templates
		logger.Info().Int64("venue_id", v.ID).Int("courts", courts).Int("templates", templates).Msg("Venue seeded")
	}

	for _, h := range c.Holidays {
		date, _ := time.Parse(models.DateLayout, h.Date)
		if err := store.AddHoliday(ctx, models.Holiday{Date: date, Name: h.Name}); err != nil {
			return res, fmt.Errorf("holiday %s: %w", h.Date, err)
		}
		res.Holidays++
	}
	return res, nil
}

func seedVenue(ctx context.Context, store Store, v Venue) (courts, templates int, err error) {
	courtIDs := make(map[string]int64, len(v.Courts))
	for _, c := range v.Courts {
		court := &models.Court{VenueID: v.ID, Name: c.Name}
		if err := store.CreateCourt(ctx, court); err != nil {
			return courts, templates, err
		}
		courtIDs[c.Name] = court.ID
		courts++

		slots, _ := c.Slots()
		for _, s := range slots {
			if err := store.CreateSlotTemplate(ctx, &models.SlotTemplate{CourtID: court.ID, StartTime: s[0], EndTime: s[1]}); err != nil {
				return courts, templates, err
			}
			templates++
		}
	}

	if v.Prices != nil && len(v.Prices.Periods) > 0 {
		tpl := &models.PriceTemplate{VenueID: v.ID, Name: v.Prices.Name, Enabled: true}
		for _, p := range v.Prices.Periods {
			tpl.Periods = append(tpl.Periods, models.PricePeriod{
				StartTime:    p.Start,
				EndTime:      p.End,
				WeekdayPrice: p.Weekday,
				WeekendPrice: p.Weekend,
				HolidayPrice: p.Holiday,
			})
		}
		if err := store.CreatePriceTemplate(ctx, tpl); err != nil {
			return courts, templates, err
		}
	}

	for _, e := range v.Extras {
		level, _ := e.level()
		mode, _ := e.mode()
		ids := make([]int64, 0, len(e.Courts))
		for _, name := range e.Courts {
			ids = append(ids, courtIDs[name])
		}
		err := store.CreateExtraChargeTemplate(ctx, &models.ExtraChargeTemplate{
			VenueID:   v.ID,
			Name:      e.Name,
			Level:     level,
			Mode:      mode,
			UnitValue: e.Value,
			CourtIDs:  ids,
			Enabled:   true,
		})
		if err != nil {
			return courts, templates, err
		}
	}
	return courts, templates, nil
}
