package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/lock"
	"courtbook/internal/metrics"
	"courtbook/internal/models"

	"github.com/rs/zerolog"
)

// Pricer quotes a set of slots. It must read through ctx so a quote taken
// inside a transaction sees that transaction.
type Pricer interface {
	Breakdown(ctx context.Context, venueID int64, date time.Time, slots []*models.SlotTemplate) (*models.PricingBreakdown, error)
}

// Options shared by the coordinators.
type Options struct {
	MaxAdvanceDays int
	Location       *time.Location
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAdvanceDays <= 0 {
		o.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// slotGuard holds what both coordinators need to run a critical section over
// a set of slot keys.
type slotGuard struct {
	store  domain.SlotStore
	locker lock.Locker
	keys   lock.KeyBuilder
	events domain.EventPublisher
	opts   Options
	logger *zerolog.Logger
}

// bookingDate keeps the calendar day of t in the service location.
func (g *slotGuard) bookingDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.opts.Location)
}

// validateDate rejects past days, days beyond the advance window and, for
// today, slots that already started.
func (g *slotGuard) validateDate(date time.Time, templates []*models.SlotTemplate) error {
	now := g.opts.Now().In(g.opts.Location)
	today := g.bookingDate(now)

	if date.Before(today) {
		return domain.Validationf("booking date %s is in the past", date.Format(models.DateLayout))
	}
	if date.After(today.AddDate(0, 0, g.opts.MaxAdvanceDays)) {
		return domain.Validationf("booking date %s is more than %d days ahead", date.Format(models.DateLayout), g.opts.MaxAdvanceDays)
	}
	if date.Equal(today) {
		clock := now.Format(models.TimeLayout)
		for _, t := range templates {
			if t.StartTime <= clock {
				return domain.Validationf("slot %s has already started", t.StartTime)
			}
		}
	}
	return nil
}

// loadTemplates resolves ids to templates ordered by court and start time.
// Every id must exist.
func (g *slotGuard) loadTemplates(ctx context.Context, ids []int64) ([]*models.SlotTemplate, error) {
	unique := uniqueIDs(ids)
	if len(unique) == 0 {
		return nil, domain.Validationf("no slot templates requested")
	}
	for _, id := range unique {
		if id <= 0 {
			return nil, domain.Validationf("invalid slot template id %d", id)
		}
	}

	templates, err := g.store.GetSlotTemplatesByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("load slot templates: %w", err)
	}
	if len(templates) != len(unique) {
		return nil, domain.Validationf("%d of %d slot templates not found", len(unique)-len(templates), len(unique))
	}
	return templates, nil
}

// sameVenue returns the venue all templates belong to.
func sameVenue(templates []*models.SlotTemplate) (int64, error) {
	venueID := templates[0].VenueID
	for _, t := range templates[1:] {
		if t.VenueID != venueID {
			return 0, domain.Validationf("slots belong to different venues")
		}
	}
	return venueID, nil
}

// withSlotKeys runs fn while holding the keys of every template on date.
// The keys are released whatever fn returns.
func (g *slotGuard) withSlotKeys(ctx context.Context, templateIDs []int64, date time.Time, fn func() error) error {
	set, err := g.locker.Acquire(ctx, g.keys.SlotKeys(templateIDs, date))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return domain.ErrSlotBusyRetry
		}
		return fmt.Errorf("acquire slot locks: %w", err)
	}
	defer func() {
		if _, err := g.locker.Release(context.WithoutCancel(ctx), set); err != nil {
			g.logger.Warn().Err(err).Strs("keys", set.Keys).Msg("failed to release slot locks")
		}
	}()
	if set.Lease > 0 {
		stop := g.keepAlive(ctx, set)
		defer stop()
	}

	return fn()
}

// keepAlive renews a leased key set every half lease until stop is called,
// so a slow critical section does not outlive its keys.
func (g *slotGuard) keepAlive(ctx context.Context, set *lock.HandleSet) (stop func()) {
	lease := set.Lease
	renewCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		interval := lease / 2
		if interval <= 0 {
			interval = lease
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := g.locker.Renew(renewCtx, set, lease); err != nil {
					g.logger.Error().Err(err).Strs("keys", set.Keys).Msg("failed to renew slot locks")
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// checkBookable fails with ErrSlotUnavailable when any slot has a record in a
// status other than AVAILABLE or belongs to an active activity.
func (g *slotGuard) checkBookable(ctx context.Context, templateIDs []int64, date time.Time) (map[int64]*models.SlotRecord, error) {
	records, err := g.store.GetSlotRecords(ctx, templateIDs, date)
	if err != nil {
		return nil, fmt.Errorf("load slot records: %w", err)
	}
	for _, id := range templateIDs {
		if r, ok := records[id]; ok && r.Status != models.SlotAvailable {
			return nil, fmt.Errorf("%w: slot %d is %s", domain.ErrSlotUnavailable, id, r.Status)
		}
	}

	locks, err := g.store.GetActiveActivityLocks(ctx, templateIDs, date)
	if err != nil {
		return nil, fmt.Errorf("load activity locks: %w", err)
	}
	for _, id := range templateIDs {
		if l, ok := locks[id]; ok {
			return nil, fmt.Errorf("%w: slot %d belongs to activity %d", domain.ErrSlotUnavailable, id, l.ActivityID)
		}
	}
	return records, nil
}

// invariantViolation reports a conditional write that changed nothing while
// the slot key was held.
func (g *slotGuard) invariantViolation(op string, templateID int64, date time.Time, detail string) error {
	metrics.IncInvariantViolation()
	g.logger.Error().
		Str("operation", op).
		Int64("slot_template_id", templateID).
		Str("date", date.Format(models.DateLayout)).
		Str("detail", detail).
		Msg("slot invariant violated under lock")
	return fmt.Errorf("%w: slot %d on %s: %s", domain.ErrInvariantViolation, templateID, date.Format(models.DateLayout), detail)
}

func (g *slotGuard) publish(eventType string, payload interface{}) {
	if g.events == nil {
		return
	}
	if err := g.events.PublishJSON(eventType, payload); err != nil {
		g.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

// observe counts the outcome of an operation; use with a named error return.
func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.CodeOf(err))
	}
	metrics.IncOperation(operation, result)
}

// operatorSource defaults an empty source to USER and rejects unknown ones.
func operatorSource(src models.OperatorSource) (models.OperatorSource, error) {
	if src == "" {
		return models.SourceUser, nil
	}
	if !src.Valid() {
		return "", domain.Validationf("unknown operator source %q", src)
	}
	return src, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func templateIDs(templates []*models.SlotTemplate) []int64 {
	ids := make([]int64, len(templates))
	for i, t := range templates {
		ids[i] = t.ID
	}
	return ids
}

func courtIDs(templates []*models.SlotTemplate) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, t := range templates {
		if _, ok := seen[t.CourtID]; ok {
			continue
		}
		seen[t.CourtID] = struct{}{}
		ids = append(ids, t.CourtID)
	}
	return ids
}
