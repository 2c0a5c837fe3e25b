// Package pricing resolves slot prices and extra charges for a venue and date.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Resolved is the price of one slot start time.
type Resolved struct {
	Price      int64
	Priced     bool
	Overridden bool
}

// Engine computes prices from the venue's enabled price template, date
// overrides and extra charge templates. All reads go through the repository
// with the caller's context, so a quote made inside a transaction reads that
// transaction's view.
type Engine struct {
	repo         domain.PriceRepository
	defaultPrice int64
	logger       *zerolog.Logger
}

func NewEngine(repo domain.PriceRepository, defaultPrice int64, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{repo: repo, defaultPrice: defaultPrice, logger: logger}
}

// priceBook holds everything needed to price one venue on one date.
type priceBook struct {
	kind      models.DayKind
	template  *models.PriceTemplate
	overrides []models.PriceOverride
}

func (b *priceBook) resolve(start string) Resolved {
	for _, o := range b.overrides {
		if o.Enabled && o.Contains(start) {
			return Resolved{Price: o.Price, Priced: true, Overridden: true}
		}
	}
	if b.template != nil {
		for _, p := range b.template.Periods {
			if p.Contains(start) {
				return Resolved{Price: p.PriceFor(b.kind), Priced: true}
			}
		}
	}
	return Resolved{}
}

func (e *Engine) loadBook(ctx context.Context, g *errgroup.Group, venueID int64, date time.Time) *priceBook {
	book := &priceBook{}

	g.Go(func() error {
		tpl, err := e.repo.GetEnabledPriceTemplate(ctx, venueID)
		if err != nil {
			return fmt.Errorf("load price template: %w", err)
		}
		book.template = tpl
		return nil
	})
	g.Go(func() error {
		overrides, err := e.repo.ListPriceOverrides(ctx, venueID, date)
		if err != nil {
			return fmt.Errorf("load price overrides: %w", err)
		}
		book.overrides = overrides
		return nil
	})
	g.Go(func() error {
		holiday, err := e.repo.IsHoliday(ctx, date)
		if err != nil {
			return fmt.Errorf("load holidays: %w", err)
		}
		book.kind = ClassifyDay(date, holiday)
		return nil
	})
	return book
}

// ClassifyDay picks the price column for date: holiday wins over weekend.
func ClassifyDay(date time.Time, holiday bool) models.DayKind {
	if holiday {
		return models.DayHoliday
	}
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return models.DayWeekend
	default:
		return models.DayWeekday
	}
}

// DayKind classifies date for the price tables.
func (e *Engine) DayKind(ctx context.Context, date time.Time) (models.DayKind, error) {
	holiday, err := e.repo.IsHoliday(ctx, date)
	if err != nil {
		return "", err
	}
	return ClassifyDay(date, holiday), nil
}

// ResolvePrice returns the price of a single slot start. Priced is false when
// neither an override nor a template period covers start.
func (e *Engine) ResolvePrice(ctx context.Context, venueID int64, date time.Time, start string) (Resolved, error) {
	prices, err := e.ResolvePrices(ctx, venueID, date, []string{start})
	if err != nil {
		return Resolved{}, err
	}
	return prices[start], nil
}

// ResolvePrices resolves every distinct start time with one load of the
// venue's price data.
func (e *Engine) ResolvePrices(ctx context.Context, venueID int64, date time.Time, starts []string) (map[string]Resolved, error) {
	g, gctx := errgroup.WithContext(ctx)
	book := e.loadBook(gctx, g, venueID, date)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Resolved, len(starts))
	for _, s := range starts {
		if _, ok := out[s]; ok {
			continue
		}
		out[s] = book.resolve(s)
	}
	return out, nil
}

// OrderExtras applies the enabled order-level charges once per order.
func (e *Engine) OrderExtras(ctx context.Context, venueID int64, basePrice int64, slotCount int) ([]models.OrderExtra, error) {
	templates, err := e.repo.ListExtraChargeTemplates(ctx, venueID, models.ChargeLevelOrder)
	if err != nil {
		return nil, fmt.Errorf("load order charges: %w", err)
	}
	return orderExtras(templates, basePrice, slotCount), nil
}

// ItemExtras applies the enabled item-level charges to each court. priceMap
// maps slot template id to its base price.
func (e *Engine) ItemExtras(ctx context.Context, venueID int64, templatesByCourt map[int64][]*models.SlotTemplate, priceMap map[int64]int64) ([]models.CourtExtra, error) {
	templates, err := e.repo.ListExtraChargeTemplates(ctx, venueID, models.ChargeLevelItem)
	if err != nil {
		return nil, fmt.Errorf("load item charges: %w", err)
	}
	return itemExtras(templates, templatesByCourt, priceMap), nil
}

// Breakdown prices a set of slots of one venue on date. Unpriced slots cost
// the configured default price.
func (e *Engine) Breakdown(ctx context.Context, venueID int64, date time.Time, slots []*models.SlotTemplate) (*models.PricingBreakdown, error) {
	var orderCharges, itemCharges []models.ExtraChargeTemplate

	g, gctx := errgroup.WithContext(ctx)
	book := e.loadBook(gctx, g, venueID, date)
	g.Go(func() error {
		t, err := e.repo.ListExtraChargeTemplates(gctx, venueID, models.ChargeLevelOrder)
		if err != nil {
			return fmt.Errorf("load order charges: %w", err)
		}
		orderCharges = t
		return nil
	})
	g.Go(func() error {
		t, err := e.repo.ListExtraChargeTemplates(gctx, venueID, models.ChargeLevelItem)
		if err != nil {
			return fmt.Errorf("load item charges: %w", err)
		}
		itemCharges = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sorted := make([]*models.SlotTemplate, len(slots))
	copy(sorted, slots)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CourtID != sorted[j].CourtID {
			return sorted[i].CourtID < sorted[j].CourtID
		}
		return sorted[i].StartTime < sorted[j].StartTime
	})

	bd := &models.PricingBreakdown{
		VenueID:     venueID,
		BookingDate: models.DateOnly(date),
		DayKind:     book.kind,
		Slots:       make([]models.SlotPrice, 0, len(sorted)),
	}
	priceMap := make(map[int64]int64, len(sorted))
	byCourt := make(map[int64][]*models.SlotTemplate)

	for _, t := range sorted {
		r := book.resolve(t.StartTime)
		price := r.Price
		if !r.Priced {
			price = e.defaultPrice
			e.logger.Debug().Int64("slot_template_id", t.ID).Str("start", t.StartTime).Msg("slot has no price, using default")
		}
		bd.Slots = append(bd.Slots, models.SlotPrice{
			SlotTemplateID: t.ID,
			CourtID:        t.CourtID,
			StartTime:      t.StartTime,
			EndTime:        t.EndTime,
			Price:          price,
			Priced:         r.Priced,
			Overridden:     r.Overridden,
		})
		priceMap[t.ID] = price
		byCourt[t.CourtID] = append(byCourt[t.CourtID], t)
		bd.SlotTotal += price
	}

	bd.OrderExtras = orderExtras(orderCharges, orderBase(bd.SlotTotal, len(sorted)), len(sorted))
	bd.CourtExtras = itemExtras(itemCharges, byCourt, priceMap)

	for _, x := range bd.OrderExtras {
		bd.ExtrasTotal += x.Amount
	}
	for _, x := range bd.CourtExtras {
		bd.ExtrasTotal += x.Amount
	}
	bd.Total = bd.SlotTotal + bd.ExtrasTotal
	return bd, nil
}

// orderBase is the per-slot base price an order-level percentage applies to.
func orderBase(slotTotal int64, slotCount int) int64 {
	if slotCount == 0 {
		return 0
	}
	return roundCents(float64(slotTotal) / float64(slotCount))
}

func orderExtras(templates []models.ExtraChargeTemplate, basePrice int64, slotCount int) []models.OrderExtra {
	out := make([]models.OrderExtra, 0, len(templates))
	if slotCount == 0 {
		return out
	}
	for _, t := range templates {
		if !t.Enabled || t.Level != models.ChargeLevelOrder {
			continue
		}
		out = append(out, models.OrderExtra{
			TemplateID: t.ID,
			Name:       t.Name,
			Amount:     charge(t, basePrice),
		})
	}
	return out
}

func itemExtras(templates []models.ExtraChargeTemplate, templatesByCourt map[int64][]*models.SlotTemplate, priceMap map[int64]int64) []models.CourtExtra {
	courts := make([]int64, 0, len(templatesByCourt))
	for id := range templatesByCourt {
		courts = append(courts, id)
	}
	sort.Slice(courts, func(i, j int) bool { return courts[i] < courts[j] })

	var out []models.CourtExtra
	for _, courtID := range courts {
		slots := templatesByCourt[courtID]
		if len(slots) == 0 {
			continue
		}
		var base int64
		for _, s := range slots {
			base += priceMap[s.ID]
		}
		for _, t := range templates {
			if !t.Enabled || t.Level != models.ChargeLevelItem || !t.AppliesToCourt(courtID) {
				continue
			}
			unit := charge(t, base)
			out = append(out, models.CourtExtra{
				TemplateID: t.ID,
				CourtID:    courtID,
				Name:       t.Name,
				UnitAmount: unit,
				SlotCount:  len(slots),
				Amount:     unit * int64(len(slots)),
			})
		}
	}
	return out
}

func charge(t models.ExtraChargeTemplate, base int64) int64 {
	if t.Mode == models.ChargeModePercent {
		return roundCents(float64(base) * t.UnitValue / 100)
	}
	return roundCents(t.UnitValue)
}

// roundCents rounds half away from zero.
func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
