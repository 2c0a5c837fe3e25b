package service

import (
	"context"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/models"

	"github.com/rs/zerolog"
)

// PricingService quotes slots without reserving them.
type PricingService struct {
	templates domain.SlotTemplateRepository
	pricer    Pricer
	location  *time.Location
	logger    *zerolog.Logger
}

func NewPricingService(templates domain.SlotTemplateRepository, pricer Pricer, location *time.Location, logger *zerolog.Logger) *PricingService {
	if location == nil {
		location = time.Local
	}
	return &PricingService{templates: templates, pricer: pricer, location: location, logger: logger}
}

// ResolvePricing returns the breakdown for the given templates of one venue.
func (s *PricingService) ResolvePricing(ctx context.Context, venueID int64, date time.Time, ids []int64) (bd *models.PricingBreakdown, err error) {
	defer func() { observe("resolve_pricing", err) }()

	unique := uniqueIDs(ids)
	if len(unique) == 0 {
		return nil, domain.Validationf("no slot templates requested")
	}
	templates, err := s.templates.GetSlotTemplatesByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	if len(templates) != len(unique) {
		return nil, domain.Validationf("%d of %d slot templates not found", len(unique)-len(templates), len(unique))
	}
	for _, t := range templates {
		if t.VenueID != venueID {
			return nil, domain.Validationf("slot %d does not belong to venue %d", t.ID, venueID)
		}
	}

	y, m, d := date.Date()
	return s.pricer.Breakdown(ctx, venueID, time.Date(y, m, d, 0, 0, 0, 0, s.location), templates)
}
