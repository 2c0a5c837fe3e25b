package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/lock"
	"courtbook/internal/models"

	"github.com/rs/zerolog"
)

// ReserveRequest asks for a set of slot templates on one date.
type ReserveRequest struct {
	UserID          int64                 `json:"user_id"`
	Source          models.OperatorSource `json:"source"`
	BookingDate     time.Time             `json:"booking_date"`
	SlotTemplateIDs []int64               `json:"slot_template_ids"`
}

// ReleaseRequest gives reserved slots back.
type ReleaseRequest struct {
	OperatorID      int64                 `json:"operator_id"`
	Source          models.OperatorSource `json:"source"`
	BookingDate     time.Time             `json:"booking_date"`
	SlotTemplateIDs []int64               `json:"slot_template_ids"`
}

// BlockRequest is a merchant closing or reopening slots.
type BlockRequest struct {
	MerchantID      int64     `json:"merchant_id"`
	BookingDate     time.Time `json:"booking_date"`
	SlotTemplateIDs []int64   `json:"slot_template_ids"`
	Reason          string    `json:"reason"`
}

// ReservationService moves slot records between states under the slot keys.
type ReservationService struct {
	slotGuard
	pricer Pricer
}

func NewReservationService(
	store domain.SlotStore,
	locker lock.Locker,
	keys lock.KeyBuilder,
	pricer Pricer,
	eventBus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *ReservationService {
	return &ReservationService{
		slotGuard: slotGuard{
			store:  store,
			locker: locker,
			keys:   keys,
			events: eventBus,
			opts:   opts.withDefaults(),
			logger: logger,
		},
		pricer: pricer,
	}
}

// ReserveSlots moves every requested slot to LOCKED_IN for the user and
// returns the price quote, or changes nothing.
func (s *ReservationService) ReserveSlots(ctx context.Context, req ReserveRequest) (quote *models.Quote, err error) {
	defer func() { observe("reserve", err) }()

	if req.UserID <= 0 {
		return nil, domain.Validationf("user id is required")
	}
	source, err := operatorSource(req.Source)
	if err != nil {
		return nil, err
	}

	templates, err := s.loadTemplates(ctx, req.SlotTemplateIDs)
	if err != nil {
		return nil, err
	}
	venueID, err := sameVenue(templates)
	if err != nil {
		return nil, err
	}
	date := s.bookingDate(req.BookingDate)
	if err := s.validateDate(date, templates); err != nil {
		return nil, err
	}

	ids := templateIDs(templates)
	if _, err := s.checkBookable(ctx, ids, date); err != nil {
		return nil, err
	}

	op := models.Operator{ID: req.UserID, Source: source}
	err = s.withSlotKeys(ctx, ids, date, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			recordIDs, err := s.claim(ctx, "reserve", ids, date, models.SlotLockedIn, op)
			if err != nil {
				return err
			}

			bd, err := s.pricer.Breakdown(ctx, venueID, date, templates)
			if err != nil {
				return fmt.Errorf("price slots: %w", err)
			}
			quote = &models.Quote{PricingBreakdown: *bd, UserID: req.UserID, SlotRecordIDs: recordIDs}
			return nil
		})
	})
	if err != nil {
		s.logger.Debug().Err(err).Int64("user_id", req.UserID).Ints64("slots", ids).Msg("reservation failed")
		return nil, err
	}

	s.logger.Info().Int64("user_id", req.UserID).Ints64("slots", ids).Str("date", date.Format(models.DateLayout)).
		Int64("total", quote.Total).Msg("slots reserved")
	s.publish(events.EventSlotsReserved, s.slotPayload(venueID, templates, date, models.SlotLockedIn, op, quote.Total))
	return quote, nil
}

// claim moves AVAILABLE or missing records to status inside the caller's
// transaction. It re-checks availability first; a change since the pre-check
// is reported as stale.
func (s *ReservationService) claim(ctx context.Context, op string, ids []int64, date time.Time, to models.SlotStatus, operator models.Operator) ([]int64, error) {
	records, err := s.checkBookable(ctx, ids, date)
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			return nil, fmt.Errorf("%w: %w", err, domain.ErrStale)
		}
		return nil, err
	}

	recordIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			rec = &models.SlotRecord{
				SlotTemplateID: id,
				BookingDate:    date,
				Status:         to,
				OperatorID:     operator.ID,
				OperatorSource: operator.Source,
				LockReason:     operator.Reason,
			}
			if err := s.store.InsertSlotRecord(ctx, rec); err != nil {
				if errors.Is(err, database.ErrDuplicateRecord) {
					return nil, s.invariantViolation(op, id, date, "record appeared while locked")
				}
				return nil, err
			}
			recordIDs = append(recordIDs, rec.ID)
			continue
		}

		n, err := s.store.CompareAndSetSlotStatus(ctx, rec.ID, models.SlotAvailable, to, operator)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, s.invariantViolation(op, id, date, "conditional update matched no rows")
		}
		recordIDs = append(recordIDs, rec.ID)
	}
	return recordIDs, nil
}

// revert moves records in status from back to AVAILABLE. allowed decides
// whether the operator may touch a record.
func (s *ReservationService) revert(ctx context.Context, op string, ids []int64, date time.Time, from models.SlotStatus,
	operator models.Operator, allowed func(*models.SlotRecord) bool,
) error {
	records, err := s.store.GetSlotRecords(ctx, ids, date)
	if err != nil {
		return fmt.Errorf("load slot records: %w", err)
	}
	for _, id := range ids {
		rec, ok := records[id]
		if !ok || rec.Status != from {
			return fmt.Errorf("%w: slot %d is not %s", domain.ErrSlotUnavailable, id, from)
		}
		if !allowed(rec) {
			return domain.Validationf("slot %d is held by another operator", id)
		}
	}

	for _, id := range ids {
		n, err := s.store.CompareAndSetSlotStatus(ctx, records[id].ID, from, models.SlotAvailable, operator)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.invariantViolation(op, id, date, "conditional update matched no rows")
		}
	}
	return nil
}

// ReleaseSlots returns LOCKED_IN slots to AVAILABLE. Users may release only
// their own slots; merchants may release any.
func (s *ReservationService) ReleaseSlots(ctx context.Context, req ReleaseRequest) (err error) {
	defer func() { observe("release", err) }()

	if req.OperatorID <= 0 {
		return domain.Validationf("operator id is required")
	}
	source, err := operatorSource(req.Source)
	if err != nil {
		return err
	}
	templates, err := s.loadTemplates(ctx, req.SlotTemplateIDs)
	if err != nil {
		return err
	}
	venueID, err := sameVenue(templates)
	if err != nil {
		return err
	}

	date := s.bookingDate(req.BookingDate)
	ids := templateIDs(templates)
	op := models.Operator{ID: req.OperatorID, Source: source}
	owns := func(r *models.SlotRecord) bool {
		return source == models.SourceMerchant || (r.OperatorID == req.OperatorID && r.OperatorSource == source)
	}

	err = s.withSlotKeys(ctx, ids, date, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			return s.revert(ctx, "release", ids, date, models.SlotLockedIn, op, owns)
		})
	})
	if err != nil {
		return err
	}

	s.publish(events.EventSlotsReleased, s.slotPayload(venueID, templates, date, models.SlotAvailable, op, 0))
	return nil
}

// BlockSlots closes available slots for merchant reasons.
func (s *ReservationService) BlockSlots(ctx context.Context, req BlockRequest) (err error) {
	defer func() { observe("block", err) }()

	if req.MerchantID <= 0 {
		return domain.Validationf("merchant id is required")
	}
	templates, err := s.loadTemplates(ctx, req.SlotTemplateIDs)
	if err != nil {
		return err
	}
	venueID, err := sameVenue(templates)
	if err != nil {
		return err
	}
	date := s.bookingDate(req.BookingDate)
	if err := s.validateDate(date, nil); err != nil {
		return err
	}

	ids := templateIDs(templates)
	if _, err := s.checkBookable(ctx, ids, date); err != nil {
		return err
	}

	op := models.Operator{ID: req.MerchantID, Source: models.SourceMerchant, Reason: req.Reason}
	err = s.withSlotKeys(ctx, ids, date, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			_, err := s.claim(ctx, "block", ids, date, models.SlotUnavailable, op)
			return err
		})
	})
	if err != nil {
		return err
	}

	s.publish(events.EventSlotsBlocked, s.slotPayload(venueID, templates, date, models.SlotUnavailable, op, 0))
	return nil
}

// UnblockSlots reopens slots closed by BlockSlots.
func (s *ReservationService) UnblockSlots(ctx context.Context, req BlockRequest) (err error) {
	defer func() { observe("unblock", err) }()

	if req.MerchantID <= 0 {
		return domain.Validationf("merchant id is required")
	}
	templates, err := s.loadTemplates(ctx, req.SlotTemplateIDs)
	if err != nil {
		return err
	}
	venueID, err := sameVenue(templates)
	if err != nil {
		return err
	}

	date := s.bookingDate(req.BookingDate)
	ids := templateIDs(templates)
	op := models.Operator{ID: req.MerchantID, Source: models.SourceMerchant}
	anyone := func(*models.SlotRecord) bool { return true }

	err = s.withSlotKeys(ctx, ids, date, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			return s.revert(ctx, "unblock", ids, date, models.SlotUnavailable, op, anyone)
		})
	})
	if err != nil {
		return err
	}

	s.publish(events.EventSlotsUnblocked, s.slotPayload(venueID, templates, date, models.SlotAvailable, op, 0))
	return nil
}

// SlotStates merges slot records and activity locks of a court on date.
func (s *ReservationService) SlotStates(ctx context.Context, courtID int64, date time.Time) ([]models.SlotState, error) {
	if _, err := s.store.GetCourt(ctx, courtID); err != nil {
		return nil, err
	}
	templates, err := s.store.ListSlotTemplatesByCourt(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("load slot templates: %w", err)
	}
	if len(templates) == 0 {
		return []models.SlotState{}, nil
	}

	date = s.bookingDate(date)
	ids := templateIDs(templates)
	records, err := s.store.GetSlotRecords(ctx, ids, date)
	if err != nil {
		return nil, fmt.Errorf("load slot records: %w", err)
	}
	locks, err := s.store.GetActiveActivityLocks(ctx, ids, date)
	if err != nil {
		return nil, fmt.Errorf("load activity locks: %w", err)
	}

	states := make([]models.SlotState, 0, len(templates))
	for _, t := range templates {
		st := models.SlotState{Template: *t, Status: models.SlotAvailable}
		if r, ok := records[t.ID]; ok {
			st.Status = r.Status
			st.OperatorID = r.OperatorID
		}
		if l, ok := locks[t.ID]; ok {
			st.ActivityID = l.ActivityID
		}
		states = append(states, st)
	}
	return states, nil
}

func (s *ReservationService) slotPayload(venueID int64, templates []*models.SlotTemplate, date time.Time,
	status models.SlotStatus, op models.Operator, total int64,
) events.SlotEventPayload {
	return events.SlotEventPayload{
		VenueID:         venueID,
		CourtIDs:        courtIDs(templates),
		SlotTemplateIDs: templateIDs(templates),
		BookingDate:     date.Format(models.DateLayout),
		Status:          string(status),
		OperatorID:      op.ID,
		OperatorSource:  string(op.Source),
		Reason:          op.Reason,
		Total:           total,
		OccurredAt:      s.opts.Now(),
	}
}
