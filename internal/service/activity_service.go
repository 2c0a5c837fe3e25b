package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/lock"
	"courtbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxActivityNameLen = 100

// CreateActivityRequest describes a group activity over consecutive slots of
// one court.
type CreateActivityRequest struct {
	SlotTemplateIDs []int64   `json:"slot_template_ids"`
	Name            string    `json:"name"`
	BookingDate     time.Time `json:"booking_date"`
	MaxParticipants int       `json:"max_participants"`
	UnitPrice       int64     `json:"unit_price"`
}

// ActivityService creates activities and keeps their slot locks consistent
// with slot records.
type ActivityService struct {
	slotGuard
}

func NewActivityService(
	store domain.SlotStore,
	locker lock.Locker,
	keys lock.KeyBuilder,
	eventBus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *ActivityService {
	return &ActivityService{
		slotGuard: slotGuard{
			store:  store,
			locker: locker,
			keys:   keys,
			events: eventBus,
			opts:   opts.withDefaults(),
			logger: logger,
		},
	}
}

func (r CreateActivityRequest) validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return domain.Validationf("activity name is required")
	}
	if utf8.RuneCountInString(name) > maxActivityNameLen {
		return domain.Validationf("activity name is longer than %d characters", maxActivityNameLen)
	}
	if r.MaxParticipants <= 0 {
		return domain.Validationf("max participants must be positive")
	}
	if r.UnitPrice < 0 {
		return domain.Validationf("unit price must not be negative")
	}
	return nil
}

// contiguousRange checks that templates, ordered by start time, all belong to
// one court and leave no gap. It returns the covered time range.
func contiguousRange(templates []*models.SlotTemplate) (start, end string, err error) {
	courtID := templates[0].CourtID
	for _, t := range templates[1:] {
		if t.CourtID != courtID {
			return "", "", domain.Validationf("activity slots must belong to one court")
		}
	}

	for i := 1; i < len(templates); i++ {
		prev, cur := templates[i-1], templates[i]
		if cur.StartTime != prev.EndTime {
			return "", "", fmt.Errorf("%w: %s-%s is followed by %s-%s",
				domain.ErrSlotsNotContiguous, prev.StartTime, prev.EndTime, cur.StartTime, cur.EndTime)
		}
	}
	return templates[0].StartTime, templates[len(templates)-1].EndTime, nil
}

// checkFree fails with ErrSlotOccupied when a slot is booked, expired or owned
// by another active activity.
func (s *ActivityService) checkFree(ctx context.Context, ids []int64, date time.Time) error {
	locks, err := s.store.GetActiveActivityLocks(ctx, ids, date)
	if err != nil {
		return fmt.Errorf("load activity locks: %w", err)
	}
	for _, id := range ids {
		if l, ok := locks[id]; ok {
			return fmt.Errorf("%w: slot %d belongs to activity %d", domain.ErrSlotOccupied, id, l.ActivityID)
		}
	}

	records, err := s.store.GetSlotRecords(ctx, ids, date)
	if err != nil {
		return fmt.Errorf("load slot records: %w", err)
	}
	for _, id := range ids {
		r, ok := records[id]
		if !ok {
			continue
		}
		if r.Status == models.SlotLockedIn || r.Status == models.SlotExpired {
			return fmt.Errorf("%w: slot %d is %s", domain.ErrSlotOccupied, id, r.Status)
		}
	}
	return nil
}

// CreateActivity persists an activity and one slot lock per template, or
// nothing.
func (s *ActivityService) CreateActivity(ctx context.Context, organizer models.Operator, req CreateActivityRequest) (res *models.ActivityCreationResult, err error) {
	defer func() { observe("create_activity", err) }()

	if organizer.ID <= 0 {
		return nil, domain.Validationf("organizer id is required")
	}
	if organizer.Source, err = operatorSource(organizer.Source); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	templates, err := s.loadTemplates(ctx, req.SlotTemplateIDs)
	if err != nil {
		return nil, err
	}
	startTime, endTime, err := contiguousRange(templates)
	if err != nil {
		return nil, err
	}
	date := s.bookingDate(req.BookingDate)
	if err := s.validateDate(date, templates); err != nil {
		return nil, err
	}

	ids := templateIDs(templates)
	if err := s.checkFree(ctx, ids, date); err != nil {
		return nil, err
	}

	activity := &models.Activity{
		CourtID:         templates[0].CourtID,
		VenueID:         templates[0].VenueID,
		OrganizerID:     organizer.ID,
		OrganizerSource: organizer.Source,
		Name:            strings.TrimSpace(req.Name),
		BookingDate:     date,
		StartTime:       startTime,
		EndTime:         endTime,
		MaxParticipants: req.MaxParticipants,
		UnitPrice:       req.UnitPrice,
		Status:          models.ActivityActive,
		BatchID:         uuid.NewString(),
	}
	var locks []models.ActivitySlotLock

	err = s.withSlotKeys(ctx, ids, date, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			if err := s.checkFree(ctx, ids, date); err != nil {
				if errors.Is(err, domain.ErrSlotOccupied) {
					return fmt.Errorf("%w: %w", err, domain.ErrStale)
				}
				return err
			}

			if err := s.store.CreateActivity(ctx, activity); err != nil {
				return err
			}

			locks = make([]models.ActivitySlotLock, len(ids))
			for i, id := range ids {
				locks[i] = models.ActivitySlotLock{
					ActivityID:     activity.ID,
					SlotTemplateID: id,
					BookingDate:    date,
					BatchID:        activity.BatchID,
					Status:         models.ActivityLockActive,
				}
			}
			if err := s.store.CreateActivitySlotLocks(ctx, locks); err != nil {
				if errors.Is(err, database.ErrDuplicateRecord) {
					return s.invariantViolation("create_activity", ids[0], date, "activity lock appeared while locked")
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("activity_id", activity.ID).
		Int64("court_id", activity.CourtID).
		Str("date", date.Format(models.DateLayout)).
		Str("range", startTime+"-"+endTime).
		Str("batch_id", activity.BatchID).
		Msg("activity created")
	s.publish(events.EventActivityCreated, s.activityPayload(activity))

	return &models.ActivityCreationResult{Activity: activity, Locks: locks}, nil
}

// JoinActivity takes one place in an active activity.
func (s *ActivityService) JoinActivity(ctx context.Context, activityID int64) (*models.Activity, error) {
	return s.adjustParticipants(ctx, "join_activity", activityID, 1)
}

// LeaveActivity frees one place.
func (s *ActivityService) LeaveActivity(ctx context.Context, activityID int64) (*models.Activity, error) {
	return s.adjustParticipants(ctx, "leave_activity", activityID, -1)
}

func (s *ActivityService) adjustParticipants(ctx context.Context, op string, activityID int64, delta int) (a *models.Activity, err error) {
	defer func() { observe(op, err) }()

	n, err := s.store.AddParticipants(ctx, activityID, delta)
	if err != nil {
		return nil, err
	}
	a, err = s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return a, nil
	}

	switch {
	case a.Status != models.ActivityActive:
		return nil, domain.Validationf("activity %d is %s", activityID, a.Status)
	case delta > 0:
		return nil, fmt.Errorf("%w: %d of %d places taken", domain.ErrActivityFull, a.CurrentParticipants, a.MaxParticipants)
	default:
		return nil, domain.Validationf("activity %d has no participants", activityID)
	}
}

// CancelActivity cancels an active activity and frees its slots. Only the
// organizer or a merchant may cancel.
func (s *ActivityService) CancelActivity(ctx context.Context, operator models.Operator, activityID int64) (err error) {
	defer func() { observe("cancel_activity", err) }()

	if operator.Source, err = operatorSource(operator.Source); err != nil {
		return err
	}
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if operator.Source != models.SourceMerchant && operator.ID != activity.OrganizerID {
		return domain.Validationf("only the organizer can cancel activity %d", activityID)
	}
	if activity.Status != models.ActivityActive {
		return domain.Validationf("activity %d is already %s", activityID, activity.Status)
	}

	locks, err := s.store.ListActivityLocks(ctx, activityID)
	if err != nil {
		return fmt.Errorf("load activity locks: %w", err)
	}
	ids := make([]int64, 0, len(locks))
	for _, l := range locks {
		ids = append(ids, l.SlotTemplateID)
	}
	if len(ids) == 0 {
		return fmt.Errorf("activity %d has no slot locks", activityID)
	}
	date := s.bookingDate(activity.BookingDate)

	err = s.withSlotKeys(ctx, uniqueIDs(ids), date, func() error {
		return s.store.WithTx(ctx, func(ctx context.Context) error {
			n, err := s.store.CancelActivity(ctx, activityID)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: activity %d was cancelled concurrently", domain.ErrStale, activityID)
			}
			_, err = s.store.ReleaseActivityLocks(ctx, activityID)
			return err
		})
	})
	if err != nil {
		return err
	}

	activity.Status = models.ActivityCancelled
	s.logger.Info().Int64("activity_id", activityID).Int64("operator_id", operator.ID).Msg("activity cancelled")
	s.publish(events.EventActivityCancelled, s.activityPayload(activity))
	return nil
}

func (s *ActivityService) activityPayload(a *models.Activity) events.ActivityEventPayload {
	return events.ActivityEventPayload{
		ActivityID:      a.ID,
		CourtID:         a.CourtID,
		VenueID:         a.VenueID,
		Name:            a.Name,
		BookingDate:     a.BookingDate.Format(models.DateLayout),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		MaxParticipants: a.MaxParticipants,
		BatchID:         a.BatchID,
		OrganizerID:     a.OrganizerID,
		OccurredAt:      s.opts.Now(),
	}
}
