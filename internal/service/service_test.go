package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/events"
	"courtbook/internal/lock"
	"courtbook/internal/models"
	"courtbook/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	// Thursday 07:00; tests book for Friday unless they need "today".
	testNow  = time.Date(2030, 3, 14, 7, 0, 0, 0, time.UTC)
	today    = time.Date(2030, 3, 14, 0, 0, 0, 0, time.UTC)
	tomorrow = time.Date(2030, 3, 15, 0, 0, 0, 0, time.UTC)
)

type recordedEvents struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recordedEvents) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) ofType(eventType string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	db           *database.DB
	locker       *lock.MemoryLocker
	keys         lock.KeyBuilder
	reservations *ReservationService
	activities   *ActivityService
	pricing      *PricingService
	recorded     *recordedEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locker := lock.NewMemoryLocker(lock.Options{
		WaitTimeout:   2 * time.Second,
		RetryInterval: 5 * time.Millisecond,
		Lease:         30 * time.Second,
	})
	keys := lock.KeyBuilder{Prefix: "slot_lock"}

	bus := events.NewEventBus(&logger)
	recorded := &recordedEvents{}
	for _, et := range []string{
		events.EventSlotsReserved, events.EventSlotsReleased, events.EventSlotsBlocked,
		events.EventSlotsUnblocked, events.EventActivityCreated, events.EventActivityCancelled,
	} {
		bus.Subscribe(et, recorded.handle)
	}

	engine := pricing.NewEngine(db, 5000, &logger)
	opts := Options{MaxAdvanceDays: 30, Location: time.UTC, Now: func() time.Time { return testNow }}

	return &testEnv{
		db:           db,
		locker:       locker,
		keys:         keys,
		reservations: NewReservationService(db, locker, keys, engine, bus, opts, &logger),
		activities:   NewActivityService(db, locker, keys, bus, opts, &logger),
		pricing:      NewPricingService(db, engine, time.UTC, &logger),
		recorded:     recorded,
	}
}

// seedCourt creates a court with consecutive 30 minute templates starting at
// each given time.
func (e *testEnv) seedCourt(t *testing.T, venueID int64, starts ...string) (*models.Court, []*models.SlotTemplate) {
	t.Helper()
	ctx := context.Background()

	court := &models.Court{VenueID: venueID, Name: "Court"}
	require.NoError(t, e.db.CreateCourt(ctx, court))

	templates := make([]*models.SlotTemplate, 0, len(starts))
	for _, start := range starts {
		begin, err := time.Parse(models.TimeLayout, start)
		require.NoError(t, err)
		tpl := &models.SlotTemplate{
			CourtID:   court.ID,
			StartTime: start,
			EndTime:   begin.Add(30 * time.Minute).Format(models.TimeLayout),
		}
		require.NoError(t, e.db.CreateSlotTemplate(ctx, tpl))
		templates = append(templates, tpl)
	}
	return court, templates
}

func (e *testEnv) status(t *testing.T, templateID int64, date time.Time) models.SlotStatus {
	t.Helper()
	records, err := e.db.GetSlotRecords(context.Background(), []int64{templateID}, date)
	require.NoError(t, err)
	if r, ok := records[templateID]; ok {
		return r.Status
	}
	return models.SlotAvailable
}

func ids(templates ...*models.SlotTemplate) []int64 {
	out := make([]int64, len(templates))
	for i, t := range templates {
		out[i] = t.ID
	}
	return out
}

func decode[T any](t *testing.T, e *events.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Payload, &v))
	return v
}
