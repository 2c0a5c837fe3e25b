package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activityRequest(templates ...*models.SlotTemplate) CreateActivityRequest {
	return CreateActivityRequest{
		SlotTemplateIDs: ids(templates...),
		Name:            "Thursday americano",
		BookingDate:     tomorrow,
		MaxParticipants: 4,
		UnitPrice:       1500,
	}
}

func TestCreateActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	court, templates := env.seedCourt(t, 1, "08:00", "08:30", "09:00", "09:30")

	// request order does not matter
	req := activityRequest(templates[2], templates[0], templates[3], templates[1])
	res, err := env.activities.CreateActivity(ctx, models.Operator{ID: 11}, req)
	require.NoError(t, err)

	a := res.Activity
	assert.NotZero(t, a.ID)
	assert.Equal(t, court.ID, a.CourtID)
	assert.Equal(t, "08:00", a.StartTime)
	assert.Equal(t, "10:00", a.EndTime)
	assert.Equal(t, models.ActivityActive, a.Status)
	assert.Equal(t, models.SourceUser, a.OrganizerSource)
	_, err = uuid.Parse(a.BatchID)
	assert.NoError(t, err)

	require.Len(t, res.Locks, 4)
	for _, l := range res.Locks {
		assert.NotZero(t, l.ID)
		assert.Equal(t, a.ID, l.ActivityID)
		assert.Equal(t, a.BatchID, l.BatchID)
	}

	stored, err := env.db.ListActivityLocks(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	created := env.recorded.ofType(events.EventActivityCreated)
	require.Len(t, created, 1)
	payload := decode[events.ActivityEventPayload](t, created[0])
	assert.Equal(t, a.ID, payload.ActivityID)
	assert.Equal(t, "08:00", payload.StartTime)
	assert.Equal(t, "10:00", payload.EndTime)
}

func TestCreateActivity_NotContiguous(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "08:00", "09:00")

	_, err := env.activities.CreateActivity(ctx, models.Operator{ID: 1}, activityRequest(templates...))
	require.ErrorIs(t, err, domain.ErrSlotsNotContiguous)
	assert.Equal(t, domain.CodeSlotsNotContiguous, domain.CodeOf(err))

	locks, err := env.db.GetActiveActivityLocks(ctx, ids(templates...), tomorrow)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestCreateActivity_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, courtA := env.seedCourt(t, 1, "08:00")
	_, courtB := env.seedCourt(t, 1, "08:30")

	tests := []struct {
		name   string
		org    models.Operator
		mutate func(*CreateActivityRequest)
	}{
		{"no organizer", models.Operator{}, func(*CreateActivityRequest) {}},
		{"blank name", models.Operator{ID: 1}, func(r *CreateActivityRequest) { r.Name = "  " }},
		{"long name", models.Operator{ID: 1}, func(r *CreateActivityRequest) { r.Name = strings.Repeat("x", 101) }},
		{"no capacity", models.Operator{ID: 1}, func(r *CreateActivityRequest) { r.MaxParticipants = 0 }},
		{"negative price", models.Operator{ID: 1}, func(r *CreateActivityRequest) { r.UnitPrice = -1 }},
		{"two courts", models.Operator{ID: 1}, func(r *CreateActivityRequest) {
			r.SlotTemplateIDs = ids(courtA[0], courtB[0])
		}},
		{"past date", models.Operator{ID: 1}, func(r *CreateActivityRequest) { r.BookingDate = today.AddDate(0, 0, -2) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := activityRequest(courtA...)
			tt.mutate(&req)
			_, err := env.activities.CreateActivity(ctx, tt.org, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCreateActivity_BookingFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "08:00", "08:30", "09:00", "09:30")

	_, err := env.reservations.ReserveSlots(ctx, ReserveRequest{UserID: 1, BookingDate: tomorrow, SlotTemplateIDs: ids(templates[1])})
	require.NoError(t, err)

	_, err = env.activities.CreateActivity(ctx, models.Operator{ID: 2}, activityRequest(templates...))
	assert.ErrorIs(t, err, domain.ErrSlotOccupied)

	locks, err := env.db.GetActiveActivityLocks(ctx, ids(templates...), tomorrow)
	require.NoError(t, err)
	assert.Empty(t, locks, "no lock rows survive a rejected activity")
}

func TestCreateActivity_ActivityFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "08:00", "08:30", "09:00", "09:30")

	_, err := env.activities.CreateActivity(ctx, models.Operator{ID: 2}, activityRequest(templates...))
	require.NoError(t, err)

	_, err = env.reservations.ReserveSlots(ctx, ReserveRequest{UserID: 1, BookingDate: tomorrow, SlotTemplateIDs: ids(templates[1])})
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
	assert.Equal(t, models.SlotAvailable, env.status(t, templates[1].ID, tomorrow))

	_, err = env.activities.CreateActivity(ctx, models.Operator{ID: 3}, activityRequest(templates[3]))
	assert.ErrorIs(t, err, domain.ErrSlotOccupied, "a second activity cannot claim the same slot")
}

func TestCreateActivity_IgnoresMerchantBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "18:00", "18:30")

	require.NoError(t, env.reservations.BlockSlots(ctx, BlockRequest{MerchantID: 1, BookingDate: tomorrow, SlotTemplateIDs: ids(templates[0])}))

	_, err := env.activities.CreateActivity(ctx, models.Operator{ID: 1, Source: models.SourceMerchant}, activityRequest(templates...))
	assert.NoError(t, err)
}

func TestCreateActivity_RacesBooking(t *testing.T) {
	for run := 0; run < 5; run++ {
		env := newTestEnv(t)
		_, templates := env.seedCourt(t, 1, "08:00", "08:30", "09:00", "09:30")

		var (
			wg         sync.WaitGroup
			bookErr    error
			activity   *models.ActivityCreationResult
			activityEr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, bookErr = env.reservations.ReserveSlots(context.Background(), ReserveRequest{
				UserID: 1, BookingDate: tomorrow, SlotTemplateIDs: ids(templates[1]),
			})
		}()
		go func() {
			defer wg.Done()
			<-start
			activity, activityEr = env.activities.CreateActivity(context.Background(), models.Operator{ID: 2}, activityRequest(templates...))
		}()
		close(start)
		wg.Wait()

		require.True(t, (bookErr == nil) != (activityEr == nil), "exactly one side wins: booking=%v activity=%v", bookErr, activityEr)
		if bookErr == nil {
			assert.ErrorIs(t, activityEr, domain.ErrSlotOccupied)
			assert.Equal(t, models.SlotLockedIn, env.status(t, templates[1].ID, tomorrow))
		} else {
			assert.ErrorIs(t, bookErr, domain.ErrSlotUnavailable)
			require.NotNil(t, activity)
			assert.Equal(t, models.SlotAvailable, env.status(t, templates[1].ID, tomorrow))
		}
	}
}

func TestJoinAndLeaveActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "20:00")

	req := activityRequest(templates...)
	req.MaxParticipants = 2
	res, err := env.activities.CreateActivity(ctx, models.Operator{ID: 1}, req)
	require.NoError(t, err)
	id := res.Activity.ID

	_, err = env.activities.LeaveActivity(ctx, id)
	assert.ErrorIs(t, err, domain.ErrValidation, "counter never goes below zero")

	a, err := env.activities.JoinActivity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentParticipants)
	a, err = env.activities.JoinActivity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, a.CurrentParticipants)

	_, err = env.activities.JoinActivity(ctx, id)
	assert.ErrorIs(t, err, domain.ErrActivityFull)

	a, err = env.activities.LeaveActivity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentParticipants)

	_, err = env.activities.JoinActivity(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJoinActivity_ConcurrentCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "21:00")

	req := activityRequest(templates...)
	req.MaxParticipants = 3
	res, err := env.activities.CreateActivity(ctx, models.Operator{ID: 1}, req)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		full int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.activities.JoinActivity(ctx, res.Activity.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrActivityFull):
				full++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, full)
}

func TestCancelActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "08:00", "08:30")

	res, err := env.activities.CreateActivity(ctx, models.Operator{ID: 1}, activityRequest(templates...))
	require.NoError(t, err)
	id := res.Activity.ID

	err = env.activities.CancelActivity(ctx, models.Operator{ID: 2, Source: models.SourceUser}, id)
	assert.ErrorIs(t, err, domain.ErrValidation, "only the organizer cancels")

	require.NoError(t, env.activities.CancelActivity(ctx, models.Operator{ID: 1, Source: models.SourceUser}, id))

	a, err := env.db.GetActivity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityCancelled, a.Status)

	locks, err := env.db.ListActivityLocks(ctx, id)
	require.NoError(t, err)
	for _, l := range locks {
		assert.Equal(t, models.ActivityLockReleased, l.Status)
	}

	err = env.activities.CancelActivity(ctx, models.Operator{ID: 1}, id)
	assert.ErrorIs(t, err, domain.ErrValidation, "already cancelled")

	_, err = env.activities.JoinActivity(ctx, id)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// the slots are bookable again
	_, err = env.reservations.ReserveSlots(ctx, ReserveRequest{UserID: 3, BookingDate: tomorrow, SlotTemplateIDs: ids(templates...)})
	assert.NoError(t, err)
	assert.Len(t, env.recorded.ofType(events.EventActivityCancelled), 1)
}

func TestCancelActivity_ByMerchant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, templates := env.seedCourt(t, 1, "13:00")

	res, err := env.activities.CreateActivity(ctx, models.Operator{ID: 1}, activityRequest(templates...))
	require.NoError(t, err)

	assert.NoError(t, env.activities.CancelActivity(ctx, models.Operator{ID: 50, Source: models.SourceMerchant}, res.Activity.ID))
	assert.ErrorIs(t, env.activities.CancelActivity(ctx, models.Operator{ID: 50, Source: models.SourceMerchant}, 12345), domain.ErrNotFound)
	assert.ErrorIs(t, env.activities.CancelActivity(ctx, models.Operator{ID: 50, Source: "ADMIN"}, 12345), domain.ErrValidation)
}
