package database

import (
	"context"
	"testing"
	"time"

	"courtbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDate = time.Date(2030, 3, 14, 0, 0, 0, 0, time.UTC)

func TestSlotRecords_InsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, templates := seedCourt(t, db, 1, "18:00", "18:30")

	rec := &models.SlotRecord{
		SlotTemplateID: templates[0].ID,
		BookingDate:    testDate,
		Status:         models.SlotLockedIn,
		OperatorID:     42,
		OperatorSource: models.SourceUser,
	}
	require.NoError(t, db.InsertSlotRecord(ctx, rec))
	assert.NotZero(t, rec.ID)
	assert.Equal(t, int64(1), rec.Version)

	dup := &models.SlotRecord{SlotTemplateID: templates[0].ID, BookingDate: testDate}
	assert.ErrorIs(t, db.InsertSlotRecord(ctx, dup), ErrDuplicateRecord)

	records, err := db.GetSlotRecords(ctx, []int64{templates[0].ID, templates[1].ID}, testDate)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[templates[0].ID]
	assert.Equal(t, models.SlotLockedIn, got.Status)
	assert.Equal(t, int64(42), got.OperatorID)
	assert.Equal(t, models.SourceUser, got.OperatorSource)
	assert.Equal(t, "2030-03-14", got.BookingDate.Format(models.DateLayout))

	// other dates are independent
	other, err := db.GetSlotRecords(ctx, []int64{templates[0].ID}, testDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSlotRecords_CompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, templates := seedCourt(t, db, 1, "18:00")

	rec := &models.SlotRecord{SlotTemplateID: templates[0].ID, BookingDate: testDate, Status: models.SlotAvailable}
	require.NoError(t, db.InsertSlotRecord(ctx, rec))

	op := models.Operator{ID: 7, Source: models.SourceMerchant, Reason: "maintenance"}
	n, err := db.CompareAndSetSlotStatus(ctx, rec.ID, models.SlotAvailable, models.SlotUnavailable, op)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// second attempt from the same expected status changes nothing
	n, err = db.CompareAndSetSlotStatus(ctx, rec.ID, models.SlotAvailable, models.SlotLockedIn, models.Operator{ID: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	records, err := db.GetSlotRecords(ctx, []int64{templates[0].ID}, testDate)
	require.NoError(t, err)
	got := records[templates[0].ID]
	assert.Equal(t, models.SlotUnavailable, got.Status)
	assert.Equal(t, "maintenance", got.LockReason)
	assert.Equal(t, models.SourceMerchant, got.OperatorSource)
	assert.Equal(t, int64(2), got.Version)
}

func TestSlotRecords_EnsureAndExpire(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, templates := seedCourt(t, db, 1, "08:00", "08:30", "09:00")
	ids := []int64{templates[0].ID, templates[1].ID, templates[2].ID}

	booked := &models.SlotRecord{SlotTemplateID: templates[1].ID, BookingDate: testDate, Status: models.SlotLockedIn, OperatorID: 1}
	require.NoError(t, db.InsertSlotRecord(ctx, booked))

	n, err := db.EnsureSlotRecords(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.EnsureSlotRecords(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	records, err := db.GetSlotRecords(ctx, ids, testDate)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.SlotLockedIn, records[templates[1].ID].Status)
	assert.Equal(t, models.SlotAvailable, records[templates[0].ID].Status)

	n, err = db.ExpirePastRecords(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "records on the cutoff day stay available")

	n, err = db.ExpirePastRecords(ctx, testDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	records, err = db.GetSlotRecords(ctx, ids, testDate)
	require.NoError(t, err)
	assert.Equal(t, models.SlotExpired, records[templates[0].ID].Status)
	assert.Equal(t, models.SlotExpired, records[templates[2].ID].Status)
	assert.Equal(t, models.SlotLockedIn, records[templates[1].ID].Status)
}
