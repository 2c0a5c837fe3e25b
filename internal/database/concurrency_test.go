package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"courtbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentCompareAndSet(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, templates := seedCourt(t, db, 1, "20:00")

	rec := &models.SlotRecord{SlotTemplateID: templates[0].ID, BookingDate: testDate, Status: models.SlotAvailable}
	require.NoError(t, db.InsertSlotRecord(ctx, rec))

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan int64, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int64) {
			defer wg.Done()
			var changed int64
			err := db.WithTx(ctx, func(ctx context.Context) error {
				n, err := db.CompareAndSetSlotStatus(ctx, rec.ID, models.SlotAvailable, models.SlotLockedIn,
					models.Operator{ID: id, Source: models.SourceUser})
				changed = n
				return err
			})
			assert.NoError(t, err)
			results <- changed
		}(int64(i + 1))
	}

	wg.Wait()
	close(results)

	var total int64
	for n := range results {
		total += n
	}
	assert.Equal(t, int64(1), total, "exactly one conditional update must win")

	records, err := db.GetSlotRecords(ctx, []int64{templates[0].ID}, testDate)
	require.NoError(t, err)
	assert.Equal(t, models.SlotLockedIn, records[templates[0].ID].Status)
	assert.Equal(t, int64(2), records[templates[0].ID].Version)
}

func TestConcurrentInsertSameSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, templates := seedCourt(t, db, 1, "20:00")

	const numGoroutines = 8
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	errs := make(chan error, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int64) {
			defer wg.Done()
			errs <- db.InsertSlotRecord(ctx, &models.SlotRecord{
				SlotTemplateID: templates[0].ID,
				BookingDate:    testDate,
				Status:         models.SlotLockedIn,
				OperatorID:     id,
			})
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrDuplicateRecord):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, numGoroutines-1, dup)
}
