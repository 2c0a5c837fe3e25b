package database

import (
	"context"
	"testing"

	"courtbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceTemplates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl, err := db.GetEnabledPriceTemplate(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, tpl)

	old := &models.PriceTemplate{VenueID: 1, Name: "old", Enabled: true, Periods: []models.PricePeriod{
		{StartTime: "08:00", EndTime: "22:00", WeekdayPrice: 1, WeekendPrice: 1, HolidayPrice: 1},
	}}
	require.NoError(t, db.CreatePriceTemplate(ctx, old))

	current := &models.PriceTemplate{VenueID: 1, Name: "2030", Enabled: true, Periods: []models.PricePeriod{
		{StartTime: "18:00", EndTime: "22:00", WeekdayPrice: 10000, WeekendPrice: 12000, HolidayPrice: 15000},
		{StartTime: "08:00", EndTime: "18:00", WeekdayPrice: 6000, WeekendPrice: 8000, HolidayPrice: 9000},
	}}
	require.NoError(t, db.CreatePriceTemplate(ctx, current))

	tpl, err = db.GetEnabledPriceTemplate(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, tpl)
	assert.Equal(t, current.ID, tpl.ID)
	require.Len(t, tpl.Periods, 2)
	assert.Equal(t, "08:00", tpl.Periods[0].StartTime)
	assert.Equal(t, int64(15000), tpl.Periods[1].HolidayPrice)
}

func TestPriceTemplates_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	overlapping := &models.PriceTemplate{VenueID: 1, Name: "bad", Enabled: true, Periods: []models.PricePeriod{
		{StartTime: "08:00", EndTime: "12:00"},
		{StartTime: "11:30", EndTime: "14:00"},
	}}
	assert.ErrorIs(t, db.CreatePriceTemplate(ctx, overlapping), ErrPeriodOverlap)

	inverted := &models.PriceTemplate{VenueID: 1, Name: "bad", Periods: []models.PricePeriod{
		{StartTime: "12:00", EndTime: "08:00"},
	}}
	assert.ErrorIs(t, db.CreatePriceTemplate(ctx, inverted), ErrInvalidPeriod)

	// touching periods are fine
	touching := &models.PriceTemplate{VenueID: 1, Name: "ok", Enabled: true, Periods: []models.PricePeriod{
		{StartTime: "08:00", EndTime: "12:00"},
		{StartTime: "12:00", EndTime: "14:00"},
	}}
	assert.NoError(t, db.CreatePriceTemplate(ctx, touching))
}

func TestPriceTemplates_NormalizesTimes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := &models.PriceTemplate{VenueID: 1, Name: "short", Enabled: true, Periods: []models.PricePeriod{
		{StartTime: "7:00", EndTime: "9:00", WeekdayPrice: 5000},
		{StartTime: "9:00", EndTime: "12:00", WeekdayPrice: 6000},
	}}
	require.NoError(t, db.CreatePriceTemplate(ctx, tpl))

	got, err := db.GetEnabledPriceTemplate(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Periods, 2)
	assert.Equal(t, "07:00", got.Periods[0].StartTime)
	assert.Equal(t, "09:00", got.Periods[0].EndTime)
	assert.True(t, got.Periods[0].Contains("08:00"))
	assert.False(t, got.Periods[1].Contains("08:30"))

	garbage := &models.PriceTemplate{VenueID: 1, Name: "bad", Periods: []models.PricePeriod{
		{StartTime: "garbage", EndTime: "zzz"},
	}}
	assert.ErrorIs(t, db.CreatePriceTemplate(ctx, garbage), ErrInvalidTime)
}

func TestPriceOverrides_NormalizesTimes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	o := &models.PriceOverride{VenueID: 1, Date: testDate, StartTime: "8:00", EndTime: "9:30", Price: 700, Enabled: true}
	require.NoError(t, db.CreatePriceOverride(ctx, o))

	overrides, err := db.ListPriceOverrides(ctx, 1, testDate)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "08:00", overrides[0].StartTime)
	assert.Equal(t, "09:30", overrides[0].EndTime)
	assert.True(t, overrides[0].Contains("09:00"))

	err = db.CreatePriceOverride(ctx, &models.PriceOverride{VenueID: 1, Date: testDate, StartTime: "noon", EndTime: "13:00"})
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestPriceOverridesExtrasHolidays(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreatePriceOverride(ctx, &models.PriceOverride{
		VenueID: 1, Date: testDate, StartTime: "18:00", EndTime: "20:00", Price: 20000, Enabled: true,
	}))
	require.NoError(t, db.CreatePriceOverride(ctx, &models.PriceOverride{
		VenueID: 1, Date: testDate, StartTime: "08:00", EndTime: "10:00", Price: 1, Enabled: false,
	}))

	overrides, err := db.ListPriceOverrides(ctx, 1, testDate)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, int64(20000), overrides[0].Price)

	require.NoError(t, db.CreateExtraChargeTemplate(ctx, &models.ExtraChargeTemplate{
		VenueID: 1, Name: "Service", Level: models.ChargeLevelOrder, Mode: models.ChargeModePercent, UnitValue: 5, Enabled: true,
	}))
	require.NoError(t, db.CreateExtraChargeTemplate(ctx, &models.ExtraChargeTemplate{
		VenueID: 1, Name: "Lights", Level: models.ChargeLevelItem, Mode: models.ChargeModeFixed, UnitValue: 500,
		CourtIDs: []int64{3, 4}, Enabled: true,
	}))

	items, err := db.ListExtraChargeTemplates(ctx, 1, models.ChargeLevelItem)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []int64{3, 4}, items[0].CourtIDs)
	assert.Equal(t, models.ChargeModeFixed, items[0].Mode)

	orders, err := db.ListExtraChargeTemplates(ctx, 1, models.ChargeLevelOrder)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Empty(t, orders[0].CourtIDs)

	holiday, err := db.IsHoliday(ctx, testDate)
	require.NoError(t, err)
	assert.False(t, holiday)

	require.NoError(t, db.AddHoliday(ctx, models.Holiday{Date: testDate, Name: "Pi day"}))
	require.NoError(t, db.AddHoliday(ctx, models.Holiday{Date: testDate, Name: "Pi day again"}))

	holiday, err = db.IsHoliday(ctx, testDate)
	require.NoError(t, err)
	assert.True(t, holiday)
}
