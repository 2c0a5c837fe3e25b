package models

import "time"

// PriceTemplate is a named set of non-overlapping price periods of a venue.
type PriceTemplate struct {
	ID      int64         `json:"id"`
	VenueID int64         `json:"venue_id"`
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Periods []PricePeriod `json:"periods,omitempty"`
}

// PricePeriod covers [StartTime, EndTime). Prices are in cents.
type PricePeriod struct {
	ID           int64  `json:"id"`
	TemplateID   int64  `json:"template_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	WeekdayPrice int64  `json:"weekday_price"`
	WeekendPrice int64  `json:"weekend_price"`
	HolidayPrice int64  `json:"holiday_price"`
}

// PriceFor picks the price column for a day kind.
func (p PricePeriod) PriceFor(kind DayKind) int64 {
	switch kind {
	case DayHoliday:
		return p.HolidayPrice
	case DayWeekend:
		return p.WeekendPrice
	default:
		return p.WeekdayPrice
	}
}

// Contains reports whether start falls into [StartTime, EndTime).
func (p PricePeriod) Contains(start string) bool {
	return start >= p.StartTime && start < p.EndTime
}

type PriceOverride struct {
	ID        int64     `json:"id"`
	VenueID   int64     `json:"venue_id"`
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Price     int64     `json:"price"`
	Enabled   bool      `json:"enabled"`
}

func (o PriceOverride) Contains(start string) bool {
	return start >= o.StartTime && start < o.EndTime
}

// ExtraChargeTemplate is a surcharge. For PERCENT mode UnitValue is a percent,
// for FIXED mode it is an amount in cents.
type ExtraChargeTemplate struct {
	ID        int64       `json:"id"`
	VenueID   int64       `json:"venue_id"`
	Name      string      `json:"name"`
	Level     ChargeLevel `json:"level"`
	Mode      ChargeMode  `json:"mode"`
	UnitValue float64     `json:"unit_value"`
	CourtIDs  []int64     `json:"court_ids,omitempty"`
	Enabled   bool        `json:"enabled"`
}

// AppliesToCourt is true when the allow-list is empty or names the court.
func (t ExtraChargeTemplate) AppliesToCourt(courtID int64) bool {
	if len(t.CourtIDs) == 0 {
		return true
	}
	for _, id := range t.CourtIDs {
		if id == courtID {
			return true
		}
	}
	return false
}

type Holiday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

type SlotPrice struct {
	SlotTemplateID int64  `json:"slot_template_id"`
	CourtID        int64  `json:"court_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Price          int64  `json:"price"`
	Priced         bool   `json:"priced"`
	Overridden     bool   `json:"overridden"`
}

type OrderExtra struct {
	TemplateID int64  `json:"template_id"`
	Name       string `json:"name"`
	Amount     int64  `json:"amount"`
}

type CourtExtra struct {
	TemplateID int64  `json:"template_id"`
	CourtID    int64  `json:"court_id"`
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	SlotCount  int    `json:"slot_count"`
	Amount     int64  `json:"amount"`
}

// PricingBreakdown is the full price computation for a set of slots.
type PricingBreakdown struct {
	VenueID     int64        `json:"venue_id"`
	BookingDate time.Time    `json:"booking_date"`
	DayKind     DayKind      `json:"day_kind"`
	Slots       []SlotPrice  `json:"slots"`
	OrderExtras []OrderExtra `json:"order_extras"`
	CourtExtras []CourtExtra `json:"court_extras"`
	SlotTotal   int64        `json:"slot_total"`
	ExtrasTotal int64        `json:"extras_total"`
	Total       int64        `json:"total"`
}

// Quote is the result of a successful reservation.
type Quote struct {
	PricingBreakdown
	UserID        int64   `json:"user_id"`
	SlotRecordIDs []int64 `json:"slot_record_ids"`
}
