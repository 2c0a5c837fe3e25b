package models

import "time"

type Court struct {
	ID        int64     `json:"id"`
	VenueID   int64     `json:"venue_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SlotTemplate is a recurring time window of a court, independent of date.
type SlotTemplate struct {
	ID        int64  `json:"id"`
	CourtID   int64  `json:"court_id"`
	VenueID   int64  `json:"venue_id"`
	StartTime string `json:"start_time"` // HH:MM
	EndTime   string `json:"end_time"`   // HH:MM
}

// SlotRecord is the occupancy state of a template on one calendar date.
// A missing record means the slot is available.
type SlotRecord struct {
	ID             int64          `json:"id"`
	SlotTemplateID int64          `json:"slot_template_id"`
	BookingDate    time.Time      `json:"booking_date"`
	Status         SlotStatus     `json:"status"`
	OperatorID     int64          `json:"operator_id"`
	OperatorSource OperatorSource `json:"operator_source"`
	LockReason     string         `json:"lock_reason,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Operator identifies who performs a state transition.
type Operator struct {
	ID     int64
	Source OperatorSource
	Reason string
}

// SlotState is the merged, read-only view of one template on one date.
type SlotState struct {
	Template   SlotTemplate `json:"template"`
	Status     SlotStatus   `json:"status"`
	OperatorID int64        `json:"operator_id,omitempty"`
	ActivityID int64        `json:"activity_id,omitempty"`
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
