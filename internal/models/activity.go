package models

import "time"

type Activity struct {
	ID                  int64          `json:"id"`
	CourtID             int64          `json:"court_id"`
	VenueID             int64          `json:"venue_id"`
	OrganizerID         int64          `json:"organizer_id"`
	OrganizerSource     OperatorSource `json:"organizer_source"`
	Name                string         `json:"name"`
	BookingDate         time.Time      `json:"booking_date"`
	StartTime           string         `json:"start_time"`
	EndTime             string         `json:"end_time"`
	MaxParticipants     int            `json:"max_participants"`
	CurrentParticipants int            `json:"current_participants"`
	UnitPrice           int64          `json:"unit_price"`
	Status              ActivityStatus `json:"status"`
	BatchID             string         `json:"batch_id"`
	CreatedAt           time.Time      `json:"created_at"`
}

// ActivitySlotLock records that an activity owns a slot template on a date.
type ActivitySlotLock struct {
	ID             int64              `json:"id"`
	ActivityID     int64              `json:"activity_id"`
	SlotTemplateID int64              `json:"slot_template_id"`
	BookingDate    time.Time          `json:"booking_date"`
	BatchID        string             `json:"batch_id"`
	Status         ActivityLockStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}

type ActivityCreationResult struct {
	Activity *Activity          `json:"activity"`
	Locks    []ActivitySlotLock `json:"locks"`
}
