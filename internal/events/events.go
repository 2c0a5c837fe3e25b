package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventSlotsReserved     = "slots_reserved"
	EventSlotsReleased     = "slots_released"
	EventSlotsBlocked      = "slots_blocked"
	EventSlotsUnblocked    = "slots_unblocked"
	EventActivityCreated   = "activity_created"
	EventActivityCancelled = "activity_cancelled"
)

// SlotEventPayload is the snapshot published after a slot transition commits.
type SlotEventPayload struct {
	VenueID         int64     `json:"venue_id"`
	CourtIDs        []int64   `json:"court_ids"`
	SlotTemplateIDs []int64   `json:"slot_template_ids"`
	BookingDate     string    `json:"booking_date"`
	Status          string    `json:"status"`
	OperatorID      int64     `json:"operator_id"`
	OperatorSource  string    `json:"operator_source"`
	Reason          string    `json:"reason,omitempty"`
	Total           int64     `json:"total,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ActivityEventPayload describes an activity for event consumers.
type ActivityEventPayload struct {
	ActivityID      int64     `json:"activity_id"`
	CourtID         int64     `json:"court_id"`
	VenueID         int64     `json:"venue_id"`
	Name            string    `json:"name"`
	BookingDate     string    `json:"booking_date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	MaxParticipants int       `json:"max_participants"`
	BatchID         string    `json:"batch_id"`
	OrganizerID     int64     `json:"organizer_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged to logger
// when it is not nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Str("event_type", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
