package models

import "time"

// StoredResponse is a captured API response replayed when a client repeats a
// request with the same idempotency key.
type StoredResponse struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}
