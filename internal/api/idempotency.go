package api

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"courtbook/internal/models"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 128
)

// idempotent replays the stored response when a client repeats a request with
// the same Idempotency-Key. 5xx responses are not stored so busy and internal
// failures can be retried for real. Two concurrent first attempts both run;
// the slot checks make the second one fail.
func (s *HTTPServer) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if s.svc.Responses == nil || key == "" {
			next(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeError(w, http.StatusBadRequest, "VALIDATION", "Idempotency-Key is too long")
			return
		}

		storeKey := s.auth.clientKey(r) + ":" + r.URL.Path + ":" + key
		stored, err := s.svc.Responses.Get(r.Context(), storeKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("idempotency lookup failed")
		}
		if stored != nil {
			if stored.ContentType != "" {
				w.Header().Set("Content-Type", stored.ContentType)
			}
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next(capture, r)
		if capture.status >= http.StatusInternalServerError {
			return
		}

		resp := &models.StoredResponse{
			Status:      capture.status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
			CreatedAt:   time.Now(),
		}
		if err := s.svc.Responses.Put(r.Context(), storeKey, resp); err != nil {
			s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("idempotency store failed")
		}
	}
}

// captureWriter copies the response body while passing it through.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
