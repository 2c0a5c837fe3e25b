package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtbook/internal/export"
	"courtbook/internal/models"
	"courtbook/internal/service"
)

type reserveBody struct {
	UserID          int64   `json:"user_id"`
	Source          string  `json:"source"`
	Date            string  `json:"date"`
	SlotTemplateIDs []int64 `json:"slot_template_ids"`
}

type blockBody struct {
	MerchantID      int64   `json:"merchant_id"`
	Date            string  `json:"date"`
	SlotTemplateIDs []int64 `json:"slot_template_ids"`
	Reason          string  `json:"reason"`
}

type activityBody struct {
	OrganizerID     int64   `json:"organizer_id"`
	Source          string  `json:"source"`
	Date            string  `json:"date"`
	SlotTemplateIDs []int64 `json:"slot_template_ids"`
	Name            string  `json:"name"`
	MaxParticipants int     `json:"max_participants"`
	UnitPrice       int64   `json:"unit_price"`
}

type activityRefBody struct {
	ActivityID int64  `json:"activity_id"`
	OperatorID int64  `json:"operator_id"`
	Source     string `json:"source"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "date is required")
		return time.Time{}, false
	}
	date, err := time.ParseInLocation(models.DateLayout, raw, s.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid date format; expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

// parseSource accepts USER, MERCHANT or SYSTEM; empty means USER. Acting as
// MERCHANT or SYSTEM needs the merchant permission.
func (s *HTTPServer) parseSource(w http.ResponseWriter, r *http.Request, raw string) (models.OperatorSource, bool) {
	src := models.OperatorSource(strings.ToUpper(strings.TrimSpace(raw)))
	if src == "" {
		return models.SourceUser, true
	}
	if !src.Valid() {
		writeError(w, http.StatusBadRequest, "VALIDATION", fmt.Sprintf("unknown source %q", raw))
		return "", false
	}
	if src != models.SourceUser && !s.auth.allows(r, PermMerchant) {
		writeError(w, http.StatusForbidden, "UNAUTHORIZED", errPermissionDenied.Error())
		return "", false
	}
	return src, true
}

func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	var body reserveBody
	if !decodeBody(w, r, &body) {
		return
	}
	date, ok := s.parseDate(w, body.Date)
	if !ok {
		return
	}
	source, ok := s.parseSource(w, r, body.Source)
	if !ok {
		return
	}

	quote, err := s.svc.Reservations.ReserveSlots(r.Context(), service.ReserveRequest{
		UserID:          body.UserID,
		Source:          source,
		BookingDate:     date,
		SlotTemplateIDs: body.SlotTemplateIDs,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

func (s *HTTPServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	var body reserveBody
	if !decodeBody(w, r, &body) {
		return
	}
	date, ok := s.parseDate(w, body.Date)
	if !ok {
		return
	}
	source, ok := s.parseSource(w, r, body.Source)
	if !ok {
		return
	}

	err := s.svc.Reservations.ReleaseSlots(r.Context(), service.ReleaseRequest{
		OperatorID:      body.UserID,
		Source:          source,
		BookingDate:     date,
		SlotTemplateIDs: body.SlotTemplateIDs,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	s.handleBlockChange(w, r, s.svc.Reservations.BlockSlots, "blocked")
}

func (s *HTTPServer) handleUnblock(w http.ResponseWriter, r *http.Request) {
	s.handleBlockChange(w, r, s.svc.Reservations.UnblockSlots, "unblocked")
}

func (s *HTTPServer) handleBlockChange(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, req service.BlockRequest) error, status string,
) {
	var body blockBody
	if !decodeBody(w, r, &body) {
		return
	}
	date, ok := s.parseDate(w, body.Date)
	if !ok {
		return
	}

	err := apply(r.Context(), service.BlockRequest{
		MerchantID:      body.MerchantID,
		BookingDate:     date,
		SlotTemplateIDs: body.SlotTemplateIDs,
		Reason:          body.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	courtID, err := strconv.ParseInt(r.URL.Query().Get("court_id"), 10, 64)
	if err != nil || courtID <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION", "court_id is required")
		return
	}
	date, ok := s.parseDate(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	states, err := s.svc.Reservations.SlotStates(r.Context(), courtID, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": states})
}

func (s *HTTPServer) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var body activityBody
	if !decodeBody(w, r, &body) {
		return
	}
	date, ok := s.parseDate(w, body.Date)
	if !ok {
		return
	}
	source, ok := s.parseSource(w, r, body.Source)
	if !ok {
		return
	}

	res, err := s.svc.Activities.CreateActivity(r.Context(),
		models.Operator{ID: body.OrganizerID, Source: source},
		service.CreateActivityRequest{
			SlotTemplateIDs: body.SlotTemplateIDs,
			Name:            body.Name,
			BookingDate:     date,
			MaxParticipants: body.MaxParticipants,
			UnitPrice:       body.UnitPrice,
		})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleJoinActivity(w http.ResponseWriter, r *http.Request) {
	var body activityRefBody
	if !decodeBody(w, r, &body) {
		return
	}
	a, err := s.svc.Activities.JoinActivity(r.Context(), body.ActivityID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleLeaveActivity(w http.ResponseWriter, r *http.Request) {
	var body activityRefBody
	if !decodeBody(w, r, &body) {
		return
	}
	a, err := s.svc.Activities.LeaveActivity(r.Context(), body.ActivityID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleCancelActivity(w http.ResponseWriter, r *http.Request) {
	var body activityRefBody
	if !decodeBody(w, r, &body) {
		return
	}
	source, ok := s.parseSource(w, r, body.Source)
	if !ok {
		return
	}
	op := models.Operator{ID: body.OperatorID, Source: source}
	if err := s.svc.Activities.CancelActivity(r.Context(), op, body.ActivityID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *HTTPServer) handlePricing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	venueID, err := strconv.ParseInt(q.Get("venue_id"), 10, 64)
	if err != nil || venueID <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION", "venue_id is required")
		return
	}
	date, ok := s.parseDate(w, q.Get("date"))
	if !ok {
		return
	}
	ids, err := splitIDs(q.Get("slot_template_ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}

	bd, err := s.svc.Pricing.ResolvePricing(r.Context(), venueID, date, ids)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bd)
}

func (s *HTTPServer) handleScheduleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	venueID, err := strconv.ParseInt(q.Get("venue_id"), 10, 64)
	if err != nil || venueID <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION", "venue_id is required")
		return
	}
	date, ok := s.parseDate(w, q.Get("date"))
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := s.svc.Schedule.Write(r.Context(), venueID, date, &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(venueID, date)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func splitIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("slot_template_ids is required")
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid slot template id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
