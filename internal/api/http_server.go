package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"courtbook/internal/config"
	"courtbook/internal/domain"
	"courtbook/internal/metrics"
	"courtbook/internal/models"
	"courtbook/internal/service"

	"github.com/rs/zerolog"
)

type Reservations interface {
	ReserveSlots(ctx context.Context, req service.ReserveRequest) (*models.Quote, error)
	ReleaseSlots(ctx context.Context, req service.ReleaseRequest) error
	BlockSlots(ctx context.Context, req service.BlockRequest) error
	UnblockSlots(ctx context.Context, req service.BlockRequest) error
	SlotStates(ctx context.Context, courtID int64, date time.Time) ([]models.SlotState, error)
}

type Activities interface {
	CreateActivity(ctx context.Context, organizer models.Operator, req service.CreateActivityRequest) (*models.ActivityCreationResult, error)
	JoinActivity(ctx context.Context, activityID int64) (*models.Activity, error)
	LeaveActivity(ctx context.Context, activityID int64) (*models.Activity, error)
	CancelActivity(ctx context.Context, operator models.Operator, activityID int64) error
}

type Pricing interface {
	ResolvePricing(ctx context.Context, venueID int64, date time.Time, ids []int64) (*models.PricingBreakdown, error)
}

type ScheduleWriter interface {
	Write(ctx context.Context, venueID int64, date time.Time, w io.Writer) error
}

// Services are the operations exposed over HTTP. Responses is optional and
// enables Idempotency-Key replay on the write endpoints.
type Services struct {
	Reservations Reservations
	Activities   Activities
	Pricing      Pricing
	Schedule     ScheduleWriter
	Responses    domain.ResponseStore
}

// HTTPServer exposes the reservation core as a JSON API.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      Services
	location *time.Location
	server   *http.Server
	mux      *http.ServeMux
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, location *time.Location, logger *zerolog.Logger) *HTTPServer {
	if location == nil {
		location = time.Local
	}
	srv := &HTTPServer{cfg: cfg, svc: svc, location: location, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/v1/reservations", srv.idempotent(srv.handleReserve))
	mux.HandleFunc("POST /api/v1/reservations/release", srv.handleRelease)
	mux.HandleFunc("POST /api/v1/slots/block", srv.handleBlock)
	mux.HandleFunc("POST /api/v1/slots/unblock", srv.handleUnblock)
	mux.HandleFunc("GET /api/v1/slots", srv.handleSlots)
	mux.HandleFunc("POST /api/v1/activities", srv.idempotent(srv.handleCreateActivity))
	mux.HandleFunc("POST /api/v1/activities/join", srv.idempotent(srv.handleJoinActivity))
	mux.HandleFunc("POST /api/v1/activities/leave", srv.idempotent(srv.handleLeaveActivity))
	mux.HandleFunc("POST /api/v1/activities/cancel", srv.handleCancelActivity)
	mux.HandleFunc("GET /api/v1/pricing", srv.handlePricing)
	mux.HandleFunc("GET /api/v1/schedule/export", srv.handleScheduleExport)
	srv.mux = mux

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		route := s.routeLabel(r)
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(route)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// routeLabel is the registered pattern serving r, so metric labels stay bounded
// no matter what paths clients send.
func (s *HTTPServer) routeLabel(r *http.Request) string {
	if _, pattern := s.mux.Handler(r); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// errorStatus maps an error code to an HTTP status.
func errorStatus(code domain.Code) int {
	switch code {
	case domain.CodeSlotBusyRetry:
		return http.StatusServiceUnavailable
	case domain.CodeSlotUnavailable, domain.CodeSlotOccupied, domain.CodeSlotsNotContiguous, domain.CodeActivityFull:
		return http.StatusConflict
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Stale bool   `json:"stale,omitempty"`
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := errorStatus(code)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	if code == domain.CodeSlotBusyRetry {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: string(code), Stale: errors.Is(err, domain.ErrStale)})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message, Code: code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
