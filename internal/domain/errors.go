package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, transport-independent error classification.
type Code string

const (
	CodeSlotBusyRetry      Code = "SLOT_BUSY_RETRY"
	CodeSlotUnavailable    Code = "SLOT_UNAVAILABLE"
	CodeSlotsNotContiguous Code = "SLOTS_NOT_CONTIGUOUS"
	CodeSlotOccupied       Code = "SLOT_OCCUPIED"
	CodeValidation         Code = "VALIDATION"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
	CodeActivityFull       Code = "ACTIVITY_FULL"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInternal           Code = "INTERNAL"
)

// Error is a sentinel carrying a Code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrSlotBusyRetry another request holds one of the slot keys; safe to retry.
	ErrSlotBusyRetry = &Error{Code: CodeSlotBusyRetry, Message: "slot is being reserved by another request, retry later"}

	// ErrSlotUnavailable a requested slot is occupied, blocked or claimed by an activity.
	ErrSlotUnavailable = &Error{Code: CodeSlotUnavailable, Message: "slot is no longer available"}

	// ErrSlotsNotContiguous activity templates leave a gap.
	ErrSlotsNotContiguous = &Error{Code: CodeSlotsNotContiguous, Message: "slots do not form a contiguous time range"}

	// ErrSlotOccupied activity creation hit a booked, expired or activity-owned slot.
	ErrSlotOccupied = &Error{Code: CodeSlotOccupied, Message: "slot is occupied"}

	ErrValidation = &Error{Code: CodeValidation, Message: "invalid request"}

	// ErrInvariantViolation a conditional write changed nothing while the slot lock was held.
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation, Message: "slot state changed under lock"}

	ErrActivityFull = &Error{Code: CodeActivityFull, Message: "activity is full"}

	ErrNotFound = &Error{Code: CodeNotFound, Message: "not found"}
)

// ErrStale marks an availability failure found by the in-transaction double check.
// The caller should re-read slot state before retrying.
var ErrStale = errors.New("slot state changed since pre-check")

// Validationf wraps ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CodeOf extracts the Code from err, CodeInternal when none is attached.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
