package appointment

import (
	"errors"
)

var (
	ErrPastDate          = errors.New("scheduled time is in the past")
	ErrNotWorkingDay     = errors.New("practitioner does not work on that day")
	ErrOutsideHours      = errors.New("outside practitioner working hours")
	ErrConflict          = errors.New("slot overlaps an existing appointment")
	ErrDayFull           = errors.New("practitioner has reached the daily appointment limit")
	ErrPractitionerBusy  = errors.New("practitioner schedule is being modified, please retry")
	ErrInactive          = errors.New("practitioner is not accepting appointments")
	ErrNoAvailability    = errors.New("no practitioner available for the requested slot")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReasonRequired    = errors.New("cancellation reason is required")
	ErrTooEarlyForNoShow = errors.New("appointment time has not passed yet")
	ErrStaleStatus       = errors.New("appointment status changed concurrently")
	ErrInvalidRequest    = errors.New("invalid booking request")
)

const (
	CodePastDate          = "PAST_DATE"
	CodeNotWorkingDay     = "NOT_WORKING_DAY"
	CodeOutsideHours      = "OUTSIDE_HOURS"
	CodeConflict          = "CONFLICT"
	CodeNoAvailability    = "NO_AVAILABILITY"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeStaleStatus       = "STALE_STATUS"
	CodeInternal          = "INTERNAL"
)

// Code maps err to its taxonomy code. NO_AVAILABILITY wins over the reasons
// it wraps.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoAvailability):
		return CodeNoAvailability
	case errors.Is(err, ErrPastDate):
		return CodePastDate
	case errors.Is(err, ErrNotWorkingDay), errors.Is(err, ErrInactive):
		return CodeNotWorkingDay
	case errors.Is(err, ErrOutsideHours):
		return CodeOutsideHours
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDayFull), errors.Is(err, ErrPractitionerBusy):
		return CodeConflict
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrTooEarlyForNoShow):
		return CodeInvalidTransition
	case errors.Is(err, ErrStaleStatus):
		return CodeStaleStatus
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrAppointmentNotFound), errors.Is(err, ErrPractitionerNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// fallbackable reports whether a practitioner rejection should send the
// coordinator on to the next candidate.
func fallbackable(err error) bool {
	return errors.Is(err, ErrNotWorkingDay) ||
		errors.Is(err, ErrOutsideHours) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDayFull) ||
		errors.Is(err, ErrPractitionerBusy) ||
		errors.Is(err, ErrInactive)
}
