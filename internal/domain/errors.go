package domain

import "errors"

var (
	// ErrInvalidDate is returned when a caller supplies a malformed date. It is
	// the one failure surfaced to callers instead of failing open.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidRange is returned when a calendar range ends before it starts.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrUnknownCalendar means no session calendar is known for a venue.
	ErrUnknownCalendar = errors.New("unknown venue calendar")

	// ErrProbe wraps failures of a live venue status check.
	ErrProbe = errors.New("venue status probe failed")
)
