package storage

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned for a disallowed alert status change
	ErrInvalidTransition = errors.New("invalid alert status transition")
)
