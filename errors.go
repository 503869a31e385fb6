package hoist

import "errors"

var (
	// ErrNotFound is returned when a route, backend, processor or resource is not found
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when token verification fails
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidFile is returned when an uploaded file is missing or malformed
	ErrInvalidFile = errors.New("invalid file")
	// ErrTooLarge is returned when an uploaded file exceeds the configured size limit
	ErrTooLarge = errors.New("file too large")
	// ErrNotSupported is returned by backends that do not implement an operation
	ErrNotSupported = errors.New("not supported")
)
