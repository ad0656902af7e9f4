package domain

import "errors"

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Storage errors
	ErrNotFound     = errors.New("key not found")
	ErrInvalidRange = errors.New("invalid byte range")

	// Image errors
	ErrImageConflict    = errors.New("image already exists")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrParentNotFound   = errors.New("depends on a non-existing parent image")
	ErrInvalidImageJSON = errors.New("invalid image json")
	ErrLayerFormat      = errors.New("invalid layer archive")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
)
