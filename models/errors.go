package models

import "errors"

// Sentinel errors for the admission and streaming pipelines. Controllers map
// these onto HTTP status codes; anything else is treated as an internal fault.
var (
	ErrNotFound            = errors.New("entry not found")
	ErrUnsupportedType     = errors.New("unsupported content type")
	ErrDuplicateEntry      = errors.New("duplicate storage key")
	ErrQuotaExceeded       = errors.New("storage quota exceeded")
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrIOFailure           = errors.New("storage i/o failure")
)
