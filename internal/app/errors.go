package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrInputMissing     = errors.New("input table missing")
	ErrInvalidRunMode   = errors.New("invalid run mode")
	ErrStoreUnavailable = errors.New("run store is not configured")
)
