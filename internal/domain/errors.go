package domain

import "errors"

// ErrInvalidActivityID and related errors describe validation failures.
var (
	ErrInvalidActivityID  = errors.New("invalid activity id")
	ErrInvalidDuration    = errors.New("invalid original duration")
	ErrInvalidRiskID      = errors.New("invalid risk id")
	ErrInvalidShape       = errors.New("invalid beta shape parameters")
	ErrInvalidProbability = errors.New("invalid probability")
	ErrInvalidCost        = errors.New("invalid cost")
	ErrInvalidRunID       = errors.New("invalid run id")
)
