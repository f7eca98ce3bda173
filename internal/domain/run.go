package domain

import (
	"strings"
	"time"
)

// Run is the stored header of one completed pipeline execution.
type Run struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Mode             string    `json:"mode"`
	SummaryMode      string    `json:"summary_mode"`
	Iterations       int       `json:"iterations"`
	Workers          int       `json:"workers"`
	Seed             uint64    `json:"seed"`
	Baseline         float64   `json:"baseline"`
	ActivityCount    int       `json:"activity_count"`
	RiskCount        int       `json:"risk_count"`
	ValidRiskCount   int       `json:"valid_risk_count"`
	SampleCount      int       `json:"sample_count"`
	AllocationStatus string    `json:"allocation_status"`
	AllocationReason string    `json:"allocation_reason,omitempty"`
	Objective        float64   `json:"objective"`
	Budget           float64   `json:"budget"`
}

// NewRun validates the run identifier and normalizes the timestamp to UTC.
func NewRun(id string, createdAt time.Time) (Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Run{}, ErrInvalidRunID
	}
	return Run{
		ID:        id,
		CreatedAt: createdAt.UTC(),
	}, nil
}
