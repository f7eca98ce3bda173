// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"

	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
)

// DefaultListLimit bounds run listings when callers pass no limit.
const DefaultListLimit = 50

// MaxListLimit caps one run listing page.
const MaxListLimit = 500

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrUnavailable reports a missing backing store.
var ErrUnavailable = errors.New("run store unavailable")

// ListRunsRequest captures run listing filters.
type ListRunsRequest struct {
	Limit int
}

// RankedRequest captures one ranked-impact query.
type RankedRequest struct {
	RunID string
	// Limit keeps the first N ranked points; zero keeps all.
	Limit int
}

// RunList is the listing envelope returned to HTTP and MCP callers.
type RunList struct {
	Runs  []domain.Run `json:"runs"`
	Limit int          `json:"limit"`
}

// RunDetail bundles one run header with its skipped-input diagnostics.
type RunDetail struct {
	Run         domain.Run          `json:"run"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

// AllocationView is the mitigation plan of one run.
type AllocationView struct {
	RunID     string                      `json:"run_id"`
	Status    string                      `json:"status"`
	Reason    string                      `json:"reason,omitempty"`
	Objective float64                     `json:"objective"`
	Budget    float64                     `json:"budget"`
	Items     []mitigation.AllocationItem `json:"items"`
	Selected  []mitigation.AllocationItem `json:"selected"`
}

// RunReader resolves stored-run queries for transport adapters.
type RunReader interface {
	ListRuns(context.Context, ListRunsRequest) (RunList, error)
	GetRun(context.Context, string) (RunDetail, error)
	SummaryRows(context.Context, string) ([]domain.SummaryRow, error)
	RankedImpacts(context.Context, RankedRequest) ([]domain.RankedPoint, error)
	Allocation(context.Context, string) (AllocationView, error)
	Snapshot(context.Context, string) (app.Snapshot, error)
}
