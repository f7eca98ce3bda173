package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
)

// AppServiceAdapter maps transport contracts onto app.Service stored-run queries.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListRuns lists stored runs newest first within a bounded page.
func (a *AppServiceAdapter) ListRuns(ctx context.Context, in ListRunsRequest) (RunList, error) {
	if err := a.ready(); err != nil {
		return RunList{}, err
	}
	limit, err := normalizeLimit(in.Limit)
	if err != nil {
		return RunList{}, err
	}
	runs, err := a.service.ListRuns(ctx, limit)
	if err != nil {
		return RunList{}, mapAppError("list runs", err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return RunList{Runs: runs, Limit: limit}, nil
}

// GetRun returns one run header and its diagnostics.
func (a *AppServiceAdapter) GetRun(ctx context.Context, runID string) (RunDetail, error) {
	if err := a.ready(); err != nil {
		return RunDetail{}, err
	}
	runID, err := normalizeRunID(runID)
	if err != nil {
		return RunDetail{}, err
	}
	run, err := a.service.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, mapAppError("get run", err)
	}
	diagnostics, err := a.service.ListDiagnostics(ctx, runID)
	if err != nil {
		return RunDetail{}, mapAppError("list diagnostics", err)
	}
	if diagnostics == nil {
		diagnostics = []domain.Diagnostic{}
	}
	return RunDetail{Run: run, Diagnostics: diagnostics}, nil
}

// SummaryRows returns the stored summary table of one run.
func (a *AppServiceAdapter) SummaryRows(ctx context.Context, runID string) ([]domain.SummaryRow, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	runID, err := normalizeRunID(runID)
	if err != nil {
		return nil, err
	}
	rows, err := a.service.ListSummaryRows(ctx, runID)
	if err != nil {
		return nil, mapAppError("list summary rows", err)
	}
	if rows == nil {
		rows = []domain.SummaryRow{}
	}
	return rows, nil
}

// RankedImpacts returns the ranked impact series of one run.
func (a *AppServiceAdapter) RankedImpacts(ctx context.Context, in RankedRequest) ([]domain.RankedPoint, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	runID, err := normalizeRunID(in.RunID)
	if err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	}
	points, err := a.service.RankedImpacts(ctx, runID)
	if err != nil {
		return nil, mapAppError("ranked impacts", err)
	}
	if in.Limit > 0 && len(points) > in.Limit {
		points = points[:in.Limit]
	}
	if points == nil {
		points = []domain.RankedPoint{}
	}
	return points, nil
}

// Allocation returns the mitigation plan of one run.
func (a *AppServiceAdapter) Allocation(ctx context.Context, runID string) (AllocationView, error) {
	if err := a.ready(); err != nil {
		return AllocationView{}, err
	}
	runID, err := normalizeRunID(runID)
	if err != nil {
		return AllocationView{}, err
	}
	run, err := a.service.GetRun(ctx, runID)
	if err != nil {
		return AllocationView{}, mapAppError("get run", err)
	}
	items, err := a.service.ListAllocations(ctx, runID)
	if err != nil {
		return AllocationView{}, mapAppError("list allocations", err)
	}
	if items == nil {
		items = []mitigation.AllocationItem{}
	}
	selected := mitigation.Allocation{Items: items}.Selected()
	if selected == nil {
		selected = []mitigation.AllocationItem{}
	}
	return AllocationView{
		RunID:     run.ID,
		Status:    run.AllocationStatus,
		Reason:    run.AllocationReason,
		Objective: run.Objective,
		Budget:    run.Budget,
		Items:     items,
		Selected:  selected,
	}, nil
}

// Snapshot returns the portable snapshot of one run.
func (a *AppServiceAdapter) Snapshot(ctx context.Context, runID string) (app.Snapshot, error) {
	if err := a.ready(); err != nil {
		return app.Snapshot{}, err
	}
	runID, err := normalizeRunID(runID)
	if err != nil {
		return app.Snapshot{}, err
	}
	snap, err := a.service.ExportSnapshot(ctx, runID)
	if err != nil {
		return app.Snapshot{}, mapAppError("export snapshot", err)
	}
	return snap, nil
}

// ready reports whether the adapter has a service to call.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// normalizeRunID trims and validates one run identifier.
func normalizeRunID(runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", fmt.Errorf("run_id is required: %w", ErrInvalidRequest)
	}
	return runID, nil
}

// normalizeLimit applies the default page size and rejects out-of-range limits.
func normalizeLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	case limit == 0:
		return DefaultListLimit, nil
	case limit > MaxListLimit:
		return MaxListLimit, nil
	default:
		return limit, nil
	}
}

// mapAppError maps app-layer failures onto transport error categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrStoreUnavailable):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	case errors.Is(err, domain.ErrInvalidRunID):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
