package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
	"github.com/hylla/riskcast/internal/simulation"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "riskcast.snapshot.v1"

// Snapshot is the portable JSON view of one stored run.
type Snapshot struct {
	Version     string                      `json:"version"`
	ExportedAt  time.Time                   `json:"exported_at"`
	Run         domain.Run                  `json:"run"`
	Summary     []domain.SummaryRow         `json:"summary"`
	Ranked      []domain.RankedPoint        `json:"ranked"`
	Allocations []mitigation.AllocationItem `json:"allocations"`
	Diagnostics []domain.Diagnostic         `json:"diagnostics,omitempty"`
}

// Selected returns the strictly positive allocations of the snapshot.
func (s Snapshot) Selected() []mitigation.AllocationItem {
	return mitigation.Allocation{Items: s.Allocations}.Selected()
}

// ExportSnapshot assembles the snapshot of one stored run.
func (s *Service) ExportSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return Snapshot{}, err
	}
	rows, err := s.repo.ListSummaryRows(ctx, run.ID)
	if err != nil {
		return Snapshot{}, err
	}
	allocations, err := s.repo.ListAllocations(ctx, run.ID)
	if err != nil {
		return Snapshot{}, err
	}
	diagnostics, err := s.repo.ListDiagnostics(ctx, run.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  s.clock().UTC(),
		Run:         run,
		Summary:     rows,
		Ranked:      simulation.Rank(rows, run.Baseline),
		Allocations: allocations,
		Diagnostics: diagnostics,
	}, nil
}

// SnapshotFromResult builds a snapshot directly from a finished run.
func SnapshotFromResult(result RunResult, exportedAt time.Time) Snapshot {
	return Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  exportedAt.UTC(),
		Run:         result.Run,
		Summary:     result.Summary,
		Ranked:      result.Ranked,
		Allocations: result.Allocation.Items,
		Diagnostics: result.Diagnostics,
	}
}

// Validate checks the snapshot is internally consistent.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}
	if strings.TrimSpace(s.Run.ID) == "" {
		return fmt.Errorf("run.id is required")
	}
	if s.Run.CreatedAt.IsZero() {
		return fmt.Errorf("run.created_at is required")
	}
	if len(s.Ranked) != len(s.Summary) {
		return fmt.Errorf("ranked has %d points for %d summary rows", len(s.Ranked), len(s.Summary))
	}
	seen := map[string]struct{}{}
	for i, item := range s.Allocations {
		if strings.TrimSpace(item.RiskID) == "" {
			return fmt.Errorf("allocations[%d].risk_id is required", i)
		}
		if _, ok := seen[item.RiskID]; ok {
			return fmt.Errorf("duplicate allocation risk id: %q", item.RiskID)
		}
		if item.Level < 0 {
			return fmt.Errorf("allocations[%d].level must be >= 0", i)
		}
		seen[item.RiskID] = struct{}{}
	}
	for i, row := range s.Summary {
		if strings.TrimSpace(row.RiskID) == "" {
			return fmt.Errorf("summary[%d].risk_id is required", i)
		}
		if row.Count < 0 {
			return fmt.Errorf("summary[%d].count must be >= 0", i)
		}
	}
	return nil
}
