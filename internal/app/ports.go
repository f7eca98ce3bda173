package app

import (
	"context"

	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
)

// RunRecord is everything persisted for one run.
type RunRecord struct {
	Run         domain.Run
	Summary     []domain.SummaryRow
	Allocations []mitigation.AllocationItem
	Diagnostics []domain.Diagnostic
}

// Repository stores completed runs.
type Repository interface {
	CreateRun(context.Context, RunRecord) error
	GetRun(context.Context, string) (domain.Run, error)
	ListRuns(context.Context, int) ([]domain.Run, error)
	ListSummaryRows(context.Context, string) ([]domain.SummaryRow, error)
	ListAllocations(context.Context, string) ([]mitigation.AllocationItem, error)
	ListDiagnostics(context.Context, string) ([]domain.Diagnostic, error)
	DeleteRun(context.Context, string) error
}

// Exporter writes the output tables of a successful run.
type Exporter interface {
	ExportRun(context.Context, RunResult) error
}

// Logger is the structured log sink used by the service.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}
