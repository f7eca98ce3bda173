package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository stores completed runs in SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens the database at path, creating its directory and schema.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// each pooled connection would get its own empty memory database.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate creates the schema.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			mode TEXT NOT NULL,
			summary_mode TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			workers INTEGER NOT NULL,
			seed TEXT NOT NULL,
			baseline REAL NOT NULL,
			activity_count INTEGER NOT NULL,
			risk_count INTEGER NOT NULL,
			valid_risk_count INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			allocation_status TEXT NOT NULL,
			allocation_reason TEXT NOT NULL DEFAULT '',
			objective REAL NOT NULL DEFAULT 0,
			budget REAL NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS summary_rows (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			activity_id INTEGER NOT NULL DEFAULT 0,
			risk_id TEXT NOT NULL,
			original_duration REAL NOT NULL,
			count INTEGER NOT NULL,
			mean_ratio REAL NOT NULL,
			mean_simulated REAL NOT NULL,
			sd_simulated REAL NOT NULL,
			var_simulated REAL NOT NULL,
			mean_total REAL NOT NULL,
			sd_total REAL NOT NULL,
			var_total REAL NOT NULL,
			p10_total REAL NOT NULL,
			p90_total REAL NOT NULL,
			impact REAL NOT NULL,
			PRIMARY KEY(run_id, position),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS allocations (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			risk_id TEXT NOT NULL,
			level REAL NOT NULL,
			spend REAL NOT NULL,
			PRIMARY KEY(run_id, position),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			kind TEXT NOT NULL,
			risk_id TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			PRIMARY KEY(run_id, position),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a run header and its child rows in one transaction.
func (r *Repository) CreateRun(ctx context.Context, rec app.RunRecord) (err error) {
	run := rec.Run
	if strings.TrimSpace(run.ID) == "" {
		return domain.ErrInvalidRunID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs(
			id, created_at, mode, summary_mode, iterations, workers, seed, baseline,
			activity_count, risk_count, valid_risk_count, sample_count,
			allocation_status, allocation_reason, objective, budget
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		ts(run.CreatedAt),
		run.Mode,
		run.SummaryMode,
		run.Iterations,
		run.Workers,
		strconv.FormatUint(run.Seed, 10),
		run.Baseline,
		run.ActivityCount,
		run.RiskCount,
		run.ValidRiskCount,
		run.SampleCount,
		run.AllocationStatus,
		run.AllocationReason,
		run.Objective,
		run.Budget,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, row := range rec.Summary {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO summary_rows(
				run_id, position, activity_id, risk_id, original_duration, count,
				mean_ratio, mean_simulated, sd_simulated, var_simulated,
				mean_total, sd_total, var_total, p10_total, p90_total, impact
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, i, row.ActivityID, row.RiskID, row.OriginalDuration, row.Count,
			row.MeanRatio, row.MeanSimulated, row.SDSimulated, row.VarSimulated,
			row.MeanTotal, row.SDTotal, row.VarTotal, row.P10Total, row.P90Total, row.Impact,
		)
		if err != nil {
			return fmt.Errorf("insert summary row %d: %w", i, err)
		}
	}
	for i, item := range rec.Allocations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO allocations(run_id, position, risk_id, level, spend)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, i, item.RiskID, item.Level, item.Spend)
		if err != nil {
			return fmt.Errorf("insert allocation %d: %w", i, err)
		}
	}
	for i, diag := range rec.Diagnostics {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO diagnostics(run_id, position, kind, risk_id, ref, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, string(diag.Kind), diag.RiskID, diag.Ref, diag.Message)
		if err != nil {
			return fmt.Errorf("insert diagnostic %d: %w", i, err)
		}
	}

	err = tx.Commit()
	return err
}

const runColumns = `id, created_at, mode, summary_mode, iterations, workers, seed, baseline,
	activity_count, risk_count, valid_risk_count, sample_count,
	allocation_status, allocation_reason, objective, budget`

// GetRun returns one run header.
func (r *Repository) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, app.ErrNotFound
	}
	return run, err
}

// ListRuns returns run headers newest first. A non-positive limit lists all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListSummaryRows returns a run's summary rows in stored impact order.
func (r *Repository) ListSummaryRows(ctx context.Context, runID string) ([]domain.SummaryRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT activity_id, risk_id, original_duration, count,
			mean_ratio, mean_simulated, sd_simulated, var_simulated,
			mean_total, sd_total, var_total, p10_total, p90_total, impact
		FROM summary_rows
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SummaryRow, 0)
	for rows.Next() {
		var row domain.SummaryRow
		if err := rows.Scan(
			&row.ActivityID, &row.RiskID, &row.OriginalDuration, &row.Count,
			&row.MeanRatio, &row.MeanSimulated, &row.SDSimulated, &row.VarSimulated,
			&row.MeanTotal, &row.SDTotal, &row.VarTotal, &row.P10Total, &row.P90Total, &row.Impact,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListAllocations returns a run's allocation items in risk order.
func (r *Repository) ListAllocations(ctx context.Context, runID string) ([]mitigation.AllocationItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT risk_id, level, spend
		FROM allocations
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]mitigation.AllocationItem, 0)
	for rows.Next() {
		var item mitigation.AllocationItem
		if err := rows.Scan(&item.RiskID, &item.Level, &item.Spend); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListDiagnostics returns the data errors recorded for a run.
func (r *Repository) ListDiagnostics(ctx context.Context, runID string) ([]domain.Diagnostic, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, risk_id, ref, message
		FROM diagnostics
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Diagnostic, 0)
	for rows.Next() {
		var (
			diag domain.Diagnostic
			kind string
		)
		if err := rows.Scan(&kind, &diag.RiskID, &diag.Ref, &diag.Message); err != nil {
			return nil, err
		}
		diag.Kind = domain.DiagnosticKind(kind)
		out = append(out, diag)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its child rows.
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRun decodes one runs row.
func scanRun(s scanner) (domain.Run, error) {
	var (
		run        domain.Run
		createdRaw string
		seedRaw    string
	)
	if err := s.Scan(
		&run.ID,
		&createdRaw,
		&run.Mode,
		&run.SummaryMode,
		&run.Iterations,
		&run.Workers,
		&seedRaw,
		&run.Baseline,
		&run.ActivityCount,
		&run.RiskCount,
		&run.ValidRiskCount,
		&run.SampleCount,
		&run.AllocationStatus,
		&run.AllocationReason,
		&run.Objective,
		&run.Budget,
	); err != nil {
		return domain.Run{}, err
	}
	seed, err := strconv.ParseUint(seedRaw, 10, 64)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode seed of run %s: %w", run.ID, err)
	}
	run.Seed = seed
	run.CreatedAt = parseTS(createdRaw)
	return run, nil
}

// translateNoRows maps a zero-row change to app.ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ts formats a timestamp for storage.
func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// parseTS parses a stored timestamp.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
