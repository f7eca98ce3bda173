// Package tabular reads the activity and risk tables and writes the run's
// output tables as CSV.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/hylla/riskcast/internal/domain"
	"github.com/spf13/afero"
)

// ErrMissingColumn and related errors describe unreadable input tables.
var (
	ErrMissingColumn = errors.New("missing required column")
	ErrMalformedRow  = errors.New("malformed row")
	ErrEmptyTable    = errors.New("table has no header")
)

// Activity table columns.
const (
	colActivityID       = "activityId"
	colOriginalDuration = "originalDuration"
)

// Risk table columns.
const (
	colRiskID           = "riskId"
	colTitle            = "title"
	colAffectedActivity = "affectedActivity"
	colProbability      = "probability"
	colTimeImpact       = "timeImpact"
	colAlpha            = "alpha"
	colBeta             = "beta"
	colMinimum          = "minimum"
	colMaximum          = "maximum"
	colMitigationCost   = "riskMitigationCost"
	colContingencyCost  = "contingencyCost"
)

// table is a header-indexed CSV body.
type table struct {
	index map[string]int
	rows  [][]string
}

func readTable(r io.Reader, required ...string) (table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return table{}, ErrEmptyTable
	}
	t := table{index: map[string]int{}, rows: records[1:]}
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		key := strings.ToLower(name)
		if _, ok := t.index[key]; !ok {
			t.index[key] = i
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := t.index[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return table{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return t, nil
}

// cell returns the trimmed value of a column, or "" when the row is short.
func (t table) cell(row []string, name string) string {
	i, ok := t.index[strings.ToLower(name)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

// rowError numbers rows as a spreadsheet does: the header is line 1.
func rowError(i int, column string, err error) error {
	return fmt.Errorf("row %d column %s: %w: %w", i+2, column, ErrMalformedRow, err)
}

func parseFloat(t table, row []string, i int, column string) (float64, error) {
	raw := t.cell(row, column)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, rowError(i, column, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, rowError(i, column, fmt.Errorf("non-finite value %q", raw))
	}
	return value, nil
}

func parseID(t table, row []string, i int, column string) (int, error) {
	raw := t.cell(row, column)
	if id, err := strconv.Atoi(raw); err == nil {
		return id, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value != math.Trunc(value) || math.IsInf(value, 0) {
		return 0, rowError(i, column, fmt.Errorf("not an integer id %q", raw))
	}
	return int(value), nil
}

// ReadActivities parses the activity table. Blank rows are skipped.
func ReadActivities(r io.Reader) ([]domain.Activity, error) {
	t, err := readTable(r, colActivityID, colOriginalDuration)
	if err != nil {
		return nil, fmt.Errorf("activities: %w", err)
	}
	out := make([]domain.Activity, 0, len(t.rows))
	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		id, err := parseID(t, row, i, colActivityID)
		if err != nil {
			return nil, fmt.Errorf("activities: %w", err)
		}
		duration, err := parseFloat(t, row, i, colOriginalDuration)
		if err != nil {
			return nil, fmt.Errorf("activities: %w", err)
		}
		activity, err := domain.NewActivity(id, duration)
		if err != nil {
			return nil, fmt.Errorf("activities: %w", rowError(i, colActivityID, err))
		}
		out = append(out, activity)
	}
	return out, nil
}

// ReadRisks parses the risk table. Blank rows are skipped; parameter ranges,
// beta shape and activity references are checked later by the simulation
// context.
func ReadRisks(r io.Reader) ([]domain.Risk, error) {
	t, err := readTable(r,
		colRiskID, colAffectedActivity, colProbability, colTimeImpact,
		colAlpha, colBeta, colMinimum, colMaximum,
		colMitigationCost, colContingencyCost,
	)
	if err != nil {
		return nil, fmt.Errorf("risks: %w", err)
	}
	out := make([]domain.Risk, 0, len(t.rows))
	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		in := domain.Risk{
			ID:               t.cell(row, colRiskID),
			Title:            t.cell(row, colTitle),
			AffectedActivity: t.cell(row, colAffectedActivity),
		}
		numeric := []struct {
			column string
			dst    *float64
		}{
			{colProbability, &in.Probability},
			{colTimeImpact, &in.TimeImpact},
			{colAlpha, &in.Alpha},
			{colBeta, &in.Beta},
			{colMinimum, &in.Minimum},
			{colMaximum, &in.Maximum},
			{colMitigationCost, &in.MitigationCost},
			{colContingencyCost, &in.ContingencyCost},
		}
		for _, field := range numeric {
			value, err := parseFloat(t, row, i, field.column)
			if err != nil {
				return nil, fmt.Errorf("risks: %w", err)
			}
			*field.dst = value
		}
		risk, err := domain.NewRisk(in)
		if err != nil {
			return nil, fmt.Errorf("risks: %w", rowError(i, colRiskID, err))
		}
		out = append(out, risk)
	}
	return out, nil
}

// LoadActivities reads the activity table at path from fs.
func LoadActivities(fs afero.Fs, path string) ([]domain.Activity, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open activities %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ReadActivities(f)
}

// LoadRisks reads the risk table at path from fs.
func LoadRisks(fs afero.Fs, path string) ([]domain.Risk, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open risks %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ReadRisks(f)
}
