package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/domain"
	"github.com/spf13/afero"
)

// Output table file names.
const (
	FileIndividualRisks = "individual_risks.csv"
	FileGroupedRisks    = "grouped_risks.csv"
	FileResults         = "simulation_results.csv"
	FileSummary         = "simulation_summary.csv"
	FileCompound        = "activity_compound.csv"
	FileGroups          = "activity_groups.csv"
	FileAllocation      = "mitigation_allocation.csv"
	FileLinks           = "risk_activity_links.csv"
)

// Exporter writes the output tables of a run into one directory.
type Exporter struct {
	fs  afero.Fs
	dir string
}

// NewExporter constructs an exporter rooted at dir. A nil fs uses the OS.
func NewExporter(fs afero.Fs, dir string) *Exporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Exporter{fs: fs, dir: dir}
}

// Dir returns the output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

type renderedTable struct {
	name string
	data []byte
}

// ExportRun renders every table in memory first, then replaces each file
// atomically, so a rendering failure leaves the directory untouched.
func (e *Exporter) ExportRun(ctx context.Context, result app.RunResult) error {
	builders := []struct {
		name  string
		write func(*csv.Writer, app.RunResult) error
	}{
		{FileIndividualRisks, writeIndividualRisks},
		{FileGroupedRisks, writeGroupedRisks},
		{FileResults, writeResults},
		{FileSummary, writeSummary},
		{FileCompound, writeCompound},
		{FileGroups, writeGroups},
		{FileAllocation, writeAllocation},
		{FileLinks, writeLinks},
	}
	tables := make([]renderedTable, 0, len(builders))
	for _, b := range builders {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := b.write(w, result); err != nil {
			return fmt.Errorf("render %s: %w", b.name, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("render %s: %w", b.name, err)
		}
		tables = append(tables, renderedTable{name: b.name, data: buf.Bytes()})
	}

	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir %s: %w", e.dir, err)
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.atomicWrite(filepath.Join(e.dir, table.name), table.data); err != nil {
			return err
		}
	}
	return nil
}

// atomicWrite writes data to a temp file in the target directory, then
// renames it over path.
func (e *Exporter) atomicWrite(path string, data []byte) error {
	tmp, err := afero.TempFile(e.fs, filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = e.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := e.fs.Chmod(tmpPath, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := e.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	success = true
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}

func writeEstimates(w *csv.Writer, header string, rows []domain.ThreePointEstimate) error {
	if err := w.Write([]string{"riskId", "title", header, "o", "m", "p", "avg"}); err != nil {
		return err
	}
	for _, e := range rows {
		record := []string{
			e.RiskID,
			e.Title,
			joinInts(e.ActivityIDs),
			formatFloat(e.Optimistic),
			formatFloat(e.MostLikely),
			formatFloat(e.Pessimistic),
			formatFloat(e.Average),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeIndividualRisks(w *csv.Writer, result app.RunResult) error {
	return writeEstimates(w, "activityId", result.IndividualEstimates)
}

func writeGroupedRisks(w *csv.Writer, result app.RunResult) error {
	return writeEstimates(w, "activityIds", result.GroupedEstimates)
}

func writeResults(w *csv.Writer, result app.RunResult) error {
	header := []string{"riskId", "activityId", "trial", "originalDuration", "simulatedDuration", "simulatedDurationDivident", "totalSimulatedDuration"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range result.Samples {
		record := []string{
			s.RiskID,
			strconv.Itoa(s.ActivityID),
			strconv.Itoa(s.Trial),
			formatFloat(s.OriginalDuration),
			formatFloat(s.SimulatedDuration),
			formatFloat(s.SimulatedRatio),
			formatFloat(s.TotalSimulatedDuration),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// SummaryHeader lists the summary table columns.
var SummaryHeader = []string{
	"activityId", "riskId", "originalDuration", "count",
	"mean_simulated_divident", "mean_simulated", "sd_simulated", "var_simulated",
	"mean_total_simulated", "sd_total_simulated", "var_total_simulated",
	"p10_total_simulated", "p90_total_simulated", "impact",
}

func writeSummary(w *csv.Writer, result app.RunResult) error {
	if err := w.Write(SummaryHeader); err != nil {
		return err
	}
	for _, r := range result.Summary {
		activity := ""
		if r.ActivityID != 0 {
			activity = strconv.Itoa(r.ActivityID)
		}
		record := []string{
			activity,
			r.RiskID,
			formatFloat(r.OriginalDuration),
			strconv.Itoa(r.Count),
			formatFloat(r.MeanRatio),
			formatFloat(r.MeanSimulated),
			formatFloat(r.SDSimulated),
			formatFloat(r.VarSimulated),
			formatFloat(r.MeanTotal),
			formatFloat(r.SDTotal),
			formatFloat(r.VarTotal),
			formatFloat(r.P10Total),
			formatFloat(r.P90Total),
			formatFloat(r.Impact),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeCompound(w *csv.Writer, result app.RunResult) error {
	if err := w.Write([]string{"activityId", "riskIds", "originalDuration", "factor", "mean_simulated"}); err != nil {
		return err
	}
	for _, c := range result.Compound {
		record := []string{
			strconv.Itoa(c.ActivityID),
			strings.Join(c.RiskIDs, ","),
			formatFloat(c.OriginalDuration),
			formatFloat(c.Factor),
			formatFloat(c.MeanSimulated),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeGroups(w *csv.Writer, result app.RunResult) error {
	if err := w.Write([]string{"riskIds", "activityIds"}); err != nil {
		return err
	}
	for _, g := range result.Groups {
		if err := w.Write([]string{strings.Join(g.Key, ","), joinInts(g.ActivityIDs)}); err != nil {
			return err
		}
	}
	return nil
}

func writeAllocation(w *csv.Writer, result app.RunResult) error {
	if err := w.Write([]string{"runId", "status", "objective", "budget", "riskId", "level", "spend"}); err != nil {
		return err
	}
	alloc := result.Allocation
	prefix := []string{result.Run.ID, string(alloc.Status), formatFloat(alloc.Objective), formatFloat(alloc.Budget)}
	selected := alloc.Selected()
	if len(selected) == 0 {
		return w.Write(append(prefix, "", "", ""))
	}
	for _, item := range selected {
		record := append(append([]string(nil), prefix...), item.RiskID, formatFloat(item.Level), formatFloat(item.Spend))
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeLinks(w *csv.Writer, result app.RunResult) error {
	if err := w.Write([]string{"riskId", "activityId", "order"}); err != nil {
		return err
	}
	if result.Context == nil {
		return nil
	}
	for _, link := range result.Context.Links() {
		if err := w.Write([]string{link.RiskID, strconv.Itoa(link.ActivityID), strconv.Itoa(link.Order)}); err != nil {
			return err
		}
	}
	return nil
}
