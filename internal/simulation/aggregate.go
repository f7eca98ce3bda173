package simulation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/hylla/riskcast/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// SummaryMode selects the aggregation key.
type SummaryMode string

// ModeActivityRisk and ModeRisk are the supported summary keys.
const (
	ModeActivityRisk SummaryMode = "activity_risk"
	ModeRisk         SummaryMode = "risk"
)

// ErrUnknownMode reports an unsupported summary mode.
var ErrUnknownMode = errors.New("unknown summary mode")

// ParseSummaryMode normalizes a configured mode name. Empty means activity_risk.
func ParseSummaryMode(raw string) (SummaryMode, error) {
	switch SummaryMode(raw) {
	case "", ModeActivityRisk:
		return ModeActivityRisk, nil
	case ModeRisk:
		return ModeRisk, nil
	default:
		return "", fmt.Errorf("%q: %w", raw, ErrUnknownMode)
	}
}

type summaryKey struct {
	activityID int
	riskID     string
}

type summaryBucket struct {
	key       summaryKey
	original  float64
	ratios    []float64
	simulated []float64
	totals    []float64
}

// Summarize aggregates samples per key. Rows are sorted by impact
// descending; ties keep the order in which keys first appear.
func Summarize(samples []domain.SimulationSample, baseline float64, mode SummaryMode) ([]domain.SummaryRow, error) {
	if mode == "" {
		mode = ModeActivityRisk
	}
	if mode != ModeActivityRisk && mode != ModeRisk {
		return nil, fmt.Errorf("summarize %q: %w", mode, ErrUnknownMode)
	}

	pos := map[summaryKey]int{}
	var buckets []*summaryBucket
	for _, sample := range samples {
		key := summaryKey{riskID: sample.RiskID}
		if mode == ModeActivityRisk {
			key.activityID = sample.ActivityID
		}
		idx, ok := pos[key]
		if !ok {
			idx = len(buckets)
			pos[key] = idx
			buckets = append(buckets, &summaryBucket{key: key, original: sample.OriginalDuration})
		}
		b := buckets[idx]
		b.ratios = append(b.ratios, sample.SimulatedRatio)
		b.simulated = append(b.simulated, sample.SimulatedDuration)
		b.totals = append(b.totals, sample.TotalSimulatedDuration)
	}

	rows := make([]domain.SummaryRow, 0, len(buckets))
	for _, b := range buckets {
		meanSim, sdSim, varSim := describe(b.simulated)
		meanTotal, sdTotal, varTotal := describe(b.totals)
		sorted := append([]float64(nil), b.totals...)
		slices.Sort(sorted)
		rows = append(rows, domain.SummaryRow{
			ActivityID:       b.key.activityID,
			RiskID:           b.key.riskID,
			OriginalDuration: b.original,
			Count:            len(b.totals),
			MeanRatio:        stat.Mean(b.ratios, nil),
			MeanSimulated:    meanSim,
			SDSimulated:      sdSim,
			VarSimulated:     varSim,
			MeanTotal:        meanTotal,
			SDTotal:          sdTotal,
			VarTotal:         varTotal,
			P10Total:         stat.Quantile(0.1, stat.Empirical, sorted, nil),
			P90Total:         stat.Quantile(0.9, stat.Empirical, sorted, nil),
			Impact:           meanTotal - baseline,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Impact > rows[j].Impact
	})
	return rows, nil
}

// describe returns mean, sample standard deviation, and sample variance.
// Fewer than two values report zero spread.
func describe(values []float64) (float64, float64, float64) {
	if len(values) < 2 {
		if len(values) == 1 {
			return values[0], 0, 0
		}
		return 0, 0, 0
	}
	mean, variance := stat.MeanVariance(values, nil)
	return mean, math.Sqrt(variance), variance
}

// Compound combines the activity_risk rows of each activity by multiplying
// the per-risk mean ratios: meanSimulated = original × Π(meanSimulated/original).
// Activities are sorted by id and their risks follow risk input order.
func Compound(c *Context, rows []domain.SummaryRow) []domain.ActivityCompound {
	pos := map[int]int{}
	var out []domain.ActivityCompound
	for _, row := range rows {
		if row.ActivityID == 0 || row.OriginalDuration == 0 {
			continue
		}
		idx, ok := pos[row.ActivityID]
		if !ok {
			idx = len(out)
			pos[row.ActivityID] = idx
			out = append(out, domain.ActivityCompound{
				ActivityID:       row.ActivityID,
				OriginalDuration: row.OriginalDuration,
				Factor:           1,
			})
		}
		out[idx].RiskIDs = append(out[idx].RiskIDs, row.RiskID)
		out[idx].Factor *= row.MeanSimulated / row.OriginalDuration
	}

	for i := range out {
		sort.SliceStable(out[i].RiskIDs, func(a, b int) bool {
			return riskPosition(c, out[i].RiskIDs[a]) < riskPosition(c, out[i].RiskIDs[b])
		})
		out[i].MeanSimulated = out[i].OriginalDuration * out[i].Factor
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActivityID < out[j].ActivityID
	})
	return out
}

func riskPosition(c *Context, riskID string) int {
	if c == nil {
		return 0
	}
	idx, ok := c.RiskIndex(riskID)
	if !ok {
		return math.MaxInt
	}
	return idx
}

// Rank converts summary rows into the ranked impact series, keeping row
// order. Low and high are the P10 and P90 totals relative to baseline.
func Rank(rows []domain.SummaryRow, baseline float64) []domain.RankedPoint {
	out := make([]domain.RankedPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RankedPoint{
			Label: rowLabel(row),
			Value: row.Impact,
			Low:   row.P10Total - baseline,
			High:  row.P90Total - baseline,
		})
	}
	return out
}

func rowLabel(row domain.SummaryRow) string {
	if row.ActivityID == 0 {
		return row.RiskID
	}
	return fmt.Sprintf("%s @ %d", row.RiskID, row.ActivityID)
}
