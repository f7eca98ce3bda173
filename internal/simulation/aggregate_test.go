package simulation

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/hylla/riskcast/internal/domain"
)

func sample(riskID string, activityID int, original, extra, baseline float64) domain.SimulationSample {
	simulated := original + extra
	return domain.SimulationSample{
		RiskID:                 riskID,
		ActivityID:             activityID,
		OriginalDuration:       original,
		SimulatedDuration:      simulated,
		SimulatedRatio:         simulated / original,
		TotalSimulatedDuration: baseline + extra,
	}
}

// TestSummarizeActivityRisk verifies statistics and impact ordering.
func TestSummarizeActivityRisk(t *testing.T) {
	samples := []domain.SimulationSample{
		sample("R1", 1, 10, 1, 100),
		sample("R1", 1, 10, 3, 100),
		sample("R2", 1, 10, 10, 100),
		sample("R2", 1, 10, 20, 100),
		sample("R3", 2, 5, 4, 100),
	}
	rows, err := Summarize(samples, 100, ModeActivityRisk)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %#v", rows)
	}
	if rows[0].RiskID != "R2" || rows[1].RiskID != "R3" || rows[2].RiskID != "R1" {
		t.Fatalf("unexpected impact order %#v", rows)
	}
	r2 := rows[0]
	if r2.Count != 2 || r2.MeanSimulated != 25 || r2.MeanTotal != 115 || r2.Impact != 15 {
		t.Fatalf("unexpected R2 row %#v", r2)
	}
	if math.Abs(r2.VarSimulated-50) > 1e-9 || math.Abs(r2.SDSimulated-math.Sqrt(50)) > 1e-9 {
		t.Fatalf("expected sample variance 50, got var=%v sd=%v", r2.VarSimulated, r2.SDSimulated)
	}
	if math.Abs(r2.MeanRatio-2.5) > 1e-9 {
		t.Fatalf("expected mean ratio 2.5, got %v", r2.MeanRatio)
	}
	for _, row := range rows {
		if row.SDSimulated == 0 {
			continue
		}
		if rel := math.Abs(row.VarSimulated-row.SDSimulated*row.SDSimulated) / row.VarSimulated; rel > 1e-9 {
			t.Fatalf("variance != sd^2 for %#v", row)
		}
		if row.P10Total > row.P90Total {
			t.Fatalf("expected p10 <= p90 for %#v", row)
		}
	}
	if r3 := rows[1]; r3.Count != 1 || r3.SDSimulated != 0 || r3.VarTotal != 0 || r3.MeanSimulated != 9 {
		t.Fatalf("expected zero spread for single-sample row, got %#v", r3)
	}
}

// TestSummarizeRiskMode verifies per-risk keys collapse activities.
func TestSummarizeRiskMode(t *testing.T) {
	samples := []domain.SimulationSample{
		sample("R1", 1, 10, 2, 50),
		sample("R1", 2, 20, 2, 50),
		sample("R2", 2, 20, 1, 50),
		sample("R2", 2, 20, 1, 50),
	}
	rows, err := Summarize(samples, 50, ModeRisk)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(rows) != 2 || rows[0].RiskID != "R1" || rows[0].ActivityID != 0 || rows[0].Count != 2 {
		t.Fatalf("unexpected risk rows %#v", rows)
	}
	if _, err := Summarize(samples, 50, "bogus"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if mode, err := ParseSummaryMode(""); err != nil || mode != ModeActivityRisk {
		t.Fatalf("expected default activity_risk mode, got %q err=%v", mode, err)
	}
}

// TestSummarizeStableTies verifies equal impacts keep first-appearance order.
func TestSummarizeStableTies(t *testing.T) {
	samples := []domain.SimulationSample{
		sample("B", 2, 10, 5, 10),
		sample("A", 1, 10, 5, 10),
		sample("C", 3, 10, 5, 10),
	}
	rows, err := Summarize(samples, 10, ModeActivityRisk)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	got := []string{rows[0].RiskID, rows[1].RiskID, rows[2].RiskID}
	if !slices.Equal(got, []string{"B", "A", "C"}) {
		t.Fatalf("expected first-appearance order, got %#v", got)
	}
}

// TestCompoundMultipliesRatios verifies the per-activity product rule.
func TestCompoundMultipliesRatios(t *testing.T) {
	c := mustContext(t,
		[]domain.Activity{{ID: 1, OriginalDuration: 10}, {ID: 2, OriginalDuration: 20}},
		[]domain.Risk{exampleRisk("R1", "1"), exampleRisk("R2", "1,2")},
	)
	rows := []domain.SummaryRow{
		{ActivityID: 2, RiskID: "R2", OriginalDuration: 20, MeanSimulated: 25},
		{ActivityID: 1, RiskID: "R2", OriginalDuration: 10, MeanSimulated: 15},
		{ActivityID: 1, RiskID: "R1", OriginalDuration: 10, MeanSimulated: 12},
	}
	got := Compound(c, rows)
	if len(got) != 2 || got[0].ActivityID != 1 || got[1].ActivityID != 2 {
		t.Fatalf("unexpected compound rows %#v", got)
	}
	if !slices.Equal(got[0].RiskIDs, []string{"R1", "R2"}) {
		t.Fatalf("expected risk input order, got %#v", got[0].RiskIDs)
	}
	if math.Abs(got[0].Factor-1.8) > 1e-9 || math.Abs(got[0].MeanSimulated-18) > 1e-9 {
		t.Fatalf("expected factor 1.8 and mean 18, got %#v", got[0])
	}
	if math.Abs(got[1].MeanSimulated-25) > 1e-9 {
		t.Fatalf("expected single-risk activity mean 25, got %#v", got[1])
	}
}

// TestRankSeries verifies ranked points follow row order relative to baseline.
func TestRankSeries(t *testing.T) {
	rows := []domain.SummaryRow{
		{ActivityID: 3, RiskID: "R9", Impact: 12, P10Total: 105, P90Total: 120},
		{RiskID: "R1", Impact: 4, P10Total: 101, P90Total: 108},
	}
	got := Rank(rows, 100)
	want := []domain.RankedPoint{
		{Label: "R9 @ 3", Value: 12, Low: 5, High: 20},
		{Label: "R1", Value: 4, Low: 1, High: 8},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("want %#v, got %#v", want, got)
	}
}

// TestEstimates verifies individual and grouped three-point estimates.
func TestEstimates(t *testing.T) {
	risk := exampleRisk("R1", "1,2")
	risk.Probability = 1
	risk.TimeImpact = 0.5
	c := mustContext(t,
		[]domain.Activity{{ID: 1, OriginalDuration: 10}, {ID: 2, OriginalDuration: 40}},
		[]domain.Risk{risk},
	)
	individual := IndividualEstimates(c)
	if len(individual) != 2 {
		t.Fatalf("expected 2 individual estimates, got %#v", individual)
	}
	if e := individual[1]; e.Average != 20 || e.Optimistic != 18 || e.Pessimistic != 30 || !slices.Equal(e.ActivityIDs, []int{2}) {
		t.Fatalf("unexpected individual estimate %#v", e)
	}
	grouped := GroupedEstimates(c)
	if len(grouped) != 1 {
		t.Fatalf("expected 1 grouped estimate, got %#v", grouped)
	}
	if e := grouped[0]; e.Optimistic != 4.5 || e.Pessimistic != 30 || e.MostLikely != 12.5 || !slices.Equal(e.ActivityIDs, []int{1, 2}) {
		t.Fatalf("unexpected grouped estimate %#v", e)
	}
}
