package domain

// RiskActivityLink is one resolved risk-to-activity relationship.
type RiskActivityLink struct {
	RiskID     string
	ActivityID int
	Order      int
}

// ActivityGroup holds activities sharing an identical ordered risk set.
type ActivityGroup struct {
	Key         []string
	ActivityIDs []int
}

// SimulationSample is one Monte Carlo trial outcome.
type SimulationSample struct {
	RiskID                 string
	ActivityID             int
	Trial                  int
	OriginalDuration       float64
	SimulatedDuration      float64
	SimulatedRatio         float64
	TotalSimulatedDuration float64
}

// Extra returns the sampled duration impact of this trial.
func (s SimulationSample) Extra() float64 {
	return s.SimulatedDuration - s.OriginalDuration
}

// SummaryRow aggregates samples for one key. ActivityID is zero for
// per-risk rows.
type SummaryRow struct {
	ActivityID       int     `json:"activity_id,omitempty"`
	RiskID           string  `json:"risk_id"`
	OriginalDuration float64 `json:"original_duration"`
	Count            int     `json:"count"`
	MeanRatio        float64 `json:"mean_ratio"`
	MeanSimulated    float64 `json:"mean_simulated"`
	SDSimulated      float64 `json:"sd_simulated"`
	VarSimulated     float64 `json:"var_simulated"`
	MeanTotal        float64 `json:"mean_total_simulated"`
	SDTotal          float64 `json:"sd_total_simulated"`
	VarTotal         float64 `json:"var_total_simulated"`
	P10Total         float64 `json:"p10_total_simulated"`
	P90Total         float64 `json:"p90_total_simulated"`
	Impact           float64 `json:"impact"`
}

// ActivityCompound is the combined effect of every risk on one activity.
type ActivityCompound struct {
	ActivityID       int      `json:"activity_id"`
	RiskIDs          []string `json:"risk_ids"`
	OriginalDuration float64  `json:"original_duration"`
	Factor           float64  `json:"factor"`
	MeanSimulated    float64  `json:"mean_simulated"`
}

// RankedPoint is one bar of the ranked impact series.
type RankedPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
}

// ThreePointEstimate holds optimistic, most-likely, and pessimistic impacts.
type ThreePointEstimate struct {
	RiskID      string  `json:"risk_id"`
	Title       string  `json:"title"`
	ActivityIDs []int   `json:"activity_ids"`
	Optimistic  float64 `json:"o"`
	MostLikely  float64 `json:"m"`
	Pessimistic float64 `json:"p"`
	Average     float64 `json:"avg"`
}
