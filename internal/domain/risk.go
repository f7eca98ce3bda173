package domain

import (
	"math"
	"strconv"
	"strings"
)

// Risk is one row of the risk register. Probability scales TimeImpact into
// the expected impact; Alpha, Beta, Minimum and Maximum bound the sampled
// extra duration; the two costs feed the mitigation program.
type Risk struct {
	ID               string
	Title            string
	AffectedActivity string
	Probability      float64
	TimeImpact       float64
	Alpha            float64
	Beta             float64
	Minimum          float64
	Maximum          float64
	MitigationCost   float64
	ContingencyCost  float64
}

// NewRisk normalizes text fields and rejects a missing id. Parameter values
// are checked by ValidParameters and ValidShape so one bad row can be skipped
// without failing the table.
func NewRisk(in Risk) (Risk, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.AffectedActivity = strings.TrimSpace(in.AffectedActivity)
	if in.ID == "" {
		return Risk{}, ErrInvalidRiskID
	}
	return in, nil
}

// ValidParameters reports whether probability and costs are in range.
func (r Risk) ValidParameters() error {
	if math.IsNaN(r.Probability) || r.Probability < 0 || r.Probability > 1 {
		return ErrInvalidProbability
	}
	for _, cost := range []float64{r.MitigationCost, r.ContingencyCost} {
		if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
			return ErrInvalidCost
		}
	}
	return nil
}

// ValidShape reports whether the beta distribution parameters can be sampled.
func (r Risk) ValidShape() error {
	if !(r.Alpha > 0) || !(r.Beta > 0) || math.IsInf(r.Alpha, 0) || math.IsInf(r.Beta, 0) {
		return ErrInvalidShape
	}
	return nil
}

// ActivityRefs parses the affected-activity reference list.
func (r Risk) ActivityRefs() ([]int, []string) {
	return ParseActivityRefs(r.AffectedActivity)
}

// AverageImpact is the expected time impact of the risk on one activity,
// rounded half-to-even.
func (r Risk) AverageImpact(originalDuration float64) float64 {
	return math.RoundToEven(r.Probability * r.TimeImpact * originalDuration)
}

// ParseActivityRefs splits a single id or a delimited id list into ordered,
// de-duplicated activity ids. Tokens that are not integers are returned
// separately so callers can report them.
func ParseActivityRefs(raw string) ([]int, []string) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '|', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
	ids := make([]int, 0, len(fields))
	var invalid []string
	seen := map[int]struct{}{}
	for _, field := range fields {
		id, err := parseActivityToken(field)
		if err != nil {
			invalid = append(invalid, field)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, invalid
}

// parseActivityToken accepts integers and integral floats such as "3.0",
// which spreadsheet exports produce for numeric columns.
func parseActivityToken(token string) (int, error) {
	if id, err := strconv.Atoi(token); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}
