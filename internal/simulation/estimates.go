package simulation

import (
	"github.com/hylla/riskcast/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// IndividualEstimates returns one three-point estimate per risk and resolved
// activity, in risk input order then reference order.
func IndividualEstimates(c *Context) []domain.ThreePointEstimate {
	var out []domain.ThreePointEstimate
	for _, risk := range c.risks {
		for _, activityID := range c.targets[risk.ID] {
			activity, _ := c.Activity(activityID)
			avg := risk.AverageImpact(activity.OriginalDuration)
			out = append(out, domain.ThreePointEstimate{
				RiskID:      risk.ID,
				Title:       risk.Title,
				ActivityIDs: []int{activityID},
				Optimistic:  0.9 * avg,
				MostLikely:  avg,
				Pessimistic: 1.5 * avg,
				Average:     avg,
			})
		}
	}
	return out
}

// GroupedEstimates consolidates each risk across its activities using the
// same widened bounds the grouped simulation samples from.
func GroupedEstimates(c *Context) []domain.ThreePointEstimate {
	out := make([]domain.ThreePointEstimate, 0, len(c.risks))
	for _, risk := range c.risks {
		ids := c.targets[risk.ID]
		members := make([]domain.Activity, 0, len(ids))
		for _, activityID := range ids {
			activity, _ := c.Activity(activityID)
			members = append(members, activity)
		}
		lo, hi, avgs := GroupedBounds(risk, members)
		mean := 0.0
		if len(avgs) > 0 {
			mean = stat.Mean(avgs, nil)
		}
		out = append(out, domain.ThreePointEstimate{
			RiskID:      risk.ID,
			Title:       risk.Title,
			ActivityIDs: append([]int(nil), ids...),
			Optimistic:  lo,
			MostLikely:  mean,
			Pessimistic: hi,
			Average:     mean,
		})
	}
	return out
}
