package simulation

import (
	"slices"
	"sort"
	"strings"

	"github.com/hylla/riskcast/internal/domain"
)

// ActivityRisks lists the risks affecting one activity in first-seen order.
type ActivityRisks struct {
	ActivityID int      `json:"activity_id"`
	RiskIDs    []string `json:"risk_ids"`
}

// BuildActivityIndex maps every linked activity to the ordered risks that
// affect it. Activities appear in the order their first link was seen.
func BuildActivityIndex(c *Context) []ActivityRisks {
	pos := map[int]int{}
	var out []ActivityRisks
	for _, risk := range c.risks {
		for _, activityID := range c.targets[risk.ID] {
			idx, ok := pos[activityID]
			if !ok {
				idx = len(out)
				pos[activityID] = idx
				out = append(out, ActivityRisks{ActivityID: activityID})
			}
			if slices.Contains(out[idx].RiskIDs, risk.ID) {
				continue
			}
			out[idx].RiskIDs = append(out[idx].RiskIDs, risk.ID)
		}
	}
	return out
}

// GroupActivities groups the context's activities by their ordered risk set.
func GroupActivities(c *Context) []domain.ActivityGroup {
	return GroupIndex(BuildActivityIndex(c), c.riskIdx)
}

// GroupIndex inverts an activity index into groups keyed by the exact
// ordered risk tuple; [R1,R2] and [R2,R1] are different keys. Members are
// sorted by id and groups by the input positions of their key's risks.
// Risks missing from riskOrder sort after every known risk.
func GroupIndex(index []ActivityRisks, riskOrder map[string]int) []domain.ActivityGroup {
	byKey := map[string]int{}
	var groups []domain.ActivityGroup
	for _, entry := range index {
		if len(entry.RiskIDs) == 0 {
			continue
		}
		key := strings.Join(entry.RiskIDs, "\x1f")
		idx, ok := byKey[key]
		if !ok {
			idx = len(groups)
			byKey[key] = idx
			groups = append(groups, domain.ActivityGroup{
				Key: append([]string(nil), entry.RiskIDs...),
			})
		}
		if slices.Contains(groups[idx].ActivityIDs, entry.ActivityID) {
			continue
		}
		groups[idx].ActivityIDs = append(groups[idx].ActivityIDs, entry.ActivityID)
	}

	for i := range groups {
		slices.Sort(groups[i].ActivityIDs)
	}
	positions := make([][]int, len(groups))
	for i, group := range groups {
		positions[i] = make([]int, 0, len(group.Key))
		for _, id := range group.Key {
			idx, ok := riskOrder[id]
			if !ok {
				idx = len(riskOrder)
			}
			positions[i] = append(positions[i], idx)
		}
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return slices.Compare(positions[order[a]], positions[order[b]]) < 0
	})
	out := make([]domain.ActivityGroup, 0, len(groups))
	for _, i := range order {
		out = append(out, groups[i])
	}
	return out
}
