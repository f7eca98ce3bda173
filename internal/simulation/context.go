// Package simulation holds the Monte Carlo risk engine: the simulation
// context, combination enumeration, activity grouping, trial sampling, and
// sample aggregation.
package simulation

import (
	"errors"
	"fmt"

	"github.com/hylla/riskcast/internal/domain"
)

// ErrNoActivities and related errors describe input tables that cannot start a run.
var (
	ErrNoActivities = errors.New("activity table is empty or not loaded")
	ErrNoRisks      = errors.New("risk table is empty or not loaded")
	ErrTooManyRisks = errors.New("too many risks to enumerate")
)

// Logger is the diagnostic sink used by the engine. *log.Logger from
// charmbracelet/log satisfies it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

// nopLogger discards engine diagnostics.
type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}

// orNop returns logger or a discarding logger when nil.
func orNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

// Context is the read-only state every pipeline stage works from.
type Context struct {
	activities  []domain.Activity
	activityIdx map[int]int
	risks       []domain.Risk
	riskIdx     map[string]int
	targets     map[string][]int
	links       []domain.RiskActivityLink
	baseline    float64
	diagnostics []domain.Diagnostic
}

// NewContext validates the loaded tables and resolves every risk's affected
// activities. Data errors are recorded as diagnostics and logged; only
// missing tables fail.
func NewContext(activities []domain.Activity, risks []domain.Risk, logger Logger) (*Context, error) {
	logger = orNop(logger)
	if len(activities) == 0 {
		return nil, ErrNoActivities
	}
	if len(risks) == 0 {
		return nil, ErrNoRisks
	}

	c := &Context{
		activityIdx: make(map[int]int, len(activities)),
		riskIdx:     make(map[string]int, len(risks)),
		targets:     make(map[string][]int, len(risks)),
	}
	for _, activity := range activities {
		if _, ok := c.activityIdx[activity.ID]; ok {
			c.record(logger, domain.Diagnostic{
				Kind:    domain.DiagnosticDuplicateActivity,
				Ref:     fmt.Sprint(activity.ID),
				Message: "duplicate activity id, keeping first row",
			})
			continue
		}
		c.activityIdx[activity.ID] = len(c.activities)
		c.activities = append(c.activities, activity)
	}
	c.baseline = domain.BaselineDuration(c.activities)

	for _, risk := range risks {
		if _, ok := c.riskIdx[risk.ID]; ok {
			c.record(logger, domain.Diagnostic{
				Kind:    domain.DiagnosticDuplicateRisk,
				RiskID:  risk.ID,
				Message: "duplicate risk id, keeping first row",
			})
			continue
		}
		if err := risk.ValidParameters(); err != nil {
			c.record(logger, domain.Diagnostic{
				Kind:    domain.DiagnosticInvalidParameter,
				RiskID:  risk.ID,
				Message: fmt.Sprintf("probability=%g mitigation=%g contingency=%g: %v", risk.Probability, risk.MitigationCost, risk.ContingencyCost, err),
			})
			continue
		}
		if err := risk.ValidShape(); err != nil {
			c.record(logger, domain.Diagnostic{
				Kind:    domain.DiagnosticInvalidShape,
				RiskID:  risk.ID,
				Message: fmt.Sprintf("alpha=%g beta=%g: %v", risk.Alpha, risk.Beta, err),
			})
			continue
		}

		refs, invalid := risk.ActivityRefs()
		for _, token := range invalid {
			c.record(logger, domain.Diagnostic{
				Kind:    domain.DiagnosticUnparsableReference,
				RiskID:  risk.ID,
				Ref:     token,
				Message: "affected activity reference is not an integer id",
			})
		}
		resolved := make([]int, 0, len(refs))
		for _, id := range refs {
			if _, ok := c.activityIdx[id]; !ok {
				c.record(logger, domain.Diagnostic{
					Kind:    domain.DiagnosticUnresolvedActivity,
					RiskID:  risk.ID,
					Ref:     fmt.Sprint(id),
					Message: "affected activity not found in activity table",
				})
				continue
			}
			resolved = append(resolved, id)
			c.links = append(c.links, domain.RiskActivityLink{
				RiskID:     risk.ID,
				ActivityID: id,
				Order:      len(c.links),
			})
		}
		if len(resolved) == 0 {
			c.record(logger, domain.Diagnostic{
				Kind:    domain.DiagnosticNoActivity,
				RiskID:  risk.ID,
				Ref:     risk.AffectedActivity,
				Message: "risk has no resolvable affected activity",
			})
			continue
		}

		c.riskIdx[risk.ID] = len(c.risks)
		c.risks = append(c.risks, risk)
		c.targets[risk.ID] = resolved
	}

	logger.Debug("simulation context ready",
		"activities", len(c.activities),
		"valid_risks", len(c.risks),
		"links", len(c.links),
		"baseline", c.baseline,
		"diagnostics", len(c.diagnostics),
	)
	return c, nil
}

// record stores and logs one data diagnostic.
func (c *Context) record(logger Logger, d domain.Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
	logger.Warn("skipping input item", "kind", d.Kind, "risk_id", d.RiskID, "ref", d.Ref, "reason", d.Message)
}

// Baseline returns the baseline project duration.
func (c *Context) Baseline() float64 {
	return c.baseline
}

// Activities returns the de-duplicated activity table in input order.
func (c *Context) Activities() []domain.Activity {
	return append([]domain.Activity(nil), c.activities...)
}

// Activity looks up one activity by id.
func (c *Context) Activity(id int) (domain.Activity, bool) {
	idx, ok := c.activityIdx[id]
	if !ok {
		return domain.Activity{}, false
	}
	return c.activities[idx], true
}

// Risks returns the simulatable risks in input order.
func (c *Context) Risks() []domain.Risk {
	return append([]domain.Risk(nil), c.risks...)
}

// RiskIDs returns the simulatable risk ids in input order.
func (c *Context) RiskIDs() []string {
	out := make([]string, 0, len(c.risks))
	for _, risk := range c.risks {
		out = append(out, risk.ID)
	}
	return out
}

// RiskIndex returns the input position of a simulatable risk.
func (c *Context) RiskIndex(id string) (int, bool) {
	idx, ok := c.riskIdx[id]
	return idx, ok
}

// Targets returns the resolved affected activity ids of one risk.
func (c *Context) Targets(riskID string) []int {
	return append([]int(nil), c.targets[riskID]...)
}

// Links returns every resolved risk-activity link in first-seen order.
func (c *Context) Links() []domain.RiskActivityLink {
	return append([]domain.RiskActivityLink(nil), c.links...)
}

// Diagnostics returns the data errors skipped while building the context.
func (c *Context) Diagnostics() []domain.Diagnostic {
	return append([]domain.Diagnostic(nil), c.diagnostics...)
}
