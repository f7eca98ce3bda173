package domain

// DiagnosticKind classifies a skipped input item.
type DiagnosticKind string

// DiagnosticInvalidShape and related constants name data-error categories.
const (
	DiagnosticInvalidShape        DiagnosticKind = "invalid_shape"
	DiagnosticInvalidParameter    DiagnosticKind = "invalid_parameter"
	DiagnosticUnresolvedActivity  DiagnosticKind = "unresolved_activity"
	DiagnosticUnparsableReference DiagnosticKind = "unparsable_reference"
	DiagnosticNoActivity          DiagnosticKind = "no_activity"
	DiagnosticDuplicateActivity   DiagnosticKind = "duplicate_activity"
	DiagnosticDuplicateRisk       DiagnosticKind = "duplicate_risk"
)

// Diagnostic records one data error that was skipped rather than aborting a run.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	RiskID  string         `json:"risk_id,omitempty"`
	Ref     string         `json:"ref,omitempty"`
	Message string         `json:"message"`
}
