package domain

import "strconv"

// UnitType classifies a work unit
type UnitType string

const (
	UnitPR    UnitType = "pr"
	UnitIssue UnitType = "issue"
	UnitTask  UnitType = "task"
	UnitFix   UnitType = "fix"
)

// Valid reports whether t is a known unit type
func (t UnitType) Valid() bool {
	switch t {
	case UnitPR, UnitIssue, UnitTask, UnitFix:
		return true
	}
	return false
}

// WorkUnitStatus represents the state of a work unit
type WorkUnitStatus string

const (
	WorkCompleted  WorkUnitStatus = "completed"
	WorkBlocked    WorkUnitStatus = "blocked"
	WorkInProgress WorkUnitStatus = "in_progress"
)

// Valid reports whether s is a known status
func (s WorkUnitStatus) Valid() bool {
	switch s {
	case WorkCompleted, WorkBlocked, WorkInProgress:
		return true
	}
	return false
}

// Severity grades an anomaly
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Escalates reports whether anomalies of this severity are handed to the
// alerting sink. Low severity is recorded only.
func (s Severity) Escalates() bool {
	return s == SeverityHigh || s == SeverityMedium
}

// Anomaly is a finding about a single completed run
type Anomaly struct {
	Type       string   `json:"type" yaml:"type"`
	Severity   Severity `json:"severity" yaml:"severity"`
	Message    string   `json:"message" yaml:"message"`
	Value      float64  `json:"value" yaml:"value"`
	Suggestion string   `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// Anomaly types
const (
	AnomalyContextExhaustion   = "context_exhaustion"
	AnomalyHighTokensNoOutput  = "high_tokens_no_output"
	AnomalyRunFailed           = "run_failed"
	AnomalyConsecutiveFailures = "consecutive_failures"
	AnomalyInefficientRun      = "inefficient_run"
)

// Alertable filters anomalies down to the ones that escalate, preserving order
func Alertable(anomalies []Anomaly) []Anomaly {
	var out []Anomaly
	for _, a := range anomalies {
		if a.Severity.Escalates() {
			out = append(out, a)
		}
	}
	return out
}

// HighestSeverity returns the most severe level present, or "" for none
func HighestSeverity(anomalies []Anomaly) Severity {
	var best Severity
	for _, a := range anomalies {
		switch {
		case a.Severity == SeverityHigh:
			return SeverityHigh
		case a.Severity == SeverityMedium:
			best = SeverityMedium
		case a.Severity == SeverityLow && best == "":
			best = SeverityLow
		}
	}
	return best
}

// FormatNumber renders n with thousands separators
func FormatNumber(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := strconv.FormatInt(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s
}
