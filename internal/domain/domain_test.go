package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimestamp_Equivalence(t *testing.T) {
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	inputs := []string{
		"2025-01-01T00:00:00Z",
		"2025-01-01T00:00:00+00:00",
		"2025-01-01T00:00:00",
		"2025-01-01T00:00:00.000Z",
		"2025-01-01 00:00:00",
		"2025-01-01T01:00:00+01:00",
	}

	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
		if got.Location() != time.UTC {
			t.Errorf("ParseTimestamp(%q) location = %v, want UTC", in, got.Location())
		}
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2025-13-45T99:00:00Z"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error", in)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 12, 22, 15, 0, 7, 500, time.FixedZone("X", 3600))
	if got := FormatTimestamp(ts); got != "2025-12-22T14:00:07Z" {
		t.Errorf("FormatTimestamp = %q, want 2025-12-22T14:00:07Z", got)
	}
}

func TestRunRecord_TokensPerUnit(t *testing.T) {
	tests := []struct {
		name string
		run  RunRecord
		want float64
	}{
		{"no units returns total", RunRecord{InputTokens: 600, OutputTokens: 400}, 1000},
		{"float division", RunRecord{InputTokens: 10, OutputTokens: 0, TasksCompleted: 3}, 10.0 / 3.0},
		{"prs and issues count", RunRecord{InputTokens: 900, OutputTokens: 100, TasksCompleted: 1, PRsCreated: 2, IssuesResolved: 1}, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.run.TokensPerUnit(); got != tt.want {
				t.Errorf("TokensPerUnit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunRecord_Validate(t *testing.T) {
	var verr *ValidationError

	run := RunRecord{RunID: "20251222_150007", Repo: "nix-config"}
	if err := run.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	missing := RunRecord{Repo: "nix-config"}
	if err := missing.Validate(); !errors.As(err, &verr) || verr.Field != "run_id" {
		t.Errorf("Validate() = %v, want run_id ValidationError", err)
	}

	negative := RunRecord{RunID: "r", Repo: "x", DurationSec: -1}
	if err := negative.Validate(); !errors.As(err, &verr) || verr.Field != "duration_sec" {
		t.Errorf("Validate() = %v, want duration_sec ValidationError", err)
	}
}

func TestWorkUnit_Validate(t *testing.T) {
	ok := WorkUnit{RunID: "r", UnitType: UnitPR, Identifier: "42", Status: WorkCompleted}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	bad := WorkUnit{RunID: "r", UnitType: "epic", Status: WorkCompleted}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() expected error for unknown unit type")
	}
}

func TestMaxMode(t *testing.T) {
	tests := []struct {
		modes []EnforcementMode
		want  EnforcementMode
	}{
		{nil, ModeNormal},
		{[]EnforcementMode{ModeNormal, ModeConsolidation}, ModeConsolidation},
		{[]EnforcementMode{ModePRFocus, ModePaused}, ModePaused},
		{[]EnforcementMode{ModeConsolidation, ModePRCreation}, ModePRCreation},
		{[]EnforcementMode{ModePRFocus, ModePRCreation, ModeConsolidation}, ModePRFocus},
	}

	for _, tt := range tests {
		if got := MaxMode(tt.modes...); got != tt.want {
			t.Errorf("MaxMode(%v) = %s, want %s", tt.modes, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("PR_FOCUS"); err != nil || m != ModePRFocus {
		t.Errorf("ParseMode(PR_FOCUS) = %v, %v", m, err)
	}
	if _, err := ParseMode("TURBO"); err == nil {
		t.Error("ParseMode(TURBO) expected error")
	}
}

func TestAlertable(t *testing.T) {
	anomalies := []Anomaly{
		{Type: AnomalyRunFailed, Severity: SeverityLow},
		{Type: AnomalyContextExhaustion, Severity: SeverityMedium},
		{Type: AnomalyHighTokensNoOutput, Severity: SeverityHigh},
	}

	got := Alertable(anomalies)
	if len(got) != 2 {
		t.Fatalf("Alertable() count = %d, want 2", len(got))
	}
	if got[0].Type != AnomalyContextExhaustion || got[1].Type != AnomalyHighTokensNoOutput {
		t.Errorf("Alertable() order = %v", got)
	}
	if HighestSeverity(anomalies) != SeverityHigh {
		t.Errorf("HighestSeverity() = %s, want high", HighestSeverity(anomalies))
	}
	if HighestSeverity(anomalies[:1]) != SeverityLow {
		t.Errorf("HighestSeverity(low only) = %s, want low", HighestSeverity(anomalies[:1]))
	}
	if len(Alertable(anomalies[:1])) != 0 {
		t.Error("low severity must not be alertable")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-50000, "-50,000"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
