package domain

import "fmt"

// EnforcementMode is the governance policy tier active for a repository
type EnforcementMode string

const (
	ModeNormal        EnforcementMode = "NORMAL"
	ModeConsolidation EnforcementMode = "CONSOLIDATION"
	ModePRCreation    EnforcementMode = "PR_CREATION"
	ModePRFocus       EnforcementMode = "PR_FOCUS"
	ModePaused        EnforcementMode = "PAUSED"
)

// Rank orders modes by severity; higher wins when modes are combined
func (m EnforcementMode) Rank() int {
	switch m {
	case ModePaused:
		return 4
	case ModePRFocus:
		return 3
	case ModePRCreation:
		return 2
	case ModeConsolidation:
		return 1
	default:
		return 0
	}
}

// ParseMode converts a mode name into an EnforcementMode
func ParseMode(s string) (EnforcementMode, error) {
	switch m := EnforcementMode(s); m {
	case ModeNormal, ModeConsolidation, ModePRCreation, ModePRFocus, ModePaused:
		return m, nil
	}
	return "", fmt.Errorf("unknown enforcement mode %q", s)
}

// MaxMode returns the most severe of the given modes. No modes means NORMAL.
func MaxMode(modes ...EnforcementMode) EnforcementMode {
	best := ModeNormal
	for _, m := range modes {
		if m.Rank() > best.Rank() {
			best = m
		}
	}
	return best
}
