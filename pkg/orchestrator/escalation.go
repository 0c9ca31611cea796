package orchestrator

import (
	"time"

	"github.com/codeready-toolchain/vigil/pkg/config"
)

// Escalate applies the criticality/downtime policy to a finding's reported
// severity. The result can only raise severity, never lower it: the
// diagnostics subagent's assessment is the floor.
func Escalate(f Finding, tier config.Criticality, maxDowntime map[config.Criticality]time.Duration, now time.Time) Severity {
	anyDown := f.PodsDown > 0
	allDown := f.PodsTotal > 0 && f.PodsDown >= f.PodsTotal

	recoveryExceeded := false
	if limit, ok := maxDowntime[tier]; ok && limit > 0 {
		recoveryExceeded = now.Sub(f.FirstSeen) > limit
	}

	policy := escalationFor(tier, anyDown, allDown, recoveryExceeded)
	if policy.AtLeast(f.Severity) {
		return policy
	}
	return f.Severity
}

func escalationFor(tier config.Criticality, anyDown, allDown, recoveryExceeded bool) Severity {
	switch tier {
	case config.CriticalityP0:
		switch {
		case allDown, recoveryExceeded:
			return SeverityCritical
		case anyDown:
			return SeverityHigh
		}
	case config.CriticalityP1:
		switch {
		case allDown, recoveryExceeded:
			return SeverityHigh
		case anyDown:
			return SeverityMedium
		}
	default: // P2, P3 and unknown tiers
		switch {
		case allDown, recoveryExceeded:
			return SeverityMedium
		case anyDown:
			return SeverityLow
		}
	}
	return SeverityLow
}
