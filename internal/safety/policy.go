package safety

import (
	"errors"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// PolicyDecision is the outcome of running the decision table for one
// (mode, risk) pair, before any override token is considered.
type PolicyDecision string

const (
	DecisionAllow           PolicyDecision = "ALLOW"
	DecisionRequireOverride PolicyDecision = "REQUIRE_OVERRIDE"
	DecisionDeny            PolicyDecision = "DENY"
)

// ErrPolicyDenied marks a final denial. Under restricted mode a high-risk
// action is denied outright and no token is ever consulted.
var ErrPolicyDenied = errors.New("denied by safety policy")

// Decide runs the fixed decision table. Unknown classifications are treated
// as high risk; an error classification is always denied regardless of mode.
func Decide(mode domain.SafetyMode, risk domain.RiskLevel) PolicyDecision {
	if risk == domain.RiskError {
		return DecisionDeny
	}

	high := risk == domain.RiskRed || risk == domain.RiskUnknown

	switch mode {
	case domain.ModeUnrestricted:
		if high {
			return DecisionRequireOverride
		}
		return DecisionAllow
	case domain.ModeRestricted:
		switch {
		case high:
			return DecisionDeny
		case risk == domain.RiskYellow:
			return DecisionRequireOverride
		default:
			return DecisionAllow
		}
	case domain.ModeSupervised:
		if high {
			return DecisionRequireOverride
		}
		return DecisionAllow
	default:
		// An unconfigured mode must never allow anything.
		return DecisionDeny
	}
}
