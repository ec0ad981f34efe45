package domain

import "strings"

// RiskLevel is the classification tier produced by the feasibility gate.
type RiskLevel string

const (
	RiskGreen   RiskLevel = "green"
	RiskYellow  RiskLevel = "yellow"
	RiskRed     RiskLevel = "red"
	RiskUnknown RiskLevel = "unknown"
	RiskError   RiskLevel = "error"
)

// NormalizeRiskLevel maps free-form input to a known level. Unrecognized
// values normalize to the empty string so validation can reject them.
func NormalizeRiskLevel(value string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "green", "safe", "low":
		return RiskGreen
	case "yellow", "caution", "medium":
		return RiskYellow
	case "red", "blocked", "high":
		return RiskRed
	case "unknown":
		return RiskUnknown
	case "error":
		return RiskError
	default:
		return ""
	}
}

// riskRank orders levels from least to most restrictive. Unknown ranks
// above red because an unclassifiable operation must not look safer than a
// blocked one; error is worst of all.
func riskRank(level RiskLevel) int {
	switch level {
	case RiskGreen:
		return 0
	case RiskYellow:
		return 1
	case RiskRed:
		return 2
	case RiskUnknown:
		return 3
	case RiskError:
		return 4
	default:
		return 3
	}
}

// WorstRiskLevel returns the most restrictive of the given levels. Empty
// inputs are ignored; if everything is empty the result is RiskUnknown.
func WorstRiskLevel(levels ...RiskLevel) RiskLevel {
	worst := RiskLevel("")
	for _, level := range levels {
		if level == "" {
			continue
		}
		if worst == "" || riskRank(level) > riskRank(worst) {
			worst = level
		}
	}
	if worst == "" {
		return RiskUnknown
	}
	return worst
}

func (l RiskLevel) Valid() bool {
	switch l {
	case RiskGreen, RiskYellow, RiskRed, RiskUnknown, RiskError:
		return true
	default:
		return false
	}
}
