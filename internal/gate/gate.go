// Package gate classifies a proposed machining action into a risk level.
// Classification is pure: the same action against the same spec always
// produces the same result, and nothing here touches storage or policy.
package gate

import (
	"fmt"
	"strings"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// Action describes what the caller wants to do, in gate terms. Fragility is
// optional; nil means no continuous score was computed for this action.
type Action struct {
	Lane      string   `json:"lane,omitempty"`
	Fragility *float64 `json:"fragility,omitempty"`
	Grade     string   `json:"grade,omitempty"`
}

// Classification is the gate's verdict plus the per-signal breakdown that
// produced it.
type Classification struct {
	RiskLevel domain.RiskLevel `json:"risk_level"`
	Signals   []Signal         `json:"signals,omitempty"`
}

// Signal records one contributing input and the risk it mapped to.
type Signal struct {
	Source string           `json:"source"`
	Value  string           `json:"value,omitempty"`
	Risk   domain.RiskLevel `json:"risk"`
}

// Gate evaluates actions against one immutable spec.
type Gate struct {
	spec Spec
}

func New(spec Spec) (*Gate, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Gate{spec: spec}, nil
}

// Classify combines lane tier, fragility thresholds and grade override; the
// worst contributing level wins.
func (g *Gate) Classify(action Action) Classification {
	var signals []Signal

	lane := strings.ToLower(strings.TrimSpace(action.Lane))
	if lane != "" {
		level := domain.RiskLevel(g.spec.DefaultLaneRisk)
		if mapped, ok := g.spec.Lanes[lane]; ok {
			level = domain.RiskLevel(mapped)
		}
		signals = append(signals, Signal{Source: "lane", Value: lane, Risk: level})
	}

	if action.Fragility != nil {
		score := *action.Fragility
		level := domain.RiskGreen
		switch {
		case score < 0 || score > 1:
			level = domain.RiskError
		case score >= g.spec.Fragility.Block:
			level = domain.RiskRed
		case score >= g.spec.Fragility.Warn:
			level = domain.RiskYellow
		}
		signals = append(signals, Signal{
			Source: "fragility",
			Value:  fmt.Sprintf("%.3f", score),
			Risk:   level,
		})
	}

	grade := strings.ToLower(strings.TrimSpace(action.Grade))
	if grade != "" {
		level := domain.RiskUnknown
		if mapped, ok := g.spec.Grades[grade]; ok {
			level = domain.RiskLevel(mapped)
		}
		signals = append(signals, Signal{Source: "grade", Value: grade, Risk: level})
	}

	if len(signals) == 0 {
		// Nothing to judge by. Unknown forces the policy engine to treat
		// the action conservatively instead of waving it through.
		return Classification{RiskLevel: domain.RiskUnknown}
	}

	levels := make([]domain.RiskLevel, len(signals))
	for i, s := range signals {
		levels[i] = s.Risk
	}
	return Classification{RiskLevel: domain.WorstRiskLevel(levels...), Signals: signals}
}
