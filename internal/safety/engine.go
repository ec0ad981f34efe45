// Package safety decides whether a classified action may proceed under the
// current safety mode, and manages the override tokens that let a trusted
// actor push a REQUIRE_OVERRIDE decision through.
package safety

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/gate"
)

// EvaluateRequest is one admission question: may this action, with these
// gate inputs, proceed right now? Token is optional and only consulted when
// the decision table answers REQUIRE_OVERRIDE.
type EvaluateRequest struct {
	Action string
	Gate   gate.Action
	Token  string
}

// Evaluation is the full answer, including the classification that produced
// it so callers can record both.
type Evaluation struct {
	Action         string              `json:"action"`
	Mode           domain.SafetyMode   `json:"mode"`
	Classification gate.Classification `json:"classification"`
	Decision       PolicyDecision      `json:"decision"`
	Reason         string              `json:"reason,omitempty"`
	TokenConsumed  bool                `json:"token_consumed,omitempty"`
	TokenCreatedBy string              `json:"token_created_by,omitempty"`
}

// Engine wires the mode controller, the gate and the token store into one
// evaluation call.
type Engine struct {
	modes  *ModeController
	gate   *gate.Gate
	tokens TokenStore
	log    *slog.Logger
	now    func() time.Time
}

func NewEngine(modes *ModeController, g *gate.Gate, tokens TokenStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{modes: modes, gate: g, tokens: tokens, log: log, now: time.Now}
}

// Evaluate runs classification, the decision table, and (when required and
// supplied) token consumption. A DENY is final: no token is consulted, so a
// valid token spent against a denied action is not burned.
func (e *Engine) Evaluate(req EvaluateRequest) (Evaluation, error) {
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return Evaluation{}, errors.New("action is required")
	}

	mode := e.modes.Mode()
	classification := e.gate.Classify(req.Gate)
	result := Evaluation{
		Action:         action,
		Mode:           mode,
		Classification: classification,
		Decision:       Decide(mode, classification.RiskLevel),
	}

	switch result.Decision {
	case DecisionAllow:
		if mode == domain.ModeSupervised && classification.RiskLevel == domain.RiskYellow {
			e.log.Info("supervised medium-risk action allowed",
				slog.String("action", action),
				slog.String("risk_level", string(classification.RiskLevel)))
		}
		return result, nil

	case DecisionDeny:
		result.Reason = fmt.Sprintf("mode %s denies %s-risk actions", mode, classification.RiskLevel)
		return result, ErrPolicyDenied

	case DecisionRequireOverride:
		if strings.TrimSpace(req.Token) == "" {
			result.Reason = "override token required"
			return result, nil
		}
		consumed, err := e.tokens.Consume(req.Token, action, e.now().UTC())
		if err != nil {
			result.Decision = DecisionDeny
			result.Reason = err.Error()
			return result, err
		}
		result.Decision = DecisionAllow
		result.TokenConsumed = true
		result.TokenCreatedBy = consumed.CreatedBy
		e.log.Info("override token consumed",
			slog.String("action", action),
			slog.String("created_by", consumed.CreatedBy),
			slog.String("risk_level", string(classification.RiskLevel)))
		return result, nil
	}

	result.Decision = DecisionDeny
	result.Reason = "unrecognized policy decision"
	return result, ErrPolicyDenied
}
