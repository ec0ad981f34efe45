package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/gate"
	"github.com/camgate-labs/camgate-go/internal/safety"
)

func (api *governorAPI) handleGetSafetyMode(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.modes.State())
}

type setSafetyModeRequest struct {
	Mode string `json:"mode"`
}

func (api *governorAPI) handleSetSafetyMode(w http.ResponseWriter, r *http.Request) {
	var req setSafetyModeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	mode := domain.NormalizeSafetyMode(req.Mode)
	if mode == "" {
		api.writeError(w, r, http.StatusBadRequest, "unknown_mode")
		return
	}

	info := api.auditInfo(r)
	state, err := api.modes.Set(mode, info.Actor)
	if err != nil {
		api.logger.Error("safety mode change failed", "mode", mode, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.logger.Info("safety mode changed",
		"mode", state.Mode,
		"set_by", state.SetBy,
		"request_id", r.Header.Get("X-Request-Id"))
	api.runs.Audit(r.Context(), info, "safety.mode_changed", "safety_mode", string(state.Mode), map[string]any{
		"set_by": state.SetBy,
	})
	api.writeJSON(w, http.StatusOK, state)
}

type evaluateRequest struct {
	Action    string   `json:"action"`
	Lane      string   `json:"lane,omitempty"`
	Fragility *float64 `json:"fragility,omitempty"`
	Grade     string   `json:"grade,omitempty"`
	Token     string   `json:"token,omitempty"`
}

// handleEvaluate answers the admission question. A DENY is a normal answer,
// not a server failure: the evaluation body is returned with status 200 and
// the caller reads the decision field.
func (api *governorAPI) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	eval, err := api.engine.Evaluate(safety.EvaluateRequest{
		Action: req.Action,
		Gate: gate.Action{
			Lane:      req.Lane,
			Fragility: req.Fragility,
			Grade:     req.Grade,
		},
		Token: req.Token,
	})
	if err != nil && eval.Action == "" {
		api.writeError(w, r, http.StatusBadRequest, "invalid_evaluation")
		return
	}
	if errors.Is(err, safety.ErrPolicyDenied) || eval.Decision == safety.DecisionDeny {
		api.logger.Info("action denied",
			"action", eval.Action,
			"mode", eval.Mode,
			"risk_level", eval.Classification.RiskLevel,
			"reason", eval.Reason,
			"request_id", r.Header.Get("X-Request-Id"))
	}
	if eval.TokenConsumed {
		api.runs.Audit(r.Context(), api.auditInfo(r), "safety.override_consumed", "action", eval.Action, map[string]any{
			"mode":       eval.Mode,
			"risk_level": eval.Classification.RiskLevel,
			"created_by": eval.TokenCreatedBy,
		})
	}
	api.writeJSON(w, http.StatusOK, eval)
}

type createOverrideRequest struct {
	Action     string `json:"action"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func (api *governorAPI) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req createOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		api.writeError(w, r, http.StatusBadRequest, "action_required")
		return
	}

	info := api.auditInfo(r)
	token, err := api.tokens.Mint(req.Action, info.Actor, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_override")
		return
	}

	api.logger.Info("override token minted",
		"action", token.Action,
		"created_by", token.CreatedBy,
		"expires_at", token.ExpiresAt,
		"request_id", r.Header.Get("X-Request-Id"))
	// The token secret stays out of the audit trail.
	api.runs.Audit(r.Context(), info, "safety.override_minted", "action", token.Action, map[string]any{
		"created_by": token.CreatedBy,
		"expires_at": token.ExpiresAt,
	})
	api.writeJSON(w, http.StatusCreated, token)
}
