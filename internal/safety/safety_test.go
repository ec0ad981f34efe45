package safety

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/gate"
)

func floatPtr(v float64) *float64 { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, mode domain.SafetyMode) (*Engine, *MemoryTokenStore, *ModeController) {
	t.Helper()
	modes, err := NewModeController("", mode)
	if err != nil {
		t.Fatalf("NewModeController err=%v", err)
	}
	g, err := gate.New(gate.DefaultSpec())
	if err != nil {
		t.Fatalf("gate.New err=%v", err)
	}
	tokens := NewMemoryTokenStore()
	return NewEngine(modes, g, tokens, discardLogger()), tokens, modes
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		mode domain.SafetyMode
		risk domain.RiskLevel
		want PolicyDecision
	}{
		{domain.ModeUnrestricted, domain.RiskGreen, DecisionAllow},
		{domain.ModeUnrestricted, domain.RiskYellow, DecisionAllow},
		{domain.ModeUnrestricted, domain.RiskRed, DecisionRequireOverride},
		{domain.ModeUnrestricted, domain.RiskUnknown, DecisionRequireOverride},
		{domain.ModeUnrestricted, domain.RiskError, DecisionDeny},

		{domain.ModeRestricted, domain.RiskGreen, DecisionAllow},
		{domain.ModeRestricted, domain.RiskYellow, DecisionRequireOverride},
		{domain.ModeRestricted, domain.RiskRed, DecisionDeny},
		{domain.ModeRestricted, domain.RiskUnknown, DecisionDeny},
		{domain.ModeRestricted, domain.RiskError, DecisionDeny},

		{domain.ModeSupervised, domain.RiskGreen, DecisionAllow},
		{domain.ModeSupervised, domain.RiskYellow, DecisionAllow},
		{domain.ModeSupervised, domain.RiskRed, DecisionRequireOverride},
		{domain.ModeSupervised, domain.RiskUnknown, DecisionRequireOverride},
		{domain.ModeSupervised, domain.RiskError, DecisionDeny},

		{"", domain.RiskGreen, DecisionDeny},
	}
	for _, tc := range cases {
		if got := Decide(tc.mode, tc.risk); got != tc.want {
			t.Fatalf("Decide(%s, %s)=%s want %s", tc.mode, tc.risk, got, tc.want)
		}
	}
}

// Restricted mode must deny high-risk actions outright; no token is ever
// consulted, and a valid token supplied anyway survives unburned.
func TestRestrictedHighRiskDeniedNoTokenAccepted(t *testing.T) {
	engine, tokens, _ := newTestEngine(t, domain.ModeRestricted)

	minted, err := tokens.Mint("saw.cut", "mentor-1", time.Hour)
	if err != nil {
		t.Fatalf("Mint err=%v", err)
	}

	result, err := engine.Evaluate(EvaluateRequest{
		Action: "saw.cut",
		Gate:   gate.Action{Lane: "experimental", Fragility: floatPtr(0.85)},
		Token:  minted.Token,
	})
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("Evaluate err=%v, want ErrPolicyDenied", err)
	}
	if result.Decision != DecisionDeny {
		t.Fatalf("Decision=%s, want DENY", result.Decision)
	}

	// The token must still be spendable: the denial never touched it.
	if _, err := tokens.Consume(minted.Token, "saw.cut", time.Now().UTC()); err != nil {
		t.Fatalf("token was burned by a final denial: %v", err)
	}
}

func TestUnrestrictedHighRiskOverrideFlow(t *testing.T) {
	engine, tokens, _ := newTestEngine(t, domain.ModeUnrestricted)
	high := gate.Action{Lane: "experimental", Fragility: floatPtr(0.85)}

	// Without a token the decision stands at REQUIRE_OVERRIDE.
	pending, err := engine.Evaluate(EvaluateRequest{Action: "saw.cut", Gate: high})
	if err != nil {
		t.Fatalf("Evaluate err=%v", err)
	}
	if pending.Decision != DecisionRequireOverride {
		t.Fatalf("Decision=%s, want REQUIRE_OVERRIDE", pending.Decision)
	}

	minted, err := tokens.Mint("saw.cut", "mentor-1", time.Hour)
	if err != nil {
		t.Fatalf("Mint err=%v", err)
	}

	allowed, err := engine.Evaluate(EvaluateRequest{Action: "saw.cut", Gate: high, Token: minted.Token})
	if err != nil {
		t.Fatalf("Evaluate with token err=%v", err)
	}
	if allowed.Decision != DecisionAllow || !allowed.TokenConsumed {
		t.Fatalf("Decision=%s TokenConsumed=%v, want ALLOW with consumed token", allowed.Decision, allowed.TokenConsumed)
	}

	// Replaying the same token must fail as already used.
	replay, err := engine.Evaluate(EvaluateRequest{Action: "saw.cut", Gate: high, Token: minted.Token})
	if !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("replay err=%v, want ErrTokenUsed", err)
	}
	if replay.Decision != DecisionDeny {
		t.Fatalf("replay Decision=%s, want DENY", replay.Decision)
	}
}

func TestTokenConsumeFailureModes(t *testing.T) {
	tokens := NewMemoryTokenStore()
	now := time.Now().UTC()

	if _, err := tokens.Consume("ghost", "saw.cut", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("missing token err=%v", err)
	}

	minted, err := tokens.Mint("saw.cut", "mentor-1", time.Minute)
	if err != nil {
		t.Fatalf("Mint err=%v", err)
	}
	if _, err := tokens.Consume(minted.Token, "laser.engrave", now); !errors.Is(err, ErrTokenWrongAction) {
		t.Fatalf("wrong action err=%v", err)
	}
	if _, err := tokens.Consume(minted.Token, "saw.cut", now.Add(2*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired err=%v", err)
	}
	if _, err := tokens.Consume(minted.Token, "saw.cut", now); err != nil {
		t.Fatalf("first consume err=%v", err)
	}
	if _, err := tokens.Consume(minted.Token, "saw.cut", now); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("second consume err=%v", err)
	}
}

func TestTokenConcurrentConsumeSingleSuccess(t *testing.T) {
	tokens := NewMemoryTokenStore()
	minted, err := tokens.Mint("saw.cut", "mentor-1", time.Hour)
	if err != nil {
		t.Fatalf("Mint err=%v", err)
	}

	const consumers = 32
	var wg sync.WaitGroup
	errs := make([]error, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tokens.Consume(minted.Token, "saw.cut", time.Now().UTC())
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrTokenUsed):
		default:
			t.Fatalf("unexpected err=%v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes=%d, want exactly 1", successes)
	}
}

func TestModeControllerPersistence(t *testing.T) {
	statePath := t.TempDir() + "/mode.json"

	first, err := NewModeController(statePath, domain.ModeRestricted)
	if err != nil {
		t.Fatalf("NewModeController err=%v", err)
	}
	if _, err := first.Set(domain.ModeSupervised, "mentor-1"); err != nil {
		t.Fatalf("Set err=%v", err)
	}

	second, err := NewModeController(statePath, domain.ModeRestricted)
	if err != nil {
		t.Fatalf("reload err=%v", err)
	}
	state := second.State()
	if state.Mode != domain.ModeSupervised || state.SetBy != "mentor-1" {
		t.Fatalf("reloaded state=%+v", state)
	}
}

func TestModeControllerRejectsUnknownMode(t *testing.T) {
	modes, err := NewModeController("", domain.ModeRestricted)
	if err != nil {
		t.Fatalf("NewModeController err=%v", err)
	}
	if _, err := modes.Set("full-send", "anyone"); err == nil {
		t.Fatalf("expected unknown mode to be rejected")
	}
	if modes.Mode() != domain.ModeRestricted {
		t.Fatalf("failed Set changed the mode")
	}
}
