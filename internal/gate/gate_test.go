package gate

import (
	"testing"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func newDefaultGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(DefaultSpec())
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	return g
}

func TestClassifyWorstSignalWins(t *testing.T) {
	g := newDefaultGate(t)

	cases := []struct {
		name   string
		action Action
		want   domain.RiskLevel
	}{
		{"production lane only", Action{Lane: "production"}, domain.RiskGreen},
		{"experimental lane only", Action{Lane: "experimental"}, domain.RiskYellow},
		{"low fragility", Action{Lane: "production", Fragility: floatPtr(0.1)}, domain.RiskGreen},
		{"warn fragility", Action{Lane: "production", Fragility: floatPtr(0.4)}, domain.RiskYellow},
		{"block fragility", Action{Lane: "production", Fragility: floatPtr(0.85)}, domain.RiskRed},
		{"grade override beats calm signals", Action{Lane: "production", Fragility: floatPtr(0.1), Grade: "blocked"}, domain.RiskRed},
		{"unknown grade is unknown not green", Action{Grade: "mystery"}, domain.RiskUnknown},
		{"out of range fragility is an error", Action{Fragility: floatPtr(1.5)}, domain.RiskError},
		{"no signals at all", Action{}, domain.RiskUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.Classify(tc.action); got.RiskLevel != tc.want {
				t.Fatalf("Classify(%+v)=%q want %q", tc.action, got.RiskLevel, tc.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	g := newDefaultGate(t)
	action := Action{Lane: "experimental", Fragility: floatPtr(0.85), Grade: "caution"}

	first := g.Classify(action)
	if first.RiskLevel != domain.RiskRed {
		t.Fatalf("RiskLevel=%q, want red", first.RiskLevel)
	}
	for i := 0; i < 100; i++ {
		if got := g.Classify(action); got.RiskLevel != first.RiskLevel {
			t.Fatalf("classification drifted on iteration %d: %q", i, got.RiskLevel)
		}
	}
}

func TestParseSpec(t *testing.T) {
	raw := []byte(`
lanes:
  experimental: yellow
  heirloom: red
fragility:
  warn: 0.3
  block: 0.6
grades:
  safe: green
`)
	spec, err := ParseSpec(raw)
	if err != nil {
		t.Fatalf("ParseSpec err=%v", err)
	}
	if spec.Lanes["heirloom"] != "red" {
		t.Fatalf("Lanes=%v", spec.Lanes)
	}
	if spec.Fragility.Warn != 0.3 || spec.Fragility.Block != 0.6 {
		t.Fatalf("Fragility=%+v", spec.Fragility)
	}
	if spec.DefaultLaneRisk != string(domain.RiskGreen) {
		t.Fatalf("DefaultLaneRisk=%q", spec.DefaultLaneRisk)
	}

	g, err := New(spec)
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	if got := g.Classify(Action{Lane: "heirloom"}); got.RiskLevel != domain.RiskRed {
		t.Fatalf("heirloom lane=%q, want red", got.RiskLevel)
	}
}

func TestParseSpecRejectsBadPolicy(t *testing.T) {
	if _, err := ParseSpec([]byte("lanes:\n  saw: purple\n")); err == nil {
		t.Fatalf("expected unknown risk level to be rejected")
	}
	if _, err := ParseSpec([]byte("fragility:\n  warn: 0.9\n  block: 0.5\n")); err == nil {
		t.Fatalf("expected inverted thresholds to be rejected")
	}
	if _, err := ParseSpec([]byte("fragility: [nope")); err == nil {
		t.Fatalf("expected malformed yaml to be rejected")
	}
}

func TestLoadSpecFileEmptyPathUsesDefault(t *testing.T) {
	spec, err := LoadSpecFile("")
	if err != nil {
		t.Fatalf("LoadSpecFile err=%v", err)
	}
	if spec.Fragility.Block != 0.7 {
		t.Fatalf("default block threshold=%v", spec.Fragility.Block)
	}
}
