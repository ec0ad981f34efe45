package gate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// Spec is the gate's classification policy: which lanes are sensitive, where
// the fragility cut-offs sit, and which explicit grades map to which risk
// level. Loaded from YAML at startup; DefaultSpec covers deployments that
// ship no policy file.
type Spec struct {
	// Lanes maps a lane/category name to its baseline risk level. Lanes not
	// listed classify at the default lane risk.
	Lanes map[string]string `yaml:"lanes"`

	// DefaultLaneRisk applies to lanes absent from Lanes. Empty means green.
	DefaultLaneRisk string `yaml:"default_lane_risk"`

	// Fragility holds the score cut-offs. A score at or above Warn escalates
	// to yellow, at or above Block to red.
	Fragility FragilityThresholds `yaml:"fragility"`

	// Grades maps explicit categorical grades to risk levels. A grade the
	// spec does not know classifies as unknown, never as green.
	Grades map[string]string `yaml:"grades"`
}

type FragilityThresholds struct {
	Warn  float64 `yaml:"warn"`
	Block float64 `yaml:"block"`
}

const (
	defaultFragilityWarn  = 0.4
	defaultFragilityBlock = 0.7
)

// DefaultSpec is the policy used when no gate spec file is configured.
func DefaultSpec() Spec {
	return Spec{
		Lanes: map[string]string{
			"experimental": string(domain.RiskYellow),
			"production":   string(domain.RiskGreen),
			"calibration":  string(domain.RiskGreen),
		},
		DefaultLaneRisk: string(domain.RiskGreen),
		Fragility: FragilityThresholds{
			Warn:  defaultFragilityWarn,
			Block: defaultFragilityBlock,
		},
		Grades: map[string]string{
			"safe":    string(domain.RiskGreen),
			"caution": string(domain.RiskYellow),
			"blocked": string(domain.RiskRed),
		},
	}
}

// ParseSpec decodes and validates a YAML gate spec. Zero fragility
// thresholds fall back to the defaults so a spec file may configure lanes
// only.
func ParseSpec(raw []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode gate spec: %w", err)
	}
	if spec.Fragility.Warn == 0 {
		spec.Fragility.Warn = defaultFragilityWarn
	}
	if spec.Fragility.Block == 0 {
		spec.Fragility.Block = defaultFragilityBlock
	}
	if spec.DefaultLaneRisk == "" {
		spec.DefaultLaneRisk = string(domain.RiskGreen)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// LoadSpecFile reads a gate spec from disk; an empty path yields
// DefaultSpec.
func LoadSpecFile(path string) (Spec, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultSpec(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read gate spec %s: %w", path, err)
	}
	return ParseSpec(raw)
}

func (s Spec) Validate() error {
	if s.Fragility.Warn < 0 || s.Fragility.Warn > 1 {
		return fmt.Errorf("fragility warn threshold %v outside [0,1]", s.Fragility.Warn)
	}
	if s.Fragility.Block < 0 || s.Fragility.Block > 1 {
		return fmt.Errorf("fragility block threshold %v outside [0,1]", s.Fragility.Block)
	}
	if s.Fragility.Warn > s.Fragility.Block {
		return errors.New("fragility warn threshold exceeds block threshold")
	}
	for lane, level := range s.Lanes {
		if !domain.RiskLevel(level).Valid() {
			return fmt.Errorf("lane %q maps to unknown risk level %q", lane, level)
		}
	}
	if s.DefaultLaneRisk != "" && !domain.RiskLevel(s.DefaultLaneRisk).Valid() {
		return fmt.Errorf("default lane risk %q is unknown", s.DefaultLaneRisk)
	}
	for grade, level := range s.Grades {
		if !domain.RiskLevel(level).Valid() {
			return fmt.Errorf("grade %q maps to unknown risk level %q", grade, level)
		}
	}
	return nil
}
