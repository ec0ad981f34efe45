package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SafetyMode is the process-wide trust setting read by every feasibility
// decision.
type SafetyMode string

const (
	ModeUnrestricted SafetyMode = "unrestricted"
	ModeRestricted   SafetyMode = "restricted"
	ModeSupervised   SafetyMode = "supervised"
)

func NormalizeSafetyMode(value string) SafetyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "unrestricted":
		return ModeUnrestricted
	case "restricted", "apprentice":
		return ModeRestricted
	case "supervised", "mentor":
		return ModeSupervised
	default:
		return ""
	}
}

// SafetyModeState records the current mode plus who set it and when. It is
// mutated only through the explicit set-mode operation.
type SafetyModeState struct {
	Mode  SafetyMode `json:"mode"`
	SetBy string     `json:"set_by"`
	SetAt time.Time  `json:"set_at"`
}

func (s SafetyModeState) Validate() error {
	if s.Mode == "" {
		return errors.New("safety mode is required")
	}
	if NormalizeSafetyMode(string(s.Mode)) == "" {
		return fmt.Errorf("safety mode %q is not one of unrestricted, restricted, supervised", s.Mode)
	}
	if strings.TrimSpace(s.SetBy) == "" {
		return errors.New("set_by is required")
	}
	if s.SetAt.IsZero() {
		return errors.New("set_at is required")
	}
	return nil
}
