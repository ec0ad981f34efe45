package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the recorded outcome of a governed operation.
type RunStatus string

const (
	RunStatusOK      RunStatus = "OK"
	RunStatusBlocked RunStatus = "BLOCKED"
	RunStatusError   RunStatus = "ERROR"
)

func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "OK":
		return RunStatusOK
	case "BLOCKED":
		return RunStatusBlocked
	case "ERROR":
		return RunStatusError
	default:
		return ""
	}
}

// Decision is the authoritative safety outcome recorded on a run artifact.
type Decision struct {
	RiskLevel   RiskLevel `json:"risk_level"`
	Score       *float64  `json:"score,omitempty"`
	BlockReason string    `json:"block_reason,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// Hashes carries the content hashes binding a run artifact to its inputs
// and generated outputs. FeasibilitySHA256 is required; output hashes are
// present only when the corresponding output was generated.
type Hashes struct {
	FeasibilitySHA256   string `json:"feasibility_sha256"`
	ToolpathSHA256      string `json:"toolpath_sha256,omitempty"`
	GCodeSHA256         string `json:"gcode_sha256,omitempty"`
	OperationPlanSHA256 string `json:"operation_plan_sha256,omitempty"`
}

// BoundingBox is the axis-aligned extent of a generated toolpath, in the
// machine's working units.
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// ToolpathSummary is a compact, non-authoritative projection of a generated
// toolpath: enough for drift detection, never the geometry itself.
type ToolpathSummary struct {
	SegmentCount int          `json:"segment_count,omitempty"`
	LayerCount   int          `json:"layer_count,omitempty"`
	Bounds       *BoundingBox `json:"bounds,omitempty"`
	Files        []string     `json:"files,omitempty"`
}

// Outputs references artifacts generated by the governed operation.
type Outputs struct {
	Toolpath  *ToolpathSummary `json:"toolpath,omitempty"`
	ExportRef string           `json:"export_ref,omitempty"`
}

// AdvisoryRef points at non-authoritative explanatory material attached to
// a run after creation. The list on a RunArtifact may only grow.
type AdvisoryRef struct {
	AdvisoryID string    `json:"advisory_id"`
	Kind       string    `json:"kind"`
	Engine     string    `json:"engine,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r AdvisoryRef) Validate() error {
	if strings.TrimSpace(r.AdvisoryID) == "" {
		return errors.New("advisory id is required")
	}
	if strings.TrimSpace(r.Kind) == "" {
		return errors.New("advisory kind is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("advisory created_at is required")
	}
	return nil
}

// RunArtifact is the authoritative, immutable record of one governed
// operation. Once persisted, only AdvisoryInputs may change, and only by
// appending.
type RunArtifact struct {
	RunID          string         `json:"run_id"`
	CreatedAt      time.Time      `json:"created_at"`
	Mode           string         `json:"mode"`
	ToolID         string         `json:"tool_id,omitempty"`
	Status         RunStatus      `json:"status"`
	RequestSummary map[string]any `json:"request_summary,omitempty"`
	Feasibility    map[string]any `json:"feasibility"`
	Decision       Decision       `json:"decision"`
	Hashes         Hashes         `json:"hashes"`
	Outputs        *Outputs       `json:"outputs,omitempty"`
	AdvisoryInputs []AdvisoryRef  `json:"advisory_inputs,omitempty"`
	ParentRunID    string         `json:"parent_run_id,omitempty"`
	Meta           Metadata       `json:"meta,omitempty"`

	// IntegritySHA256 is computed by the store over the canonical artifact
	// body (excluding this field and advisory material) at write time and
	// verified on every read.
	IntegritySHA256 string `json:"integrity_sha256,omitempty"`
}

// Validate enforces the required, non-empty invariants at construction
// time. A missing risk level or feasibility hash is a validation failure,
// never a default.
func (a RunArtifact) Validate() error {
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if a.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	if strings.TrimSpace(a.Mode) == "" {
		return errors.New("mode is required")
	}
	if a.Status == "" {
		return errors.New("status is required")
	}
	if NormalizeRunStatus(string(a.Status)) == "" {
		return fmt.Errorf("status %q is not one of OK, BLOCKED, ERROR", a.Status)
	}
	if a.Decision.RiskLevel == "" {
		return errors.New("decision risk level is required")
	}
	if !a.Decision.RiskLevel.Valid() {
		return fmt.Errorf("decision risk level %q is unknown", a.Decision.RiskLevel)
	}
	if strings.TrimSpace(a.Hashes.FeasibilitySHA256) == "" {
		return errors.New("feasibility sha256 is required")
	}
	for i, ref := range a.AdvisoryInputs {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("advisory_inputs[%d]: %w", i, err)
		}
	}
	return nil
}

// PartitionDate returns the UTC date key the artifact is persisted under.
func (a RunArtifact) PartitionDate() string {
	return a.CreatedAt.UTC().Format("2006-01-02")
}
