// Package diffengine compares two run artifacts field by field and grades
// how alarming the differences are. It never judges which run is "right";
// it only surfaces drift for audit review.
package diffengine

import (
	"fmt"
	"reflect"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// Severity grades a diff. The order is fixed: NONE < INFO < WARNING <
// CRITICAL, and the overall severity of a diff is the worst of its changes.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

func worseSeverity(a, b Severity) Severity {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}

// Change is one observed difference between the two artifacts.
type Change struct {
	Field    string   `json:"field"`
	A        any      `json:"a,omitempty"`
	B        any      `json:"b,omitempty"`
	Severity Severity `json:"severity"`
}

// Diff is the full comparison result.
type Diff struct {
	RunA     string   `json:"run_a"`
	RunB     string   `json:"run_b"`
	Severity Severity `json:"severity"`
	Changes  []Change `json:"changes,omitempty"`

	// LineageExplained is set when B declares A as its parent, which
	// downgrades output-hash mismatches from CRITICAL to WARNING: a child
	// run regenerating outputs is an intentional step, not silent drift.
	LineageExplained bool `json:"lineage_explained,omitempty"`
}

// Compare diffs two artifacts. Advisory material and integrity hashes are
// ignored: advisories are append-only side records and the integrity hash
// differs whenever anything else does.
func Compare(a, b domain.RunArtifact) Diff {
	d := Diff{
		RunA:             a.RunID,
		RunB:             b.RunID,
		Severity:         SeverityNone,
		LineageExplained: b.ParentRunID != "" && b.ParentRunID == a.RunID,
	}

	record := func(field string, va, vb any, severity Severity) {
		d.Changes = append(d.Changes, Change{Field: field, A: va, B: vb, Severity: severity})
		d.Severity = worseSeverity(d.Severity, severity)
	}

	// Authoritative decision. Any change here is at least WARNING.
	if a.Status != b.Status {
		record("status", a.Status, b.Status, SeverityWarning)
	}
	if a.Decision.RiskLevel != b.Decision.RiskLevel {
		record("decision.risk_level", a.Decision.RiskLevel, b.Decision.RiskLevel, SeverityWarning)
	}
	if a.Decision.BlockReason != b.Decision.BlockReason {
		record("decision.block_reason", a.Decision.BlockReason, b.Decision.BlockReason, SeverityWarning)
	}
	if !reflect.DeepEqual(a.Decision.Warnings, b.Decision.Warnings) {
		record("decision.warnings", a.Decision.Warnings, b.Decision.Warnings, SeverityInfo)
	}

	// Output hashes. A mismatch on generated outputs is CRITICAL drift
	// unless the lineage link explains it.
	hashSeverity := SeverityCritical
	if d.LineageExplained {
		hashSeverity = SeverityWarning
	}
	compareHash := func(field, ha, hb string) {
		if ha != hb {
			record(field, ha, hb, hashSeverity)
		}
	}
	compareHash("hashes.toolpath_sha256", a.Hashes.ToolpathSHA256, b.Hashes.ToolpathSHA256)
	compareHash("hashes.gcode_sha256", a.Hashes.GCodeSHA256, b.Hashes.GCodeSHA256)
	compareHash("hashes.operation_plan_sha256", a.Hashes.OperationPlanSHA256, b.Hashes.OperationPlanSHA256)

	// The feasibility hash binds inputs, not outputs. Different inputs
	// between two runs is expected, so it only informs.
	if a.Hashes.FeasibilitySHA256 != b.Hashes.FeasibilitySHA256 {
		record("hashes.feasibility_sha256", a.Hashes.FeasibilitySHA256, b.Hashes.FeasibilitySHA256, SeverityInfo)
	}

	compareOutputs(a.Outputs, b.Outputs, record)

	if a.Mode != b.Mode {
		record("mode", a.Mode, b.Mode, SeverityInfo)
	}
	if a.ToolID != b.ToolID {
		record("tool_id", a.ToolID, b.ToolID, SeverityInfo)
	}
	if !reflect.DeepEqual(a.Meta, b.Meta) {
		record("meta", a.Meta, b.Meta, SeverityInfo)
	}

	return d
}

func compareOutputs(a, b *domain.Outputs, record func(string, any, any, Severity)) {
	if a == nil && b == nil {
		return
	}
	if (a == nil) != (b == nil) {
		record("outputs", describeOutputs(a), describeOutputs(b), SeverityWarning)
		return
	}
	if a.ExportRef != b.ExportRef {
		record("outputs.export_ref", a.ExportRef, b.ExportRef, SeverityInfo)
	}
	compareToolpath(a.Toolpath, b.Toolpath, record)
}

func compareToolpath(a, b *domain.ToolpathSummary, record func(string, any, any, Severity)) {
	if a == nil && b == nil {
		return
	}
	if (a == nil) != (b == nil) {
		record("outputs.toolpath", a != nil, b != nil, SeverityWarning)
		return
	}
	if a.SegmentCount != b.SegmentCount {
		record("outputs.toolpath.segment_count", a.SegmentCount, b.SegmentCount, SeverityWarning)
	}
	if a.LayerCount != b.LayerCount {
		record("outputs.toolpath.layer_count", a.LayerCount, b.LayerCount, SeverityWarning)
	}
	if !reflect.DeepEqual(a.Bounds, b.Bounds) {
		record("outputs.toolpath.bounds", a.Bounds, b.Bounds, SeverityWarning)
	}
	if !reflect.DeepEqual(a.Files, b.Files) {
		record("outputs.toolpath.files", a.Files, b.Files, SeverityWarning)
	}
}

func describeOutputs(o *domain.Outputs) string {
	if o == nil {
		return "absent"
	}
	return fmt.Sprintf("present (export_ref=%q)", o.ExportRef)
}
