package domain

import (
	"errors"
	"fmt"
	"reflect"
)

// EnsureRunArtifactImmutable reports the first authoritative field that
// differs between two versions of the same run artifact. AdvisoryInputs is
// deliberately excluded: it is the one append-only field.
func EnsureRunArtifactImmutable(before, after RunArtifact) error {
	if before.RunID == "" || after.RunID == "" {
		return errors.New("run ids are required")
	}
	if before.RunID != after.RunID {
		return fmt.Errorf("run id changed from %q to %q", before.RunID, after.RunID)
	}
	if !before.CreatedAt.Equal(after.CreatedAt) {
		return errors.New("created_at is immutable")
	}
	if before.Mode != after.Mode {
		return errors.New("mode is immutable")
	}
	if before.ToolID != after.ToolID {
		return errors.New("tool id is immutable")
	}
	if before.Status != after.Status {
		return errors.New("status is immutable")
	}
	if !reflect.DeepEqual(before.RequestSummary, after.RequestSummary) {
		return errors.New("request summary is immutable")
	}
	if !reflect.DeepEqual(before.Feasibility, after.Feasibility) {
		return errors.New("feasibility payload is immutable")
	}
	if !reflect.DeepEqual(before.Decision, after.Decision) {
		return errors.New("decision is immutable")
	}
	if before.Hashes != after.Hashes {
		return errors.New("hashes are immutable")
	}
	if !reflect.DeepEqual(before.Outputs, after.Outputs) {
		return errors.New("outputs are immutable")
	}
	if before.ParentRunID != after.ParentRunID {
		return errors.New("parent run id is immutable")
	}
	if !reflect.DeepEqual(before.Meta, after.Meta) {
		return errors.New("meta is immutable")
	}
	return nil
}

// EnsureAdvisoryAppendOnly verifies that the after list extends the before
// list without editing or removing existing entries.
func EnsureAdvisoryAppendOnly(before, after []AdvisoryRef) error {
	if len(after) < len(before) {
		return errors.New("advisory inputs may not be removed")
	}
	for i := range before {
		if !reflect.DeepEqual(before[i], after[i]) {
			return fmt.Errorf("advisory_inputs[%d] may not be edited", i)
		}
	}
	return nil
}
