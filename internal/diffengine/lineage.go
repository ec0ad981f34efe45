package diffengine

import (
	"context"
	"fmt"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// maxLineageDepth bounds the parent walk so a corrupted chain cannot make a
// lineage query unbounded.
const maxLineageDepth = 256

// ArtifactGetter resolves a run id to its stored artifact.
type ArtifactGetter func(ctx context.Context, runID string) (domain.RunArtifact, error)

// LineageStep is one run in the chain, newest first.
type LineageStep struct {
	RunID     string           `json:"run_id"`
	CreatedAt string           `json:"created_at"`
	Mode      string           `json:"mode"`
	Status    domain.RunStatus `json:"status"`
	RiskLevel domain.RiskLevel `json:"risk_level"`
	ParentID  string           `json:"parent_run_id,omitempty"`
}

// Lineage walks parent_run_id links starting at runID and returns the chain
// newest-first. A missing ancestor ends the walk with an error naming the
// broken link; a cycle is rejected rather than looped.
func Lineage(ctx context.Context, get ArtifactGetter, runID string) ([]LineageStep, error) {
	var chain []LineageStep
	visited := map[string]bool{}

	current := runID
	for current != "" {
		if visited[current] {
			return nil, fmt.Errorf("lineage cycle through run %s", current)
		}
		if len(chain) >= maxLineageDepth {
			return nil, fmt.Errorf("lineage deeper than %d runs at %s", maxLineageDepth, current)
		}
		visited[current] = true

		artifact, err := get(ctx, current)
		if err != nil {
			if len(chain) == 0 {
				return nil, err
			}
			return nil, fmt.Errorf("run %s names missing parent %s: %w", chain[len(chain)-1].RunID, current, err)
		}
		chain = append(chain, LineageStep{
			RunID:     artifact.RunID,
			CreatedAt: artifact.CreatedAt.UTC().Format(time.RFC3339Nano),
			Mode:      artifact.Mode,
			Status:    artifact.Status,
			RiskLevel: artifact.Decision.RiskLevel,
			ParentID:  artifact.ParentRunID,
		})
		current = artifact.ParentRunID
	}
	return chain, nil
}
