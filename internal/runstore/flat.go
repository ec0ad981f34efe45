package runstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// FlatStore keeps every artifact in a single directory. It predates the
// partitioned layout and is kept for stores written before date partitioning
// was introduced; new deployments should use PartitionedStore.
type FlatStore struct {
	root  string
	locks *keyedLocks
}

func NewFlatStore(root string) (*FlatStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("run store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create run store root: %w", err)
	}
	return &FlatStore{root: root, locks: newKeyedLocks()}, nil
}

func (s *FlatStore) artifactPath(runID string) string {
	return filepath.Join(s.root, artifactFileName(runID))
}

func (s *FlatStore) Put(ctx context.Context, artifact domain.RunArtifact) (domain.RunArtifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.RunArtifact{}, err
	}
	if err := artifact.Validate(); err != nil {
		return domain.RunArtifact{}, err
	}

	artifact.CreatedAt = artifact.CreatedAt.UTC()
	artifact.AdvisoryInputs = nil
	integrity, err := integritySHA256(artifact)
	if err != nil {
		return domain.RunArtifact{}, err
	}
	artifact.IntegritySHA256 = integrity

	unlock := s.locks.lock(artifact.RunID)
	defer unlock()

	if err := publishArtifactFile(s.root, artifact); err != nil {
		if errors.Is(err, ErrConflict) {
			return domain.RunArtifact{}, conflictError(s.root, artifact)
		}
		return domain.RunArtifact{}, err
	}
	return artifact, nil
}

func (s *FlatStore) Get(ctx context.Context, runID string) (domain.RunArtifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.RunArtifact{}, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.RunArtifact{}, errors.New("run id is required")
	}

	artifact, err := loadArtifactFile(s.artifactPath(runID))
	if err != nil {
		return domain.RunArtifact{}, err
	}
	refs, err := loadAdvisoryFiles(s.root, runID)
	if err != nil {
		return domain.RunArtifact{}, err
	}
	artifact.AdvisoryInputs = refs
	return artifact, nil
}

func (s *FlatStore) AppendAdvisory(ctx context.Context, runID string, ref domain.AdvisoryRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}
	if err := ref.Validate(); err != nil {
		return err
	}

	if _, err := os.Stat(s.artifactPath(runID)); err != nil {
		return ErrNotFound
	}
	return publishAdvisoryFile(s.root, runID, ref)
}

func (s *FlatStore) Advisories(ctx context.Context, runID string) ([]domain.AdvisoryRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	if _, err := os.Stat(s.artifactPath(runID)); err != nil {
		return nil, ErrNotFound
	}
	return loadAdvisoryFiles(s.root, runID)
}

func (s *FlatStore) List(ctx context.Context, filter Filter, cursor string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	return listDirs([]string{s.root}, filter, cursor, limit)
}

func (s *FlatStore) FacetCounts(ctx context.Context, filter Filter) (Facets, error) {
	if err := ctx.Err(); err != nil {
		return Facets{}, err
	}
	return facetDirs([]string{s.root}, filter)
}
