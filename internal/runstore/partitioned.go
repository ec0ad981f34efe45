package runstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

// IndexLookup resolves a run id to its partition date, letting Get skip
// the newest-first partition scan. Returning false falls back to the scan.
type IndexLookup func(ctx context.Context, runID string) (string, bool)

// PartitionedStore keeps one JSON file per artifact under a date-named
// directory derived from the artifact's created_at.
type PartitionedStore struct {
	root  string
	locks *keyedLocks
	index IndexLookup
}

func NewPartitionedStore(root string) (*PartitionedStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("run store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create run store root: %w", err)
	}
	return &PartitionedStore{root: root, locks: newKeyedLocks()}, nil
}

// WithIndex installs the optional fast index. The store stays correct
// without it; lookups just scan partitions newest-first.
func (s *PartitionedStore) WithIndex(index IndexLookup) *PartitionedStore {
	s.index = index
	return s
}

// partitionDirs returns the date directories newest-first.
func (s *PartitionedStore) partitionDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run store root: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && validPartitionName(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	dirs := make([]string, len(names))
	for i, name := range names {
		dirs[i] = filepath.Join(s.root, name)
	}
	return dirs, nil
}

// locate finds the partition dir holding the run's artifact file.
func (s *PartitionedStore) locate(ctx context.Context, runID string) (string, error) {
	if s.index != nil {
		if date, ok := s.index(ctx, runID); ok && validPartitionName(date) {
			dir := filepath.Join(s.root, date)
			if _, err := os.Stat(filepath.Join(dir, artifactFileName(runID))); err == nil {
				return dir, nil
			}
		}
	}

	dirs, err := s.partitionDirs()
	if err != nil {
		return "", err
	}
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, artifactFileName(runID))); err == nil {
			return dir, nil
		}
	}
	return "", ErrNotFound
}

func (s *PartitionedStore) Put(ctx context.Context, artifact domain.RunArtifact) (domain.RunArtifact, error) {
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

	// A same-id artifact written on an earlier day lives in a different
	// partition, so the link-time EEXIST check alone is not enough.
	if dir, err := s.locate(ctx, artifact.RunID); err == nil {
		return domain.RunArtifact{}, conflictError(dir, artifact)
	} else if !errors.Is(err, ErrNotFound) {
		return domain.RunArtifact{}, err
	}

	dir := filepath.Join(s.root, artifact.PartitionDate())
	if err := publishArtifactFile(dir, artifact); err != nil {
		return domain.RunArtifact{}, err
	}
	return artifact, nil
}

func (s *PartitionedStore) Get(ctx context.Context, runID string) (domain.RunArtifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.RunArtifact{}, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.RunArtifact{}, errors.New("run id is required")
	}

	dir, err := s.locate(ctx, runID)
	if err != nil {
		return domain.RunArtifact{}, err
	}
	artifact, err := loadArtifactFile(filepath.Join(dir, artifactFileName(runID)))
	if err != nil {
		return domain.RunArtifact{}, err
	}
	refs, err := loadAdvisoryFiles(dir, runID)
	if err != nil {
		return domain.RunArtifact{}, err
	}
	artifact.AdvisoryInputs = refs
	return artifact, nil
}

func (s *PartitionedStore) AppendAdvisory(ctx context.Context, runID string, ref domain.AdvisoryRef) error {
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

	dir, err := s.locate(ctx, runID)
	if err != nil {
		return err
	}
	return publishAdvisoryFile(dir, runID, ref)
}

func (s *PartitionedStore) Advisories(ctx context.Context, runID string) ([]domain.AdvisoryRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	dir, err := s.locate(ctx, runID)
	if err != nil {
		return nil, err
	}
	return loadAdvisoryFiles(dir, runID)
}

func (s *PartitionedStore) List(ctx context.Context, filter Filter, cursor string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	dirs, err := s.partitionDirs()
	if err != nil {
		return Page{}, err
	}
	return listDirs(dirs, filter, cursor, limit)
}

func (s *PartitionedStore) FacetCounts(ctx context.Context, filter Filter) (Facets, error) {
	if err := ctx.Err(); err != nil {
		return Facets{}, err
	}
	dirs, err := s.partitionDirs()
	if err != nil {
		return Facets{}, err
	}
	return facetDirs(dirs, filter)
}
