package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

const (
	artifactSuffix  = ".json"
	advisoryInfix   = "_advisory_"
	partitionFormat = "2006-01-02"
)

// keyedLocks serializes operations per run id so writers targeting
// different runs never contend.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func artifactFileName(runID string) string {
	return runID + artifactSuffix
}

// conflictError enriches ErrConflict with the first immutable field the
// rejected write tried to change, when the stored copy is still readable.
func conflictError(dir string, attempted domain.RunArtifact) error {
	existing, err := loadArtifactFile(filepath.Join(dir, artifactFileName(attempted.RunID)))
	if err != nil {
		return ErrConflict
	}
	if immErr := domain.EnsureRunArtifactImmutable(existing, attempted); immErr != nil {
		return fmt.Errorf("%w: %s", ErrConflict, immErr)
	}
	return ErrConflict
}

func advisoryFileName(runID, advisoryID string) string {
	return runID + advisoryInfix + advisoryID + artifactSuffix
}

func isAdvisoryFile(name string) bool {
	return strings.Contains(name, advisoryInfix) && strings.HasSuffix(name, artifactSuffix)
}

func isArtifactFile(name string) bool {
	return strings.HasSuffix(name, artifactSuffix) && !strings.Contains(name, advisoryInfix)
}

// publishArtifactFile serializes the artifact and publishes it atomically:
// the bytes land in a temp file, then a hard link creates the final name.
// Link fails with EEXIST when the name is taken, which makes the write-once
// check atomic with the publish.
func publishArtifactFile(dir string, artifact domain.RunArtifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	blob, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".run-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	final := filepath.Join(dir, artifactFileName(artifact.RunID))
	if err := os.Link(tmpName, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrConflict
		}
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// loadArtifactFile reads and integrity-checks one artifact file.
func loadArtifactFile(path string) (domain.RunArtifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.RunArtifact{}, ErrNotFound
		}
		return domain.RunArtifact{}, fmt.Errorf("read artifact: %w", err)
	}

	var artifact domain.RunArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return domain.RunArtifact{}, fmt.Errorf("decode artifact %s: %w", filepath.Base(path), err)
	}

	computed, err := integritySHA256(artifact)
	if err != nil {
		return domain.RunArtifact{}, err
	}
	if artifact.IntegritySHA256 != "" && artifact.IntegritySHA256 != computed {
		return domain.RunArtifact{}, &IntegrityError{
			RunID:    artifact.RunID,
			Stored:   artifact.IntegritySHA256,
			Computed: computed,
		}
	}
	return artifact, nil
}

// publishAdvisoryFile writes one advisory link record as an independently
// addressed sibling file. The base artifact file is never touched.
func publishAdvisoryFile(dir, runID string, ref domain.AdvisoryRef) error {
	blob, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal advisory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".adv-*")
	if err != nil {
		return fmt.Errorf("create temp advisory: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write advisory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close advisory: %w", err)
	}

	final := filepath.Join(dir, advisoryFileName(runID, ref.AdvisoryID))
	if err := os.Link(tmpName, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("advisory %s already attached to run %s", ref.AdvisoryID, runID)
		}
		return fmt.Errorf("publish advisory: %w", err)
	}
	return nil
}

// loadAdvisoryFiles collects the advisory refs attached to a run within
// one directory, ordered by attach time then id.
func loadAdvisoryFiles(dir, runID string) ([]domain.AdvisoryRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition dir: %w", err)
	}

	prefix := runID + advisoryInfix
	var refs []domain.AdvisoryRef
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, artifactSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read advisory %s: %w", name, err)
		}
		var ref domain.AdvisoryRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("decode advisory %s: %w", name, err)
		}
		refs = append(refs, ref)
	}

	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].CreatedAt.Before(refs[j].CreatedAt)
		}
		return refs[i].AdvisoryID < refs[j].AdvisoryID
	})
	return refs, nil
}

// loadPartitionArtifacts reads every base artifact in a directory.
func loadPartitionArtifacts(dir string) ([]domain.RunArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition dir: %w", err)
	}

	var artifacts []domain.RunArtifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isArtifactFile(name) || strings.HasPrefix(name, ".") {
			continue
		}
		artifact, err := loadArtifactFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}
