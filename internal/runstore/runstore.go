// Package runstore persists run artifacts as write-once JSON files. The
// partitioned layout (one date directory per day) is current; the flat
// layout is the legacy single-directory format kept behind the same
// interface for stores written before partitioning.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/hashutil"
	"github.com/camgate-labs/camgate-go/internal/platform/env"
)

var (
	// ErrNotFound is returned when no artifact exists for a run id.
	ErrNotFound = errors.New("run artifact not found")
	// ErrConflict is returned when a put targets an existing run id. This
	// is the immutability enforcement point, not a convention.
	ErrConflict = errors.New("run artifact already exists")
	// ErrBadCursor is returned for cursors this store did not issue.
	ErrBadCursor = errors.New("invalid list cursor")
)

// IntegrityError reports a stored artifact whose content no longer matches
// its recorded hash. It is surfaced to the caller, never repaired.
type IntegrityError struct {
	RunID    string
	Stored   string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("run %s integrity mismatch: stored %s, computed %s", e.RunID, e.Stored, e.Computed)
}

// Filter narrows List and Facets. Zero fields mean no constraint; set
// fields are AND-combined.
type Filter struct {
	Mode      string
	Status    domain.RunStatus
	RiskLevel domain.RiskLevel
	Since     time.Time
	Until     time.Time
}

func (f Filter) matches(a domain.RunArtifact) bool {
	if f.Mode != "" && !strings.EqualFold(f.Mode, a.Mode) {
		return false
	}
	if f.Status != "" && f.Status != a.Status {
		return false
	}
	if f.RiskLevel != "" && f.RiskLevel != a.Decision.RiskLevel {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && a.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// Page is one slice of a newest-first listing.
type Page struct {
	Entries    []domain.RunArtifact
	NextCursor string
	HasMore    bool
}

// Facets are aggregate counts over the filtered artifact set.
type Facets struct {
	Total    int64            `json:"total"`
	ByMode   map[string]int64 `json:"by_mode"`
	ByStatus map[string]int64 `json:"by_status"`
	ByRisk   map[string]int64 `json:"by_risk_level"`
}

// Store is the write-once run artifact store. Put fails with ErrConflict
// for duplicate run ids; AppendAdvisory is the only sanctioned mutation
// path and never rewrites the base artifact.
type Store interface {
	Put(ctx context.Context, artifact domain.RunArtifact) (domain.RunArtifact, error)
	Get(ctx context.Context, runID string) (domain.RunArtifact, error)
	AppendAdvisory(ctx context.Context, runID string, ref domain.AdvisoryRef) error
	Advisories(ctx context.Context, runID string) ([]domain.AdvisoryRef, error)
	List(ctx context.Context, filter Filter, cursor string, limit int) (Page, error)
	FacetCounts(ctx context.Context, filter Filter) (Facets, error)
}

const (
	LayoutPartitioned = "partitioned"
	LayoutFlat        = "flat"
)

type Config struct {
	Root   string
	Layout string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Root:   env.String("CAMGATE_RUNSTORE_ROOT", "data/runs"),
		Layout: env.String("CAMGATE_RUNSTORE_LAYOUT", LayoutPartitioned),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("run store root is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Layout)) {
	case LayoutPartitioned, LayoutFlat:
		return nil
	default:
		return fmt.Errorf("run store layout must be %q or %q (got %q)", LayoutPartitioned, LayoutFlat, c.Layout)
	}
}

// Open selects the layout implementation from configuration.
func Open(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Layout)) {
	case LayoutFlat:
		return NewFlatStore(cfg.Root)
	default:
		return NewPartitionedStore(cfg.Root)
	}
}

// integritySHA256 hashes the canonical artifact body. The integrity field
// itself and advisory material are excluded: advisories are append-only
// side records and must not perturb the base artifact's hash.
func integritySHA256(artifact domain.RunArtifact) (string, error) {
	artifact.IntegritySHA256 = ""
	artifact.AdvisoryInputs = nil
	return hashutil.CanonicalJSON(artifact)
}
