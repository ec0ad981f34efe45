package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/camgate-labs/camgate-go/internal/diffengine"
	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/hashutil"
	"github.com/camgate-labs/camgate-go/internal/platform/auditlog"
	"github.com/camgate-labs/camgate-go/internal/platform/runindex"
	"github.com/camgate-labs/camgate-go/internal/runstore"
)

// AuditInfo identifies who triggered an operation, for the audit trail.
type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
}

// CreateRunRequest carries one new run artifact. RunID and CreatedAt may be
// empty; the service assigns them. FeasibilitySHA256 may be empty when the
// Feasibility document is present, in which case it is computed here.
type CreateRunRequest struct {
	RunID          string
	CreatedAt      time.Time
	Mode           string
	ToolID         string
	Status         domain.RunStatus
	RequestSummary map[string]any
	Feasibility    map[string]any
	Decision       domain.Decision
	Hashes         domain.Hashes
	Outputs        *domain.Outputs
	ParentRunID    string
	Meta           domain.Metadata
}

// AttachAdvisoryRequest links one advisory record to an existing run.
// AdvisoryID may be empty; the service assigns one.
type AttachAdvisoryRequest struct {
	AdvisoryID string
	Kind       string
	Engine     string
}

type Service struct {
	store runstore.Store
	db    *sql.DB
	log   *slog.Logger
	now   func() time.Time
}

// New wires the service. db may be nil; the audit trail and run index are
// then skipped and the filesystem store stands alone.
func New(store runstore.Store, db *sql.DB, log *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("run store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, db: db, log: log, now: time.Now}, nil
}

// Create validates, completes and persists one run artifact. The store's
// write-once semantics surface as runstore.ErrConflict for duplicate ids.
func (s *Service) Create(ctx context.Context, req CreateRunRequest, info AuditInfo) (domain.RunArtifact, error) {
	artifact := domain.RunArtifact{
		RunID:          strings.TrimSpace(req.RunID),
		CreatedAt:      req.CreatedAt,
		Mode:           strings.ToLower(strings.TrimSpace(req.Mode)),
		ToolID:         strings.TrimSpace(req.ToolID),
		Status:         req.Status,
		RequestSummary: redactRequestSummary(req.RequestSummary),
		Feasibility:    req.Feasibility,
		Decision:       req.Decision,
		Hashes:         req.Hashes,
		Outputs:        req.Outputs,
		ParentRunID:    strings.TrimSpace(req.ParentRunID),
		Meta:           req.Meta,
	}
	if artifact.RunID == "" {
		artifact.RunID = uuid.NewString()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = s.now().UTC()
	}
	if normalized := domain.NormalizeRiskLevel(string(artifact.Decision.RiskLevel)); normalized != "" {
		artifact.Decision.RiskLevel = normalized
	}
	if artifact.Hashes.FeasibilitySHA256 == "" && artifact.Feasibility != nil {
		hash, err := hashutil.CanonicalJSON(artifact.Feasibility)
		if err != nil {
			return domain.RunArtifact{}, fmt.Errorf("hash feasibility: %w", err)
		}
		artifact.Hashes.FeasibilitySHA256 = hash
	}
	if err := artifact.Validate(); err != nil {
		return domain.RunArtifact{}, err
	}

	stored, err := s.store.Put(ctx, artifact)
	if err != nil {
		return domain.RunArtifact{}, err
	}

	s.indexRun(ctx, stored)
	s.audit(ctx, info, "run.created", "run", stored.RunID, map[string]any{
		"mode":       stored.Mode,
		"status":     stored.Status,
		"risk_level": stored.Decision.RiskLevel,
	})
	return stored, nil
}

func (s *Service) Get(ctx context.Context, runID string) (domain.RunArtifact, error) {
	return s.store.Get(ctx, runID)
}

func (s *Service) List(ctx context.Context, filter runstore.Filter, cursor string, limit int) (runstore.Page, error) {
	return s.store.List(ctx, filter, cursor, limit)
}

func (s *Service) Facets(ctx context.Context, filter runstore.Filter) (runstore.Facets, error) {
	return s.store.FacetCounts(ctx, filter)
}

// Diff loads both artifacts and compares them.
func (s *Service) Diff(ctx context.Context, runA, runB string) (diffengine.Diff, error) {
	a, err := s.store.Get(ctx, runA)
	if err != nil {
		return diffengine.Diff{}, fmt.Errorf("run %s: %w", runA, err)
	}
	b, err := s.store.Get(ctx, runB)
	if err != nil {
		return diffengine.Diff{}, fmt.Errorf("run %s: %w", runB, err)
	}
	return diffengine.Compare(a, b), nil
}

// Lineage walks the parent chain starting at runID.
func (s *Service) Lineage(ctx context.Context, runID string) ([]diffengine.LineageStep, error) {
	return diffengine.Lineage(ctx, s.store.Get, runID)
}

// AttachAdvisory appends one advisory link. The base artifact is never
// rewritten; the store records the link as a sibling file.
func (s *Service) AttachAdvisory(ctx context.Context, runID string, req AttachAdvisoryRequest, info AuditInfo) (domain.AdvisoryRef, error) {
	ref := domain.AdvisoryRef{
		AdvisoryID: strings.TrimSpace(req.AdvisoryID),
		Kind:       strings.TrimSpace(req.Kind),
		Engine:     strings.TrimSpace(req.Engine),
		CreatedAt:  s.now().UTC(),
	}
	if ref.AdvisoryID == "" {
		ref.AdvisoryID = uuid.NewString()
	}
	if err := ref.Validate(); err != nil {
		return domain.AdvisoryRef{}, err
	}

	if err := s.store.AppendAdvisory(ctx, runID, ref); err != nil {
		return domain.AdvisoryRef{}, err
	}

	s.audit(ctx, info, "run.advisory_attached", "run", runID, map[string]any{
		"advisory_id": ref.AdvisoryID,
		"kind":        ref.Kind,
		"engine":      ref.Engine,
	})
	return ref, nil
}

func (s *Service) Advisories(ctx context.Context, runID string) ([]domain.AdvisoryRef, error) {
	return s.store.Advisories(ctx, runID)
}

// IndexLookup returns a runstore.IndexLookup backed by the Postgres run
// index, or nil when the database is not configured.
func (s *Service) IndexLookup() runstore.IndexLookup {
	if s.db == nil {
		return nil
	}
	return func(ctx context.Context, runID string) (string, bool) {
		entry, err := runindex.Lookup(ctx, s.db, runID)
		if err != nil {
			if !errors.Is(err, runindex.ErrNotFound) {
				s.log.Warn("run index lookup failed", "run_id", runID, "error", err.Error())
			}
			return "", false
		}
		return entry.PartitionDate, true
	}
}

// Audit appends one governance event outside the run lifecycle (safety mode
// changes, override token activity). A no-op without a database, like the
// run events.
func (s *Service) Audit(ctx context.Context, info AuditInfo, action, resourceType, resourceID string, payload map[string]any) {
	s.audit(ctx, info, action, resourceType, resourceID, payload)
}

// indexRun mirrors a stored artifact into the run index. The filesystem
// store is authoritative; an index failure is logged, never propagated.
func (s *Service) indexRun(ctx context.Context, artifact domain.RunArtifact) {
	if s.db == nil {
		return
	}
	_, err := runindex.Insert(ctx, s.db, runindex.Entry{
		RunID:         artifact.RunID,
		PartitionDate: artifact.PartitionDate(),
		CreatedAt:     artifact.CreatedAt,
		Mode:          artifact.Mode,
		Status:        string(artifact.Status),
		RiskLevel:     string(artifact.Decision.RiskLevel),
		ParentRunID:   artifact.ParentRunID,
	})
	if err != nil {
		s.log.Warn("run index insert failed", "run_id", artifact.RunID, "error", err.Error())
	}
}

// audit appends one governance event. Audit failures are logged and do not
// undo the already-persisted operation.
func (s *Service) audit(ctx context.Context, info AuditInfo, action, resourceType, resourceID string, payload map[string]any) {
	if s.db == nil {
		return
	}
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		actor = "unknown"
	}
	_, err := auditlog.Insert(ctx, s.db, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		s.log.Warn("audit append failed", "action", action, "resource_id", resourceID, "error", err.Error())
	}
}
