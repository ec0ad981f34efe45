package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/camgate-labs/camgate-go/internal/diffengine"
	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/runstore"
)

type stubStore struct {
	artifacts  map[string]domain.RunArtifact
	advisories map[string][]domain.AdvisoryRef
	putErr     error
}

func newStubStore() *stubStore {
	return &stubStore{
		artifacts:  map[string]domain.RunArtifact{},
		advisories: map[string][]domain.AdvisoryRef{},
	}
}

func (s *stubStore) Put(ctx context.Context, artifact domain.RunArtifact) (domain.RunArtifact, error) {
	if s.putErr != nil {
		return domain.RunArtifact{}, s.putErr
	}
	if _, ok := s.artifacts[artifact.RunID]; ok {
		return domain.RunArtifact{}, runstore.ErrConflict
	}
	s.artifacts[artifact.RunID] = artifact
	return artifact, nil
}

func (s *stubStore) Get(ctx context.Context, runID string) (domain.RunArtifact, error) {
	artifact, ok := s.artifacts[runID]
	if !ok {
		return domain.RunArtifact{}, runstore.ErrNotFound
	}
	artifact.AdvisoryInputs = s.advisories[runID]
	return artifact, nil
}

func (s *stubStore) AppendAdvisory(ctx context.Context, runID string, ref domain.AdvisoryRef) error {
	if _, ok := s.artifacts[runID]; !ok {
		return runstore.ErrNotFound
	}
	s.advisories[runID] = append(s.advisories[runID], ref)
	return nil
}

func (s *stubStore) Advisories(ctx context.Context, runID string) ([]domain.AdvisoryRef, error) {
	if _, ok := s.artifacts[runID]; !ok {
		return nil, runstore.ErrNotFound
	}
	return s.advisories[runID], nil
}

func (s *stubStore) List(ctx context.Context, filter runstore.Filter, cursor string, limit int) (runstore.Page, error) {
	var entries []domain.RunArtifact
	for _, artifact := range s.artifacts {
		entries = append(entries, artifact)
	}
	return runstore.Page{Entries: entries}, nil
}

func (s *stubStore) FacetCounts(ctx context.Context, filter runstore.Filter) (runstore.Facets, error) {
	return runstore.Facets{Total: int64(len(s.artifacts))}, nil
}

func newTestService(t *testing.T) (*Service, *stubStore) {
	t.Helper()
	store := newStubStore()
	svc, err := New(store, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	return svc, store
}

func validCreateRequest() CreateRunRequest {
	return CreateRunRequest{
		Mode:   "Saw",
		ToolID: "blade-02",
		Status: domain.RunStatusOK,
		Feasibility: map[string]any{
			"fragility": 0.2,
			"lane":      "production",
		},
		Decision: domain.Decision{RiskLevel: "GREEN"},
	}
}

func TestCreateAssignsIDTimestampAndHash(t *testing.T) {
	svc, _ := newTestService(t)

	artifact, err := svc.Create(context.Background(), validCreateRequest(), AuditInfo{Actor: "op-1"})
	if err != nil {
		t.Fatalf("Create err=%v", err)
	}
	if artifact.RunID == "" {
		t.Fatalf("RunID not assigned")
	}
	if artifact.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not assigned")
	}
	if artifact.Mode != "saw" {
		t.Fatalf("Mode=%q, want lowercased", artifact.Mode)
	}
	if artifact.Decision.RiskLevel != domain.RiskGreen {
		t.Fatalf("RiskLevel=%q, want normalized green", artifact.Decision.RiskLevel)
	}
	if len(artifact.Hashes.FeasibilitySHA256) != 64 {
		t.Fatalf("feasibility hash not computed: %q", artifact.Hashes.FeasibilitySHA256)
	}
}

func TestCreateRedactsRequestSummary(t *testing.T) {
	svc, store := newTestService(t)

	req := validCreateRequest()
	req.RunID = "run-001"
	req.RequestSummary = map[string]any{
		"pattern_id":     "pat-7",
		"material":       "walnut",
		"operator_notes": "rush job, skip the sanding pass",
		"raw_geometry":   "M3 S10000 ...",
	}
	if _, err := svc.Create(context.Background(), req, AuditInfo{Actor: "op-1"}); err != nil {
		t.Fatalf("Create err=%v", err)
	}

	stored := store.artifacts["run-001"]
	if stored.RequestSummary["pattern_id"] != "pat-7" || stored.RequestSummary["material"] != "walnut" {
		t.Fatalf("allowlisted fields dropped: %+v", stored.RequestSummary)
	}
	if _, ok := stored.RequestSummary["operator_notes"]; ok {
		t.Fatalf("free-form notes leaked into the artifact")
	}
	if _, ok := stored.RequestSummary["raw_geometry"]; ok {
		t.Fatalf("raw geometry leaked into the artifact")
	}
}

func TestCreateDuplicateSurfacesConflict(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreateRequest()
	req.RunID = "run-001"
	if _, err := svc.Create(context.Background(), req, AuditInfo{Actor: "op-1"}); err != nil {
		t.Fatalf("first Create err=%v", err)
	}
	if _, err := svc.Create(context.Background(), req, AuditInfo{Actor: "op-1"}); !errors.Is(err, runstore.ErrConflict) {
		t.Fatalf("duplicate Create err=%v, want ErrConflict", err)
	}
}

func TestCreateRejectsInvalidArtifact(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreateRequest()
	req.Status = ""
	if _, err := svc.Create(context.Background(), req, AuditInfo{Actor: "op-1"}); err == nil {
		t.Fatalf("expected missing status to be rejected")
	}

	req = validCreateRequest()
	req.Feasibility = nil
	if _, err := svc.Create(context.Background(), req, AuditInfo{Actor: "op-1"}); err == nil {
		t.Fatalf("expected missing feasibility hash to be rejected")
	}
}

func TestAttachAdvisory(t *testing.T) {
	svc, store := newTestService(t)

	req := validCreateRequest()
	req.RunID = "run-001"
	if _, err := svc.Create(context.Background(), req, AuditInfo{Actor: "op-1"}); err != nil {
		t.Fatalf("Create err=%v", err)
	}

	ref, err := svc.AttachAdvisory(context.Background(), "run-001", AttachAdvisoryRequest{
		Kind:   "explanation",
		Engine: "risk-narrator",
	}, AuditInfo{Actor: "op-1"})
	if err != nil {
		t.Fatalf("AttachAdvisory err=%v", err)
	}
	if ref.AdvisoryID == "" || ref.CreatedAt.IsZero() {
		t.Fatalf("advisory not completed: %+v", ref)
	}
	if len(store.advisories["run-001"]) != 1 {
		t.Fatalf("advisory not appended")
	}

	if _, err := svc.AttachAdvisory(context.Background(), "ghost", AttachAdvisoryRequest{Kind: "note"}, AuditInfo{Actor: "op-1"}); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("missing run err=%v, want ErrNotFound", err)
	}
	if _, err := svc.AttachAdvisory(context.Background(), "run-001", AttachAdvisoryRequest{}, AuditInfo{Actor: "op-1"}); err == nil {
		t.Fatalf("expected missing kind to be rejected")
	}
}

func TestDiffAndLineage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent := validCreateRequest()
	parent.RunID = "parent"
	parent.Hashes = domain.Hashes{FeasibilitySHA256: "f1", GCodeSHA256: "g1"}
	parent.Feasibility = nil
	if _, err := svc.Create(ctx, parent, AuditInfo{Actor: "op-1"}); err != nil {
		t.Fatalf("Create parent err=%v", err)
	}

	child := validCreateRequest()
	child.RunID = "child"
	child.ParentRunID = "parent"
	child.Hashes = domain.Hashes{FeasibilitySHA256: "f1", GCodeSHA256: "g2"}
	child.Feasibility = nil
	if _, err := svc.Create(ctx, child, AuditInfo{Actor: "op-1"}); err != nil {
		t.Fatalf("Create child err=%v", err)
	}

	diff, err := svc.Diff(ctx, "parent", "child")
	if err != nil {
		t.Fatalf("Diff err=%v", err)
	}
	if diff.Severity != diffengine.SeverityWarning || !diff.LineageExplained {
		t.Fatalf("diff=%+v, want lineage-explained WARNING", diff)
	}

	chain, err := svc.Lineage(ctx, "child")
	if err != nil {
		t.Fatalf("Lineage err=%v", err)
	}
	if len(chain) != 2 || chain[0].RunID != "child" || chain[1].RunID != "parent" {
		t.Fatalf("chain=%+v", chain)
	}

	if _, err := svc.Diff(ctx, "parent", "ghost"); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("Diff missing run err=%v", err)
	}
}
