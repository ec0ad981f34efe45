package runstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

func seedArtifacts(t *testing.T, store Store, n int, base time.Time) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("run-%03d", i)
		a := testArtifact(id, base.Add(time.Duration(i)*time.Minute))
		if i%3 == 0 {
			a.Mode = "laser"
		}
		if i%4 == 0 {
			a.Status = domain.RunStatusBlocked
			a.Decision = domain.Decision{RiskLevel: domain.RiskRed, BlockReason: "policy"}
		}
		if _, err := store.Put(context.Background(), a); err != nil {
			t.Fatalf("seed Put(%s) err=%v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestListNewestFirstAcrossPartitions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Two different days, so entries span two partition dirs.
	day1 := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 0, 10, 0, 0, time.UTC)
	for i, createdAt := range []time.Time{day1, day1.Add(5 * time.Minute), day2} {
		if _, err := store.Put(ctx, testArtifact(fmt.Sprintf("run-%d", i), createdAt)); err != nil {
			t.Fatalf("Put err=%v", err)
		}
	}

	page, err := store.List(ctx, Filter{}, "", 10)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if len(page.Entries) != 3 || page.HasMore {
		t.Fatalf("Entries=%d HasMore=%v", len(page.Entries), page.HasMore)
	}
	for i := 1; i < len(page.Entries); i++ {
		if page.Entries[i].CreatedAt.After(page.Entries[i-1].CreatedAt) {
			t.Fatalf("listing not newest-first: %v before %v",
				page.Entries[i-1].CreatedAt, page.Entries[i].CreatedAt)
		}
	}
	if page.Entries[0].RunID != "run-2" {
		t.Fatalf("newest entry=%q, want run-2", page.Entries[0].RunID)
	}
}

func TestListCursorPagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedArtifacts(t, store, 12, time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := store.List(ctx, Filter{}, cursor, 5)
		if err != nil {
			t.Fatalf("List err=%v", err)
		}
		pages++
		for _, entry := range page.Entries {
			if seen[entry.RunID] {
				t.Fatalf("run %s returned twice", entry.RunID)
			}
			seen[entry.RunID] = true
		}
		if !page.HasMore {
			break
		}
		if page.NextCursor == "" {
			t.Fatalf("HasMore without NextCursor")
		}
		cursor = page.NextCursor
	}
	if len(seen) != 12 {
		t.Fatalf("paged %d entries, want 12", len(seen))
	}
	if pages != 3 {
		t.Fatalf("pages=%d, want 3", pages)
	}
}

// Entries created while a caller is paging must not shift or duplicate the
// entries it has already seen.
func TestListCursorStableUnderConcurrentInserts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	seedArtifacts(t, store, 10, base)

	first, err := store.List(ctx, Filter{}, "", 4)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if len(first.Entries) != 4 || !first.HasMore {
		t.Fatalf("first page: Entries=%d HasMore=%v", len(first.Entries), first.HasMore)
	}

	// New runs land newer than everything already paged.
	for i := 0; i < 3; i++ {
		a := testArtifact(fmt.Sprintf("run-new-%d", i), base.Add(2*time.Hour))
		if _, err := store.Put(ctx, a); err != nil {
			t.Fatalf("Put err=%v", err)
		}
	}

	second, err := store.List(ctx, Filter{}, first.NextCursor, 100)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	if len(second.Entries) != 6 {
		t.Fatalf("second page Entries=%d, want the 6 unseen originals", len(second.Entries))
	}
	seen := map[string]bool{}
	for _, entry := range first.Entries {
		seen[entry.RunID] = true
	}
	for _, entry := range second.Entries {
		if seen[entry.RunID] {
			t.Fatalf("run %s duplicated across pages", entry.RunID)
		}
		if entry.RunID == "run-new-0" || entry.RunID == "run-new-1" || entry.RunID == "run-new-2" {
			t.Fatalf("entry inserted after cursor issuance leaked into the page")
		}
	}
}

func TestListFiltersAndCombine(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedArtifacts(t, store, 12, time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))

	page, err := store.List(ctx, Filter{Mode: "laser", Status: domain.RunStatusBlocked}, "", 100)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	// Seeds 0..11: mode=laser at i%3==0, blocked at i%4==0; both at 0, 12 is
	// out of range, so only run-000.
	if len(page.Entries) != 1 || page.Entries[0].RunID != "run-000" {
		t.Fatalf("filtered entries=%+v", page.Entries)
	}

	since := time.Date(2026, 3, 14, 8, 10, 0, 0, time.UTC)
	page, err = store.List(ctx, Filter{Since: since}, "", 100)
	if err != nil {
		t.Fatalf("List err=%v", err)
	}
	for _, entry := range page.Entries {
		if entry.CreatedAt.Before(since) {
			t.Fatalf("entry %s predates since filter", entry.RunID)
		}
	}
	if len(page.Entries) != 2 {
		t.Fatalf("since filter entries=%d, want 2", len(page.Entries))
	}
}

func TestListBadCursor(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.List(context.Background(), Filter{}, "not-a-cursor!", 10); !errors.Is(err, ErrBadCursor) {
		t.Fatalf("List err=%v, want ErrBadCursor", err)
	}
}

func TestFacetCounts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedArtifacts(t, store, 12, time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))

	facets, err := store.FacetCounts(ctx, Filter{})
	if err != nil {
		t.Fatalf("FacetCounts err=%v", err)
	}
	if facets.Total != 12 {
		t.Fatalf("Total=%d, want 12", facets.Total)
	}
	if facets.ByMode["laser"] != 4 || facets.ByMode["saw"] != 8 {
		t.Fatalf("ByMode=%v", facets.ByMode)
	}
	if facets.ByStatus["BLOCKED"] != 3 || facets.ByStatus["OK"] != 9 {
		t.Fatalf("ByStatus=%v", facets.ByStatus)
	}
	if facets.ByRisk["red"] != 3 || facets.ByRisk["green"] != 9 {
		t.Fatalf("ByRisk=%v", facets.ByRisk)
	}
}

func TestFlatStoreSameContract(t *testing.T) {
	store, err := NewFlatStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFlatStore err=%v", err)
	}
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	if _, err := store.Put(ctx, testArtifact("run-001", createdAt)); err != nil {
		t.Fatalf("Put err=%v", err)
	}
	if _, err := store.Put(ctx, testArtifact("run-001", createdAt)); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Put err=%v, want ErrConflict", err)
	}
	ref := domain.AdvisoryRef{AdvisoryID: "adv-1", Kind: "note", CreatedAt: createdAt.Add(time.Minute)}
	if err := store.AppendAdvisory(ctx, "run-001", ref); err != nil {
		t.Fatalf("AppendAdvisory err=%v", err)
	}
	got, err := store.Get(ctx, "run-001")
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if len(got.AdvisoryInputs) != 1 {
		t.Fatalf("AdvisoryInputs=%d, want 1", len(got.AdvisoryInputs))
	}
	page, err := store.List(ctx, Filter{}, "", 10)
	if err != nil || len(page.Entries) != 1 {
		t.Fatalf("List err=%v entries=%d", err, len(page.Entries))
	}
}
