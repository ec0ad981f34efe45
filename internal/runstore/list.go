package runstore

import (
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
)

const maxListLimit = 500

// cursorPosition is the decoded form of a list cursor: the sort key of the
// last entry the caller has seen. Keying on (created_at, run_id) instead of
// an offset keeps already-paged entries stable under concurrent inserts.
type cursorPosition struct {
	createdAt time.Time
	runID     string
}

func encodeCursor(a domain.RunArtifact) string {
	raw := a.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + a.RunID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (cursorPosition, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return cursorPosition{}, ErrBadCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return cursorPosition{}, ErrBadCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return cursorPosition{}, ErrBadCursor
	}
	return cursorPosition{createdAt: createdAt, runID: parts[1]}, nil
}

// newerFirst orders artifacts by created_at descending, run id descending
// as the tiebreak. This is the one ordering cursors are issued against.
func newerFirst(a, b domain.RunArtifact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.RunID > b.RunID
}

// afterCursor reports whether an artifact sorts strictly after the cursor
// position in newest-first order.
func afterCursor(a domain.RunArtifact, pos cursorPosition) bool {
	if !a.CreatedAt.Equal(pos.createdAt) {
		return a.CreatedAt.Before(pos.createdAt)
	}
	return a.RunID < pos.runID
}

// listDirs pages over the given directories, which must already be ordered
// newest-first (partition dirs sorted by date descending). The scan stops
// as soon as limit+1 matches are in hand.
func listDirs(dirs []string, filter Filter, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var pos cursorPosition
	hasCursor := false
	if strings.TrimSpace(cursor) != "" {
		decoded, err := decodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		pos = decoded
		hasCursor = true
	}

	var acc []domain.RunArtifact
	for _, dir := range dirs {
		artifacts, err := loadPartitionArtifacts(dir)
		if err != nil {
			return Page{}, err
		}
		matched := artifacts[:0:0]
		for _, artifact := range artifacts {
			if !filter.matches(artifact) {
				continue
			}
			if hasCursor && !afterCursor(artifact, pos) {
				continue
			}
			matched = append(matched, artifact)
		}
		sort.Slice(matched, func(i, j int) bool { return newerFirst(matched[i], matched[j]) })
		acc = append(acc, matched...)
		if len(acc) >= limit+1 {
			break
		}
	}

	hasMore := len(acc) > limit
	if hasMore {
		acc = acc[:limit]
	}
	page := Page{Entries: acc, HasMore: hasMore}
	if hasMore && len(acc) > 0 {
		page.NextCursor = encodeCursor(acc[len(acc)-1])
	}
	return page, nil
}

// facetDirs aggregates counts over every matching artifact in the dirs.
func facetDirs(dirs []string, filter Filter) (Facets, error) {
	facets := Facets{
		ByMode:   map[string]int64{},
		ByStatus: map[string]int64{},
		ByRisk:   map[string]int64{},
	}
	for _, dir := range dirs {
		artifacts, err := loadPartitionArtifacts(dir)
		if err != nil {
			return Facets{}, err
		}
		for _, artifact := range artifacts {
			if !filter.matches(artifact) {
				continue
			}
			facets.Total++
			facets.ByMode[strings.ToLower(artifact.Mode)]++
			facets.ByStatus[string(artifact.Status)]++
			facets.ByRisk[string(artifact.Decision.RiskLevel)]++
		}
	}
	return facets, nil
}

// validPartitionName accepts only YYYY-MM-DD directory names.
func validPartitionName(name string) bool {
	_, err := time.Parse(partitionFormat, name)
	return err == nil
}
