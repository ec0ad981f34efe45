// Package runindex maintains the optional Postgres fast index over the
// partitioned run artifact store: run_id -> partition date, plus the facet
// columns queried most often. The filesystem store stays authoritative; the
// index only short-circuits partition scans.
package runindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camgate-labs/camgate-go/internal/hashutil"
)

var ErrNotFound = errors.New("run index entry not found")

type Entry struct {
	RunID         string
	PartitionDate string
	CreatedAt     time.Time
	Mode          string
	Status        string
	RiskLevel     string
	ParentRunID   string
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("RunID is required")
	}
	if strings.TrimSpace(e.PartitionDate) == "" {
		return errors.New("PartitionDate is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("CreatedAt is required")
	}
	if strings.TrimSpace(e.Mode) == "" {
		return errors.New("Mode is required")
	}
	if strings.TrimSpace(e.Status) == "" {
		return errors.New("Status is required")
	}
	if strings.TrimSpace(e.RiskLevel) == "" {
		return errors.New("RiskLevel is required")
	}
	return nil
}

// Insert appends one index row. The unique constraint on run_id makes the
// index refuse duplicates just like the store itself.
func Insert(ctx context.Context, q QueryRower, entry Entry) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	integrity, err := ComputeIntegritySHA256(entry)
	if err != nil {
		return 0, err
	}

	var parent sql.NullString
	if strings.TrimSpace(entry.ParentRunID) != "" {
		parent = sql.NullString{String: strings.TrimSpace(entry.ParentRunID), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO run_index (
			run_id,
			partition_date,
			created_at,
			mode,
			status,
			risk_level,
			parent_run_id,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING index_id`,
		strings.TrimSpace(entry.RunID),
		strings.TrimSpace(entry.PartitionDate),
		entry.CreatedAt.UTC(),
		strings.TrimSpace(entry.Mode),
		strings.TrimSpace(entry.Status),
		strings.TrimSpace(entry.RiskLevel),
		parent,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run index entry: %w", err)
	}
	return id, nil
}

// Lookup resolves a run id to its partition date.
func Lookup(ctx context.Context, q QueryRower, runID string) (Entry, error) {
	if q == nil {
		return Entry{}, errors.New("queryer is required")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Entry{}, errors.New("run id is required")
	}

	var entry Entry
	var parent sql.NullString
	err := q.QueryRowContext(
		ctx,
		`SELECT run_id, partition_date, created_at, mode, status, risk_level, parent_run_id
		 FROM run_index WHERE run_id = $1`,
		runID,
	).Scan(&entry.RunID, &entry.PartitionDate, &entry.CreatedAt, &entry.Mode, &entry.Status, &entry.RiskLevel, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup run index entry: %w", err)
	}
	if parent.Valid {
		entry.ParentRunID = parent.String
	}
	return entry, nil
}

func ComputeIntegritySHA256(entry Entry) (string, error) {
	type integrityInput struct {
		RunID         string    `json:"run_id"`
		PartitionDate string    `json:"partition_date"`
		CreatedAt     time.Time `json:"created_at"`
		Mode          string    `json:"mode"`
		Status        string    `json:"status"`
		RiskLevel     string    `json:"risk_level"`
		ParentRunID   string    `json:"parent_run_id,omitempty"`
	}
	in := integrityInput{
		RunID:         strings.TrimSpace(entry.RunID),
		PartitionDate: strings.TrimSpace(entry.PartitionDate),
		CreatedAt:     entry.CreatedAt.UTC(),
		Mode:          strings.TrimSpace(entry.Mode),
		Status:        strings.TrimSpace(entry.Status),
		RiskLevel:     strings.TrimSpace(entry.RiskLevel),
		ParentRunID:   strings.TrimSpace(entry.ParentRunID),
	}
	return hashutil.CanonicalJSON(in)
}
