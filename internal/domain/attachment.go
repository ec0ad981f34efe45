package domain

import (
	"errors"
	"strings"
	"time"
)

// AttachmentEntry describes a content-addressed binary blob. The hash is
// the primary key; identical bytes uploaded twice share one entry.
type AttachmentEntry struct {
	Hash           string    `json:"hash"`
	Kind           string    `json:"kind"`
	MIME           string    `json:"mime,omitempty"`
	Filename       string    `json:"filename,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	FirstSeenRunID string    `json:"first_seen_run_id,omitempty"`
	LastSeenRunID  string    `json:"last_seen_run_id,omitempty"`
	RefCount       int64     `json:"ref_count"`
}

func (e AttachmentEntry) Validate() error {
	if strings.TrimSpace(e.Hash) == "" {
		return errors.New("attachment hash is required")
	}
	if strings.TrimSpace(e.Kind) == "" {
		return errors.New("attachment kind is required")
	}
	if e.SizeBytes < 0 {
		return errors.New("attachment size must be >= 0")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("attachment created_at is required")
	}
	if e.RefCount < 1 {
		return errors.New("attachment ref_count must be >= 1")
	}
	return nil
}
