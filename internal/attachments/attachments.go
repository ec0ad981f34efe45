// Package attachments is the content-addressed blob store for exports,
// previews and other binary material referenced from run artifacts. The
// sha256 of the bytes is the only identity: uploading the same content twice
// bumps the entry's ref_count instead of storing a second copy.
package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/camgate-labs/camgate-go/internal/domain"
	"github.com/camgate-labs/camgate-go/internal/hashutil"
	"github.com/camgate-labs/camgate-go/internal/storage/objectstore"
)

var ErrNotFound = errors.New("attachment not found")

// maxAttachmentBytes bounds one upload. Toolpath exports are small; anything
// larger is a caller bug, not a bigger file.
const maxAttachmentBytes = 64 << 20

const metaSuffix = ".entry.json"

// PutRequest carries one upload.
type PutRequest struct {
	Kind     string
	MIME     string
	Filename string
	RunID    string
	Body     io.Reader
}

// Store keeps blobs under content hashes in the object backend and one
// metadata entry per hash alongside them.
type Store struct {
	backend objectstore.Store
	bucket  string

	// mu serializes the read-modify-write of metadata entries; the blob
	// itself is immutable once written.
	mu  sync.Mutex
	now func() time.Time
}

func NewStore(backend objectstore.Store, bucket string) (*Store, error) {
	if backend == nil {
		return nil, errors.New("object backend is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("attachment bucket is required")
	}
	return &Store{backend: backend, bucket: bucket, now: time.Now}, nil
}

func blobKey(hash string) string { return hash }

func metaKey(hash string) string { return hash + metaSuffix }

// Put stores the body under its content hash. Re-uploading known content
// increments ref_count and records the most recent referencing run; the
// stored bytes are never rewritten.
func (s *Store) Put(ctx context.Context, req PutRequest) (domain.AttachmentEntry, error) {
	if strings.TrimSpace(req.Kind) == "" {
		return domain.AttachmentEntry{}, errors.New("attachment kind is required")
	}
	if req.Body == nil {
		return domain.AttachmentEntry{}, errors.New("attachment body is required")
	}

	raw, err := io.ReadAll(io.LimitReader(req.Body, maxAttachmentBytes+1))
	if err != nil {
		return domain.AttachmentEntry{}, fmt.Errorf("read attachment body: %w", err)
	}
	if len(raw) > maxAttachmentBytes {
		return domain.AttachmentEntry{}, fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes)
	}
	hash := hashutil.SHA256Bytes(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadEntry(ctx, hash)
	switch {
	case err == nil:
		existing.RefCount++
		if runID := strings.TrimSpace(req.RunID); runID != "" {
			existing.LastSeenRunID = runID
		}
		if err := s.saveEntry(ctx, existing); err != nil {
			return domain.AttachmentEntry{}, err
		}
		return existing, nil
	case errors.Is(err, ErrNotFound):
		// First sighting, fall through to store blob + entry.
	default:
		return domain.AttachmentEntry{}, err
	}

	contentType := strings.TrimSpace(req.MIME)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.backend.Put(ctx, s.bucket, blobKey(hash), bytes.NewReader(raw), int64(len(raw)), contentType); err != nil {
		return domain.AttachmentEntry{}, fmt.Errorf("store attachment blob: %w", err)
	}

	runID := strings.TrimSpace(req.RunID)
	entry := domain.AttachmentEntry{
		Hash:           hash,
		Kind:           strings.TrimSpace(req.Kind),
		MIME:           contentType,
		Filename:       strings.TrimSpace(req.Filename),
		SizeBytes:      int64(len(raw)),
		CreatedAt:      s.now().UTC(),
		FirstSeenRunID: runID,
		LastSeenRunID:  runID,
		RefCount:       1,
	}
	if err := entry.Validate(); err != nil {
		return domain.AttachmentEntry{}, err
	}
	if err := s.saveEntry(ctx, entry); err != nil {
		return domain.AttachmentEntry{}, err
	}
	return entry, nil
}

// Get streams the blob for a hash together with its metadata entry.
func (s *Store) Get(ctx context.Context, hash string) (io.ReadCloser, domain.AttachmentEntry, error) {
	entry, err := s.Stat(ctx, hash)
	if err != nil {
		return nil, domain.AttachmentEntry{}, err
	}
	body, _, err := s.backend.Get(ctx, s.bucket, blobKey(entry.Hash))
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return nil, domain.AttachmentEntry{}, ErrNotFound
		}
		return nil, domain.AttachmentEntry{}, fmt.Errorf("read attachment blob: %w", err)
	}
	return body, entry, nil
}

// Stat returns the metadata entry without touching the blob.
func (s *Store) Stat(ctx context.Context, hash string) (domain.AttachmentEntry, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return domain.AttachmentEntry{}, errors.New("attachment hash is required")
	}
	return s.loadEntry(ctx, hash)
}

// Exists reports presence plus the entry when found.
func (s *Store) Exists(ctx context.Context, hash string) (bool, domain.AttachmentEntry, error) {
	entry, err := s.Stat(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return false, domain.AttachmentEntry{}, nil
	}
	if err != nil {
		return false, domain.AttachmentEntry{}, err
	}
	return true, entry, nil
}

func (s *Store) loadEntry(ctx context.Context, hash string) (domain.AttachmentEntry, error) {
	body, _, err := s.backend.Get(ctx, s.bucket, metaKey(hash))
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return domain.AttachmentEntry{}, ErrNotFound
		}
		return domain.AttachmentEntry{}, fmt.Errorf("read attachment entry: %w", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.AttachmentEntry{}, fmt.Errorf("read attachment entry: %w", err)
	}
	var entry domain.AttachmentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.AttachmentEntry{}, fmt.Errorf("decode attachment entry %s: %w", hash, err)
	}
	return entry, nil
}

func (s *Store) saveEntry(ctx context.Context, entry domain.AttachmentEntry) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal attachment entry: %w", err)
	}
	if err := s.backend.Put(ctx, s.bucket, metaKey(entry.Hash), bytes.NewReader(blob), int64(len(blob)), "application/json"); err != nil {
		return fmt.Errorf("store attachment entry: %w", err)
	}
	return nil
}
