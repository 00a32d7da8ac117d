package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	ids     map[string]struct{}
	seq     int64
	clock   clock
	prefix  string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		ids:    make(map[string]struct{}),
		clock:  clock{now: o.now},
		prefix: o.previewPrefix,
	}
}

// Append stores a copy of rec and sets rec.Seq and rec.CreatedAt.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("docstore: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	s.seq++
	rec.Seq = s.seq
	rec.CreatedAt = s.clock.next()
	stored := cloneRecord(rec)
	stored.PreviewURL = ""
	s.records = append(s.records, stored)
	s.ids[rec.ID] = struct{}{}
	rec.PreviewURL = PreviewURL(s.prefix, rec.ArtifactName)
	return nil
}

// List returns copies ordered newest first.
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Timestamps are non-decreasing in insertion order, so reverse
	// insertion order is timestamp DESC with seq DESC tie-break.
	out := make([]*Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		r := cloneRecord(s.records[i])
		r.PreviewURL = PreviewURL(s.prefix, r.ArtifactName)
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }
