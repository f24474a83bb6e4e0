// Package dedup decides whether a candidate article is already known.
package dedup

import (
	"context"
	"sync"
)

// Lookup answers whether a fingerprint is already durably stored.
type Lookup interface {
	ExistsFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

// Recorder is implemented by lookups that want to learn about fingerprints
// committed during a job (caches).
type Recorder interface {
	RecordFingerprint(ctx context.Context, fingerprint string) error
}

// Index is the per-job view: a local set of fingerprints seen during the run
// backed by the durable lookup. An Index is owned by one dispatcher run.
type Index struct {
	durable Lookup
	mu      sync.Mutex
	local   map[string]struct{}
}

func NewIndex(durable Lookup) *Index {
	return &Index{
		durable: durable,
		local:   make(map[string]struct{}),
	}
}

// Exists checks the local set first and falls back to the durable store.
func (i *Index) Exists(ctx context.Context, fingerprint string) (bool, error) {
	i.mu.Lock()
	_, ok := i.local[fingerprint]
	i.mu.Unlock()
	if ok {
		return true, nil
	}
	if i.durable == nil {
		return false, nil
	}
	return i.durable.ExistsFingerprint(ctx, fingerprint)
}

// Record marks the fingerprint as present for the rest of the run.
func (i *Index) Record(ctx context.Context, fingerprint string) error {
	i.mu.Lock()
	i.local[fingerprint] = struct{}{}
	i.mu.Unlock()

	if rec, ok := i.durable.(Recorder); ok {
		return rec.RecordFingerprint(ctx, fingerprint)
	}
	return nil
}

// Len reports how many fingerprints were recorded locally.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.local)
}
