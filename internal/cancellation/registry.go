// Package cancellation stores cooperative cancel signals keyed by job id.
package cancellation

import (
	"context"
	"sync"
)

// Registry is checked by dispatchers between candidates.
type Registry interface {
	Raise(ctx context.Context, jobID string) error
	IsRaised(ctx context.Context, jobID string) (bool, error)
	Clear(ctx context.Context, jobID string) error
}

// MemoryRegistry keeps signals in process memory. It only works when the
// controller and dispatcher share a process.
type MemoryRegistry struct {
	mu      sync.RWMutex
	signals map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{signals: make(map[string]struct{})}
}

func (r *MemoryRegistry) Raise(_ context.Context, jobID string) error {
	r.mu.Lock()
	r.signals[jobID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) IsRaised(_ context.Context, jobID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.signals[jobID]
	r.mu.RUnlock()
	return ok, nil
}

func (r *MemoryRegistry) Clear(_ context.Context, jobID string) error {
	r.mu.Lock()
	delete(r.signals, jobID)
	r.mu.Unlock()
	return nil
}
