package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps appended events in process memory. Used by tests and as
// the fallback sink when no durable audit store is configured.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything appended so far, in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.entries))
	copy(out, r.entries)
	return out
}
