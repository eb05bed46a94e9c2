package rating

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory rate table for tests and early development.
// Replace reloads the whole table atomically, mirroring how the
// administrative backend versions tariffs.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []RateEntry
}

func NewMemoryRepo(entries ...RateEntry) *MemoryRepo {
	return &MemoryRepo{entries: entries}
}

// Replace swaps in a new rate table.
func (r *MemoryRepo) Replace(entries []RateEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
}

func (r *MemoryRepo) FindByPrefixes(ctx context.Context, prefixes []string, asOf time.Time) ([]RateEntry, error) {
	_ = ctx
	_ = asOf

	want := make(map[string]struct{}, len(prefixes))
	for _, p := range prefixes {
		want[p] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []RateEntry
	for _, e := range r.entries {
		if _, ok := want[e.DestinationPrefix]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
