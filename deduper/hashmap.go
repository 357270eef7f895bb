package deduper

import (
	"context"
	"sync"
)

var _ Seen = (*hashmap)(nil)

type hashmap struct {
	mux  *sync.RWMutex
	seen map[string]struct{}
}

// AddIfNotExists reports whether key was added. Two goroutines racing on
// the same key see exactly one true.
func (d *hashmap) AddIfNotExists(_ context.Context, key string) bool {
	d.mux.RLock()
	_, ok := d.seen[key]
	d.mux.RUnlock()

	if ok {
		return false
	}

	d.mux.Lock()
	defer d.mux.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}

	d.seen[key] = struct{}{}

	return true
}
