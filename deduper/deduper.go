// Package deduper removes candidates whose email the owner already has.
package deduper

import (
	"context"
	"sync"
)

// Seen remembers keys for the lifetime of one filtering run.
type Seen interface {
	AddIfNotExists(context.Context, string) bool
}

func NewSeen() Seen {
	return &hashmap{
		seen: make(map[string]struct{}),
		mux:  &sync.RWMutex{},
	}
}
