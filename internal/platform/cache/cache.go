// Package cache provides the bounded in-memory entry store and expiry policy
// used by the parameter cache.
package cache

import "time"

// Entry is a cached value together with the moment it was fetched.
type Entry struct {
	Value string

	// FetchedAt carries Go's monotonic clock reading, so age computations
	// through time.Time.Sub are immune to wall-clock jumps.
	FetchedAt time.Time
}

// Store defines the operations the cache engine needs from an entry store.
type Store interface {
	// Get returns the entry for key and marks it most recently used.
	Get(key string) (Entry, bool)

	// Put inserts or replaces the entry for key and marks it most recently used.
	Put(key, value string, fetchedAt time.Time)

	// Len returns the number of entries currently held.
	Len() int
}
