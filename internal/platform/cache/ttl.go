package cache

import "time"

// IsFresh reports whether an entry fetched at fetchedAt may still be served at
// now. A ttl of zero (or less) means nothing is ever fresh.
func IsFresh(fetchedAt, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(fetchedAt) < ttl
}
