package cache

import (
	"context"
	"time"
)

// Store is the raw byte-level backend under the ResponseCache.
//
// Implementations must degrade gracefully: Get returns (nil, false) and Set
// returns nil on backend errors so the cache never becomes a correctness
// dependency for request handling.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Len returns the current entry count, or 0 when the backend cannot
	// report it.
	Len(ctx context.Context) int
}
