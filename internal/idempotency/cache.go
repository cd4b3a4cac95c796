// Package idempotency is the fast tier of request deduplication: a
// short-lived key → reference mapping consulted before the authoritative
// store. A positive answer is trusted; a miss or an error falls through.
// The cache may lose writes but must never report a mapping that was not
// stored.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long a key → reference mapping is retained unless
// configured otherwise.
const DefaultTTL = 24 * time.Hour

type Cache interface {
	// Lookup returns the reference mapped to key. ok is false on a miss;
	// err reports cache trouble, which callers treat as a miss after
	// logging it.
	Lookup(ctx context.Context, key string) (reference string, ok bool, err error)
	// Remember stores the mapping for ttl. Failures are non-fatal for the
	// caller: the store's unique index remains the source of truth.
	Remember(ctx context.Context, key, reference string, ttl time.Duration) error
}
