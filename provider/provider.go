// Package provider defines the byte store underneath memocache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// memocache frames every value with its own deadline and generation, so a provider
// that cannot honor per-entry TTLs (bigcache) is still correct: expired frames are
// rejected and deleted on read. Native TTLs only reclaim memory earlier.
//
// Keys written by memocache are "<namespace>:<key>". External code MUST NOT write
// under a namespace owned by a cache or token manager.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry.
	// May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources. Memos and token managers call it from their own
	// Close unless configured with SharedProvider.
	Close(ctx context.Context) error
}
