// Package memocache implements cache-aside memoization for feed adapters:
// fetch-or-compute-and-cache with single-flight, per-entry TTLs and pluggable
// freshness policies. Package token adds the credential refresh lifecycle used by
// authenticated producers.
//
// Components:
//   - Provider: byte store with TTL (memory, Ristretto, BigCache, Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Store[V]: typed, namespaced entries framed with deadline + generation.
//   - Memo[V]: TryGet with one producer run per key at a time; failures are never cached.
//   - Policy[V]: marks a hit stale independent of TTL (e.g. "not from today").
//   - GenStore: generation counter per key so Invalidate beats an in-flight producer.
//
// Keys:
//
//	<ns>:<key>         - entries
//	<ns>:h:<blake3>    - entries whose key is too long to store verbatim
//
// Typical use:
//
//	media, _ := memocache.New[string](memocache.Options[string]{
//	    Namespace: "media",
//	    Provider:  memory.New(memory.Config{}),
//	    Codec:     codec.String{},
//	})
//	url, err := media.TryGet(ctx, eid, 4*time.Hour, func(ctx context.Context) (string, error) {
//	    return fetchPrivateMediaURL(ctx, eid)
//	})
package memocache
