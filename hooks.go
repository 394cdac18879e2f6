package memocache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and the token manager call them on hot paths.
type Hooks interface {
	// Cache-aside outcomes for a storage key.
	Hit(storageKey string)
	Miss(storageKey string)

	// The caller joined a producer that another caller had already started.
	SharedFlight(storageKey string)

	// A cached value was rejected by the freshness policy.
	Stale(storageKey string)

	// The producer failed (or panicked); nothing was cached.
	ProducerFailed(storageKey string, err error)

	// A produced value was not cached because the key was invalidated meanwhile.
	SetSkipped(storageKey string)

	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "expired", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors.
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and delete failed during Invalidate (likely backend outage).
	InvalidateOutage(storageKey string, bumpErr, delErr error)

	// Credential lifecycle for a token scope.
	TokenRefreshed(scope string)
	TokenRefreshFailed(scope string, err error)
	AuthRetry(scope string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                            {}
func (NopHooks) Miss(string)                           {}
func (NopHooks) SharedFlight(string)                   {}
func (NopHooks) Stale(string)                          {}
func (NopHooks) ProducerFailed(string, error)          {}
func (NopHooks) SetSkipped(string)                     {}
func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) ProviderSetRejected(string)            {}
func (NopHooks) GenSnapshotError(string, error)        {}
func (NopHooks) GenBumpError(string, error)            {}
func (NopHooks) InvalidateOutage(string, error, error) {}
func (NopHooks) TokenRefreshed(string)                 {}
func (NopHooks) TokenRefreshFailed(string, error)      {}
func (NopHooks) AuthRetry(string)                      {}
