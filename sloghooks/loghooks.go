// Package sloghooks reports memocache events to a *slog.Logger.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/memocache"
	"github.com/unkn0wn-root/memocache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery      uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to a short blake3 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr      atomic.Uint64
	missCtr     atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ memocache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.ShortHash(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(storageKey string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("memocache.hit", "key", h.redact(storageKey))
}

func (h *Hooks) Miss(storageKey string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.missCtr) {
		return
	}
	h.l.Debug("memocache.miss", "key", h.redact(storageKey))
}

func (h *Hooks) SharedFlight(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("memocache.shared_flight", "key", h.redact(storageKey))
}

func (h *Hooks) Stale(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("memocache.stale", "key", h.redact(storageKey))
}

func (h *Hooks) ProducerFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memocache.producer_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) SetSkipped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("memocache.set_skipped", "key", h.redact(storageKey))
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("memocache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("memocache.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memocache.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("memocache.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("memocache.invalidate_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}

// Scopes are configuration names, not user data, so they are logged verbatim.

func (h *Hooks) TokenRefreshed(scope string) {
	if h.l == nil {
		return
	}
	h.l.Info("memocache.token_refreshed", "scope", scope)
}

func (h *Hooks) TokenRefreshFailed(scope string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("memocache.token_refresh_failed",
		"scope", scope,
		"err", err)
}

func (h *Hooks) AuthRetry(scope string) {
	if h.l == nil {
		return
	}
	h.l.Info("memocache.auth_retry", "scope", scope)
}
