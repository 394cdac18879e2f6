// Package token keeps an access/refresh token pair for an authenticated upstream
// and performs requests against it. A request rejected as unauthorized triggers
// one refresh and exactly one retry; concurrent refreshes of the same scope
// collapse into a single round trip.
//
// The pair is stored as one record under "<namespace>:<scope>" in a memocache
// Store, so readers never see a new access token next to an old refresh token.
package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/memocache"
	c "github.com/unkn0wn-root/memocache/codec"
	gen "github.com/unkn0wn-root/memocache/genstore"
	pr "github.com/unkn0wn-root/memocache/provider"
)

const (
	defaultScope     = "default"
	defaultNamespace = "cred"
	maxErrorBody     = 64 << 10
)

type Options struct {
	// Required
	Provider  pr.Provider
	Refresher Refresher

	Scope     string // credential set name; "" => "default"
	Namespace string // "" => "cred"

	// DeviceID is sent with every request and every refresh.
	DeviceID string
	// RefreshToken seeds the first refresh when the store holds no credentials.
	RefreshToken string

	Client Doer        // used by Do; nil => http.DefaultClient
	Header http.Header // static headers added to every request

	AccessTokenHeader string // "" => Authorization: Bearer <token>
	DeviceIDHeader    string // "" => X-Device-Id

	// IsAuthFailure decides whether a response means "token rejected". nil => status 401.
	IsAuthFailure func(*http.Response) bool

	Codec    c.Codec[Credentials] // nil => JSON
	GenStore gen.GenStore         // nil => in-process
	Logger   memocache.Logger
	Hooks    memocache.Hooks
	Now      func() time.Time

	// SharedProvider leaves Provider open on Close.
	SharedProvider bool
}

// Manager owns the credentials of one scope.
type Manager struct {
	scope    string
	deviceID string
	seed     string

	store     *memocache.Store[Credentials]
	refresher Refresher
	client    Doer
	header    http.Header

	accessHeader string
	deviceHeader string
	isAuthFail   func(*http.Response) bool

	log   memocache.Logger
	hooks memocache.Hooks
	now   func() time.Time

	flights singleflight.Group

	// last is the most recent pair this manager obtained or was given. It
	// covers the store when a write was lost or a read fails.
	mu   sync.Mutex
	last *Credentials
}

func New(opts Options) (*Manager, error) {
	if opts.Refresher == nil {
		return nil, errors.New("token: refresher is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("token: provider is required")
	}

	m := &Manager{
		scope:        or(opts.Scope, defaultScope),
		deviceID:     opts.DeviceID,
		seed:         opts.RefreshToken,
		refresher:    opts.Refresher,
		client:       opts.Client,
		header:       opts.Header,
		accessHeader: opts.AccessTokenHeader,
		deviceHeader: or(opts.DeviceIDHeader, "X-Device-Id"),
		isAuthFail:   opts.IsAuthFailure,
		log:          opts.Logger,
		hooks:        opts.Hooks,
		now:          opts.Now,
	}
	if m.client == nil {
		m.client = http.DefaultClient
	}
	if m.isAuthFail == nil {
		m.isAuthFail = func(r *http.Response) bool { return r.StatusCode == http.StatusUnauthorized }
	}
	if m.log == nil {
		m.log = memocache.NopLogger{}
	}
	if m.hooks == nil {
		m.hooks = memocache.NopHooks{}
	}
	if m.now == nil {
		m.now = time.Now
	}

	s, err := memocache.NewStore[Credentials](memocache.Options[Credentials]{
		Namespace: or(opts.Namespace, defaultNamespace),
		Provider:  opts.Provider,
		Codec:     opts.Codec,
		GenStore:  opts.GenStore,
		Logger:    opts.Logger,
		Hooks:     opts.Hooks,
		Now:       opts.Now,

		SharedProvider: opts.SharedProvider,
	})
	if err != nil {
		return nil, err
	}
	m.store = s
	return m, nil
}

// Scope returns the credential set this manager owns.
func (m *Manager) Scope() string { return m.scope }

// Close closes the underlying store and, unless Options.SharedProvider is set,
// its provider.
func (m *Manager) Close(ctx context.Context) error { return m.store.Close(ctx) }

// Credentials returns the stored record without refreshing.
func (m *Manager) Credentials(ctx context.Context) (Credentials, bool, error) {
	return m.store.Get(ctx, m.scope)
}

// Store replaces the stored credentials, e.g. after an interactive login.
func (m *Manager) Store(ctx context.Context, creds Credentials) error {
	if creds.ObtainedAt.IsZero() {
		creds.ObtainedAt = m.now()
	}
	if creds.DeviceID == "" {
		creds.DeviceID = m.deviceID
	}
	m.remember(creds)
	return m.store.Set(ctx, m.scope, creds, memocache.NoExpiration)
}

// AccessToken returns a usable access token, refreshing first when none is stored
// or the stored one has expired.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	creds, err := m.valid(ctx)
	if err != nil {
		return "", err
	}
	return creds.Token.AccessToken, nil
}

// Refresh exchanges the current (or seed) refresh token for a new pair and stores
// it, even when the stored access token is still usable. Concurrent calls share
// one round trip, including a refresh already started by Do or AccessToken; a
// caller that joins such a flight receives its result.
func (m *Manager) Refresh(ctx context.Context) (Credentials, error) {
	return m.refresh(ctx, "", true)
}

// TokenSource exposes the manager as an oauth2.TokenSource bound to ctx.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, m: m}
}

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	creds, err := s.m.valid(s.ctx)
	if err != nil {
		return nil, err
	}
	t := *creds.Token
	return &t, nil
}

// Do sends req with the current access token. If the response is an auth failure
// the token is refreshed once and the request retried once with the new token.
//
// Errors:
//   - *AuthError when the retry is rejected as well.
//   - *RefreshError when the refresh itself fails; the first response is discarded.
//   - *StatusError for any other status >= 400.
//   - transport errors as returned by the client, without refresh.
//
// On success the caller owns resp.Body.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	resp, err := m.roundTrip(req, m.client.Do)
	if err != nil {
		return nil, err
	}
	if m.isAuthFail(resp) {
		drain(resp)
		return nil, &AuthError{Scope: m.scope, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}

// roundTrip performs attempt, refresh, retry. The last response is returned
// as-is, including a second auth failure.
func (m *Manager) roundTrip(req *http.Request, send func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	ctx := req.Context()
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	tok, err := m.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := send(m.prepare(req, body, tok))
	if err != nil {
		return nil, err
	}
	if !m.isAuthFail(resp) {
		return resp, nil
	}
	drain(resp)

	m.hooks.AuthRetry(m.scope)
	m.log.Info("request unauthorized; refreshing token", memocache.Fields{
		"scope": m.scope, "method": req.Method, "url": req.URL.Redacted(), "status": resp.StatusCode,
	})
	creds, err := m.refresh(ctx, tok, false)
	if err != nil {
		return nil, err
	}
	return send(m.prepare(req, body, creds.Token.AccessToken))
}

func (m *Manager) prepare(req *http.Request, body []byte, tok string) *http.Request {
	r := req.Clone(req.Context())
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		r.ContentLength = int64(len(body))
	}
	for k, vs := range m.header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if m.accessHeader == "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	} else {
		r.Header.Set(m.accessHeader, tok)
	}
	if m.deviceID != "" {
		r.Header.Set(m.deviceHeader, m.deviceID)
	}
	return r
}

// valid returns stored credentials with a usable access token, refreshing if needed.
func (m *Manager) valid(ctx context.Context) (Credentials, error) {
	creds, ok := m.current(ctx)
	if ok && creds.AccessToken(m.now()) != "" {
		return creds, nil
	}
	return m.refresh(ctx, "", false)
}

// refresh collapses concurrent refreshes of the scope into one round trip.
// Unless forced, a flight that finds a usable access token different from
// rejected returns it without calling the refresher: another caller already rotated.
func (m *Manager) refresh(ctx context.Context, rejected string, force bool) (Credentials, error) {
	res, err, _ := m.flights.Do(m.scope, func() (any, error) {
		// shared by every waiter; one caller's cancellation must not fail the rest
		ctx := context.WithoutCancel(ctx)

		cur, ok := m.current(ctx)
		if !force && ok {
			if at := cur.AccessToken(m.now()); at != "" && at != rejected {
				return cur, nil
			}
		}

		rt := cur.RefreshToken()
		if rt == "" {
			rt = m.seed
		}
		if rt == "" {
			return nil, m.refreshFailed(ErrNoRefreshToken)
		}

		tok, err := m.refresher.Refresh(ctx, m.deviceID, rt)
		if err != nil {
			return nil, m.refreshFailed(err)
		}
		if tok == nil || tok.AccessToken == "" {
			return nil, m.refreshFailed(errors.New("refresher returned no access token"))
		}
		next := *tok
		if next.RefreshToken == "" {
			// issuer did not rotate; keep the one that still works
			next.RefreshToken = rt
		}
		creds := Credentials{Token: &next, DeviceID: m.deviceID, ObtainedAt: m.now()}
		// rt may already be revoked; later refreshes must start from next
		m.remember(creds)
		if err := m.store.Set(ctx, m.scope, creds, memocache.NoExpiration); err != nil {
			m.log.Error("failed to persist refreshed credentials", memocache.Fields{"scope": m.scope, "err": err})
		}
		m.hooks.TokenRefreshed(m.scope)
		m.log.Info("token refreshed", memocache.Fields{"scope": m.scope})
		return creds, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return res.(Credentials), nil
}

// current returns the stored pair, or the last one seen by this manager when
// the store misses or cannot be read.
func (m *Manager) current(ctx context.Context) (Credentials, bool) {
	creds, ok, err := m.store.Get(ctx, m.scope)
	if err != nil {
		m.log.Warn("credential read failed", memocache.Fields{"scope": m.scope, "err": err})
	}
	if ok {
		return creds, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Credentials{}, false
	}
	return *m.last, true
}

func (m *Manager) remember(creds Credentials) {
	m.mu.Lock()
	m.last = &creds
	m.mu.Unlock()
}

func (m *Manager) refreshFailed(err error) error {
	m.hooks.TokenRefreshFailed(m.scope, err)
	m.log.Error("token refresh failed", memocache.Fields{"scope": m.scope, "err": err})
	return &RefreshError{Scope: m.scope, Err: err}
}

// bufferBody reads and closes the request body so it can be sent twice.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("token: buffer request body: %w", err)
	}
	return b, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
