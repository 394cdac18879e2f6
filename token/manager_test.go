package token

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/unkn0wn-root/memocache/provider/memory"
)

// countingRefresher hands out a1, a2, ... and r1, r2, ... on each call.
type countingRefresher struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	noRot   bool
	mu      sync.Mutex
	gotRTs  []string
	gotDevs []string
}

func (r *countingRefresher) Refresh(_ context.Context, deviceID, rt string) (*oauth2.Token, error) {
	n := r.calls.Add(1)
	r.mu.Lock()
	r.gotRTs = append(r.gotRTs, rt)
	r.gotDevs = append(r.gotDevs, deviceID)
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	tok := &oauth2.Token{AccessToken: "a" + itoa(n)}
	if !r.noRot {
		tok.RefreshToken = "r" + itoa(n)
	}
	return tok, nil
}

func itoa(n int32) string { return strconv.Itoa(int(n)) }

// authServer accepts only "Bearer <want>" and counts every hit.
func authServer(t *testing.T, want *atomic.Value) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+want.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestManager(t *testing.T, ref Refresher, mut func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		Provider:  memory.New(memory.Config{}),
		Refresher: ref,
		DeviceID:  "dev-1",
	}
	if mut != nil {
		mut(&opts)
	}
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func seed(t *testing.T, m *Manager, access, refresh string) {
	t.Helper()
	require.NoError(t, m.Store(context.Background(), Credentials{
		Token: &oauth2.Token{AccessToken: access, RefreshToken: refresh},
	}))
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestNew_RequiresRefresherAndProvider(t *testing.T) {
	_, err := New(Options{Provider: memory.New(memory.Config{})})
	assert.Error(t, err)
	_, err = New(Options{Refresher: &countingRefresher{}})
	assert.Error(t, err)
}

func TestDo_RotatesOnceAndRetriesOnce(t *testing.T) {
	var want atomic.Value
	want.Store("a1")
	srv, hits := authServer(t, &want)

	ref := &countingRefresher{}
	m := newTestManager(t, ref, nil)
	seed(t, m, "old", "r0")

	resp, err := m.Do(get(t, srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 1, ref.calls.Load())
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, []string{"r0"}, ref.gotRTs)
	assert.Equal(t, []string{"dev-1"}, ref.gotDevs)

	creds, ok, err := m.Credentials(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", creds.Token.AccessToken)
	assert.Equal(t, "r1", creds.Token.RefreshToken)
}

func TestDo_SecondUnauthorizedIsTerminal(t *testing.T) {
	var want atomic.Value
	want.Store("never")
	srv, hits := authServer(t, &want)

	ref := &countingRefresher{}
	m := newTestManager(t, ref, nil)
	seed(t, m, "old", "r0")

	_, err := m.Do(get(t, srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
	assert.Equal(t, "default", ae.Scope)

	assert.EqualValues(t, 1, ref.calls.Load())
	assert.EqualValues(t, 2, hits.Load())
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var want atomic.Value
	want.Store("a1")
	srv, _ := authServer(t, &want)

	ref := &countingRefresher{delay: 50 * time.Millisecond}
	m := newTestManager(t, ref, nil)
	seed(t, m, "old", "r0")

	const n = 20
	reqs := make([]*http.Request, n)
	for i := range reqs {
		reqs[i] = get(t, srv.URL)
	}
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Do(reqs[i])
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "call %d", i)
	}
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestDo_RefreshFailureKeepsStoredCredentials(t *testing.T) {
	var want atomic.Value
	want.Store("a1")
	srv, hits := authServer(t, &want)

	boom := errors.New("upstream down")
	ref := &countingRefresher{err: boom}
	m := newTestManager(t, ref, nil)
	seed(t, m, "old", "r0")

	_, err := m.Do(get(t, srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefresh)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, hits.Load(), "no retry after failed refresh")

	creds, ok, err := m.Credentials(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "old", creds.Token.AccessToken)
	assert.Equal(t, "r0", creds.Token.RefreshToken)
}

func TestDo_NonAuthFailureDoesNotRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	ref := &countingRefresher{}
	m := newTestManager(t, ref, nil)
	seed(t, m, "old", "r0")

	_, err := m.Do(get(t, srv.URL))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "boom", string(se.Body))
	assert.Zero(t, ref.calls.Load())
}

func TestDo_TransportErrorDoesNotRefresh(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ref := &countingRefresher{}
	m := newTestManager(t, ref, nil)
	seed(t, m, "old", "r0")

	_, err := m.Do(get(t, url))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRefresh)
	assert.Zero(t, ref.calls.Load())
}

func TestDo_ReplaysBodyOnRetry(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer a1" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	m := newTestManager(t, &countingRefresher{}, nil)
	seed(t, m, "old", "r0")

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"eid":"e1"}`))
	require.NoError(t, err)
	resp, err := m.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{`{"eid":"e1"}`, `{"eid":"e1"}`}, bodies)
}

func TestDo_CustomHeadersAndAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev-1", r.Header.Get("x-jike-device-id"))
		assert.Equal(t, "app/1.0", r.Header.Get("User-Agent"))
		if r.Header.Get("x-jike-access-token") != "a1" {
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	ref := &countingRefresher{}
	m := newTestManager(t, ref, func(o *Options) {
		o.AccessTokenHeader = "x-jike-access-token"
		o.DeviceIDHeader = "x-jike-device-id"
		o.Header = http.Header{"User-Agent": {"app/1.0"}}
		o.IsAuthFailure = func(r *http.Response) bool { return r.StatusCode == http.StatusForbidden }
	})
	seed(t, m, "old", "r0")

	resp, err := m.Do(get(t, srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestAccessToken_UsesSeedWhenStoreEmpty(t *testing.T) {
	ref := &countingRefresher{}
	m := newTestManager(t, ref, func(o *Options) { o.RefreshToken = "seed" })

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)
	assert.Equal(t, []string{"seed"}, ref.gotRTs)

	// stored now; no second refresh
	tok, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestAccessToken_NoRefreshToken(t *testing.T) {
	ref := &countingRefresher{}
	m := newTestManager(t, ref, nil)

	_, err := m.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrRefresh)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, ref.calls.Load())
}

func TestAccessToken_ExpiredTokenIsRefreshed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := &countingRefresher{}
	m := newTestManager(t, ref, func(o *Options) { o.Now = func() time.Time { return now } })

	require.NoError(t, m.Store(context.Background(), Credentials{
		Token: &oauth2.Token{AccessToken: "old", RefreshToken: "r0", Expiry: now.Add(-time.Second)},
	}))

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)
	assert.Equal(t, []string{"r0"}, ref.gotRTs)
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	m := newTestManager(t, &countingRefresher{noRot: true}, nil)
	seed(t, m, "old", "r0")

	creds, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1", creds.Token.AccessToken)
	assert.Equal(t, "r0", creds.Token.RefreshToken)
	assert.Equal(t, "dev-1", creds.DeviceID)
}

func TestRefresh_ForcedEvenWithValidToken(t *testing.T) {
	ref := &countingRefresher{}
	m := newTestManager(t, ref, nil)
	seed(t, m, "still-good", "r0")

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestScopesAreIsolated(t *testing.T) {
	p := memory.New(memory.Config{})
	a, err := New(Options{Provider: p, Refresher: &countingRefresher{}, Scope: "a"})
	require.NoError(t, err)
	b, err := New(Options{Provider: p, Refresher: &countingRefresher{}, Scope: "b"})
	require.NoError(t, err)

	seed(t, a, "tok-a", "r-a")
	_, ok, err := b.Credentials(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransport_ReturnsFinalResponse(t *testing.T) {
	var want atomic.Value
	want.Store("never")
	srv, hits := authServer(t, &want)

	m := newTestManager(t, &countingRefresher{}, nil)
	seed(t, m, "old", "r0")

	resp, err := m.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 2, hits.Load())
}

func TestTokenSource(t *testing.T) {
	m := newTestManager(t, &countingRefresher{}, nil)
	seed(t, m, "tok", "r0")

	tok, err := m.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, "r0", tok.RefreshToken)
}

// rotatingIssuer accepts only the refresh token it issued last and hands out
// pairs that expire after an hour.
type rotatingIssuer struct {
	mu     sync.Mutex
	latest string
	calls  int
	now    func() time.Time
}

func (r *rotatingIssuer) Refresh(_ context.Context, _ string, rt string) (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if rt != r.latest {
		return nil, errors.New("refresh token revoked: " + rt)
	}
	n := strconv.Itoa(r.calls)
	r.latest = "r" + n
	return &oauth2.Token{AccessToken: "a" + n, RefreshToken: r.latest, Expiry: r.now().Add(time.Hour)}, nil
}

// flakyProvider fails writes or reads on demand and counts Close calls.
type flakyProvider struct {
	*memory.Memory
	setErr error
	getErr error
	closed atomic.Int32
}

func (p *flakyProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	return p.Memory.Get(ctx, key)
}

func (p *flakyProvider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if p.setErr != nil {
		return false, p.setErr
	}
	return p.Memory.Set(ctx, key, value, cost, ttl)
}

func (p *flakyProvider) Close(ctx context.Context) error {
	p.closed.Add(1)
	return p.Memory.Close(ctx)
}

func TestAccessToken_LostWriteKeepsRotatedPair(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss := &rotatingIssuer{latest: "r0", now: clock}
	p := &flakyProvider{Memory: memory.New(memory.Config{}), setErr: errors.New("disk full")}
	m := newTestManager(t, iss, func(o *Options) {
		o.Provider = p
		o.RefreshToken = "r0"
		o.Now = clock
	})

	tok, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)

	tok, err = m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)
	assert.Equal(t, 1, iss.calls)

	// once a1 expires the next refresh must use r1, not the revoked seed
	now = now.Add(2 * time.Hour)
	tok, err = m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", tok)
	assert.Equal(t, 2, iss.calls)
}

func TestAccessToken_ReadOutageDoesNotRefreshAgain(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss := &rotatingIssuer{latest: "r0", now: clock}
	p := &flakyProvider{Memory: memory.New(memory.Config{})}
	m := newTestManager(t, iss, func(o *Options) {
		o.Provider = p
		o.RefreshToken = "r0"
		o.Now = clock
	})

	tok, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)

	p.getErr = errors.New("connection refused")
	for i := 0; i < 3; i++ {
		tok, err = m.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a1", tok)
	}
	assert.Equal(t, 1, iss.calls)
}

func TestDo_LostWriteRetryUsesRotatedPair(t *testing.T) {
	var want atomic.Value
	want.Store("a2")
	srv, _ := authServer(t, &want)

	iss := &rotatingIssuer{latest: "r0", now: time.Now}
	p := &flakyProvider{Memory: memory.New(memory.Config{}), setErr: errors.New("disk full")}
	m := newTestManager(t, iss, func(o *Options) {
		o.Provider = p
		o.RefreshToken = "r0"
	})

	// a1 is rejected, so the refresh after it must start from r1
	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a1", tok)

	resp, err := m.Do(get(t, srv.URL))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, 2, iss.calls)
}

func TestClose_SharedProviderStaysOpen(t *testing.T) {
	ctx := context.Background()
	p := &flakyProvider{Memory: memory.New(memory.Config{})}

	a, err := New(Options{Provider: p, Refresher: &countingRefresher{}, Scope: "a", SharedProvider: true})
	require.NoError(t, err)
	b, err := New(Options{Provider: p, Refresher: &countingRefresher{}, Scope: "b", SharedProvider: true})
	require.NoError(t, err)

	require.NoError(t, a.Close(ctx))
	require.NoError(t, b.Store(ctx, Credentials{Token: &oauth2.Token{AccessToken: "x", RefreshToken: "r"}}))
	require.NoError(t, b.Close(ctx))
	assert.EqualValues(t, 0, p.closed.Load())

	owner, err := New(Options{Provider: p, Refresher: &countingRefresher{}})
	require.NoError(t, err)
	require.NoError(t, owner.Close(ctx))
	assert.EqualValues(t, 1, p.closed.Load())
}

func TestRefresh_JoinsRefreshInFlight(t *testing.T) {
	ref := &countingRefresher{delay: 200 * time.Millisecond}
	m := newTestManager(t, ref, func(o *Options) { o.RefreshToken = "r0" })

	done := make(chan string)
	go func() {
		tok, _ := m.AccessToken(context.Background())
		done <- tok
	}()
	require.Eventually(t, func() bool { return ref.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	creds, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1", creds.Token.AccessToken)
	assert.Equal(t, "a1", <-done)
	assert.EqualValues(t, 1, ref.calls.Load())
}
