package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const maxRefreshBody = 1 << 20

// Refresher exchanges a refresh token for a new token pair. The returned token
// may leave RefreshToken empty when the issuer does not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, deviceID, refreshToken string) (*oauth2.Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, deviceID, refreshToken string) (*oauth2.Token, error)

func (f RefresherFunc) Refresh(ctx context.Context, deviceID, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, deviceID, refreshToken)
}

// Doer is the part of *http.Client the package needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeaderRefresher calls a fixed refresh endpoint that takes the device id and
// refresh token as request headers and answers with a JSON body holding the new
// pair. Each token is looked up at its gjson path in the body first, then in the
// response header of the same name as the request header.
type HeaderRefresher struct {
	Endpoint string
	Client   Doer        // nil => http.DefaultClient
	Method   string      // "" => POST
	Header   http.Header // static headers sent with the refresh (user agent, app version, ...)

	DeviceIDHeader     string // "" => X-Device-Id
	RefreshTokenHeader string // "" => X-Refresh-Token
	AccessTokenHeader  string // response header fallback; "" => X-Access-Token

	AccessTokenPath  string // "" => access_token
	RefreshTokenPath string // "" => refresh_token
	ExpiresInPath    string // seconds; "" => expires_in

	Now func() time.Time // nil => time.Now
}

var _ Refresher = (*HeaderRefresher)(nil)

func (r *HeaderRefresher) Refresh(ctx context.Context, deviceID, refreshToken string) (*oauth2.Token, error) {
	if r.Endpoint == "" {
		return nil, errors.New("header refresher: endpoint is required")
	}
	req, err := http.NewRequestWithContext(ctx, or(r.Method, http.MethodPost), r.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if deviceID != "" {
		req.Header.Set(or(r.DeviceIDHeader, "X-Device-Id"), deviceID)
	}
	req.Header.Set(or(r.RefreshTokenHeader, "X-Refresh-Token"), refreshToken)

	var client Doer = http.DefaultClient
	if r.Client != nil {
		client = r.Client
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if !gjson.ValidBytes(body) {
		body = nil
	}
	access := lookup(body, resp.Header, or(r.AccessTokenPath, "access_token"), or(r.AccessTokenHeader, "X-Access-Token"))
	if access == "" {
		return nil, errors.New("refresh response carried no access token")
	}
	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: lookup(body, resp.Header, or(r.RefreshTokenPath, "refresh_token"), or(r.RefreshTokenHeader, "X-Refresh-Token")),
	}
	if secs := gjson.GetBytes(body, or(r.ExpiresInPath, "expires_in")).Int(); secs > 0 {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		tok.Expiry = now().Add(time.Duration(secs) * time.Second)
	}
	return tok, nil
}

// OAuth2Refresher performs a standard refresh_token grant against Config.Endpoint.
// The device id is not part of that grant and is ignored.
type OAuth2Refresher struct {
	Config *oauth2.Config
	Client *http.Client // nil => http.DefaultClient
}

var _ Refresher = OAuth2Refresher{}

func (r OAuth2Refresher) Refresh(ctx context.Context, _ string, refreshToken string) (*oauth2.Token, error) {
	if r.Config == nil {
		return nil, errors.New("oauth2 refresher: config is required")
	}
	if r.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.Client)
	}
	return r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func lookup(body []byte, h http.Header, path, header string) string {
	if body != nil {
		if v := gjson.GetBytes(body, path).String(); v != "" {
			return v
		}
	}
	return h.Get(header)
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
