package token

import "net/http"

// Transport is an http.RoundTripper that authenticates requests through a
// Manager. Unlike Manager.Do it never turns a status into an error: a request
// still rejected after the retry comes back as that response.
type Transport struct {
	Manager *Manager
	Base    http.RoundTripper // nil => http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return t.Manager.roundTrip(req, base.RoundTrip)
}

// Client returns an *http.Client whose requests go through the manager.
func (m *Manager) Client() *http.Client {
	return &http.Client{Transport: &Transport{Manager: m}}
}
