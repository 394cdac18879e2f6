package token

import (
	"time"

	"golang.org/x/oauth2"
)

// Credentials is the state of one credential scope. Access and refresh token
// travel together in Token and are only ever replaced as a whole.
type Credentials struct {
	Token      *oauth2.Token `json:"token"`
	DeviceID   string        `json:"device_id,omitempty"`
	ObtainedAt time.Time     `json:"obtained_at"`
}

// AccessToken returns the access token, or "" when it is missing or past the
// expiry the issuer reported. Validity against the remote service is not checked.
func (c Credentials) AccessToken(now time.Time) string {
	if c.Token == nil || c.Token.AccessToken == "" {
		return ""
	}
	if !c.Token.Expiry.IsZero() && !now.Before(c.Token.Expiry) {
		return ""
	}
	return c.Token.AccessToken
}

// RefreshToken returns the stored refresh token or "".
func (c Credentials) RefreshToken() string {
	if c.Token == nil {
		return ""
	}
	return c.Token.RefreshToken
}
