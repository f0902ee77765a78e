package credentials

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultLifetime applies when the server does not declare expires_in.
const DefaultLifetime = 900 * time.Second

// TokenPair is the persisted access/refresh token pair. ExpiresAt is in epoch
// seconds and always derived from issue time plus the declared lifetime.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// NewTokenPair derives ExpiresAt from issuedAt and expiresIn seconds, using
// DefaultLifetime when expiresIn is not positive.
func NewTokenPair(accessToken, refreshToken string, expiresIn int, issuedAt time.Time) TokenPair {
	lifetime := DefaultLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    issuedAt.Add(lifetime).Unix(),
	}
}

// Expiry returns ExpiresAt as a time.
func (t TokenPair) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

// ValidFor reports whether the access token is still usable for longer than
// leeway at now. Nothing is checked against the server.
func (t TokenPair) ValidFor(now time.Time, leeway time.Duration) bool {
	return t.ExpiresAt > now.Add(leeway).Unix()
}

// OAuth2 converts the pair to an oauth2.Token for header handling.
func (t TokenPair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
	}
}
