package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the product of a successful authorization: the bearer token the
// crawler presents to the API, plus the optional refresh token used to renew
// it without another browser round trip.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// Valid reports whether the access token is present and not expired. A small
// skew window treats tokens about to expire as already expired so a request
// does not race the deadline.
func (t *TokenSet) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(30 * time.Second).Before(t.Expiry)
}

// CanRefresh reports whether a refresh-token exchange is possible.
func (t *TokenSet) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

func tokenSetFromOAuth2(tok *oauth2.Token) *TokenSet {
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
