package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

// Twitter OAuth2 endpoints and the scopes the archive workflow needs.
// offline.access is required to receive a refresh token.
var (
	TwitterEndpoint = oauth2.Endpoint{
		AuthURL:  "https://twitter.com/i/oauth2/authorize",
		TokenURL: "https://api.twitter.com/2/oauth2/token",
	}

	Scopes = []string{"tweet.read", "users.read", "like.read", "offline.access"}
)

// Authorizer drives the authorization-code flow: PKCE pair, CSRF state, a
// one-shot loopback listener, the browser redirect, and the code exchange.
type Authorizer struct {
	creds    Credentials
	port     int
	timeout  time.Duration
	endpoint oauth2.Endpoint
	logger   logger.Logger

	// openURL presents the authorization URL to the user. Tests replace it.
	openURL func(url string) error
}

// Option customizes an Authorizer.
type Option func(*Authorizer)

// WithEndpoint overrides the provider endpoints. Used by tests to point at a
// local server.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(a *Authorizer) { a.endpoint = endpoint }
}

// WithOpenURL overrides how the authorization URL is presented.
func WithOpenURL(open func(url string) error) Option {
	return func(a *Authorizer) { a.openURL = open }
}

// WithTimeout overrides the callback wait timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Authorizer) { a.timeout = timeout }
}

// NewAuthorizer creates an Authorizer for the given credentials and callback
// port.
func NewAuthorizer(creds Credentials, port int, log logger.Logger, opts ...Option) *Authorizer {
	if log == nil {
		log = logger.GetLogger()
	}

	a := &Authorizer{
		creds:    creds,
		port:     port,
		timeout:  3 * time.Minute,
		endpoint: TwitterEndpoint,
		logger:   log,
		openURL:  browser.OpenURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize runs one complete authorization attempt and returns the token
// set. The PKCE verifier and CSRF state live only for the duration of the
// call.
func (a *Authorizer) Authorize(ctx context.Context) (*TokenSet, error) {
	if err := a.creds.Validate(); err != nil {
		return nil, err
	}

	server, err := newCallbackServer(a.port, a.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("failed to shut down callback server")
		}
	}()

	conf := a.oauthConfig(server.RedirectURI())

	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.AccessTypeOffline,
	)

	a.logger.InfoWithFields("opening authorization URL", map[string]interface{}{
		"client_id": Redact(a.creds.ClientID),
		"redirect":  server.RedirectURI(),
	})
	if err := a.openURL(authURL); err != nil {
		// The user can still complete the flow by opening the URL by hand.
		a.logger.WithError(err).Warn("failed to open browser")
		fmt.Printf("Open this URL to authorize:\n\n  %s\n\n", authURL)
	}

	a.logger.Debug("waiting for callback")
	result, err := server.Wait(ctx, a.timeout)
	if err != nil {
		return nil, err
	}

	if result.errorCode != "" {
		return nil, errs.NewAuth(errs.AuthReasonExchangeFailed,
			"provider denied authorization: %s %s", result.errorCode, result.errorDescription)
	}
	if result.code == "" || result.state == "" {
		return nil, errs.NewAuth(errs.AuthReasonInvalidCallback,
			"callback response missing code or state")
	}
	if subtle.ConstantTimeCompare([]byte(result.state), []byte(state)) != 1 {
		return nil, errs.NewAuth(errs.AuthReasonCSRFMismatch,
			"callback state parameter did not match the expected value")
	}

	tok, err := conf.Exchange(ctx, result.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, errs.NewAuth(errs.AuthReasonExchangeFailed, "token exchange failed: %v", err)
	}

	a.logger.InfoWithFields("authorization complete", map[string]interface{}{
		"expires": tok.Expiry,
	})

	return tokenSetFromOAuth2(tok), nil
}

// Refresh exchanges the refresh token for a new token set. Without a refresh
// token, or when the provider rejects the exchange, the caller must run a
// full Authorize again.
func (a *Authorizer) Refresh(ctx context.Context, ts *TokenSet) (*TokenSet, error) {
	if !ts.CanRefresh() {
		return nil, errs.NewAuth(errs.AuthReasonReauthRequired, "no refresh token available")
	}

	conf := a.oauthConfig("")

	// Only the refresh token goes into the source: a still-unexpired access
	// token would be returned unchanged instead of exchanged.
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.RefreshToken})
	tok, err := source.Token()
	if err != nil {
		return nil, errs.NewAuth(errs.AuthReasonReauthRequired, "refresh token exchange failed: %v", err)
	}

	// The provider may rotate the refresh token; keep the old one when it
	// does not.
	refreshed := tokenSetFromOAuth2(tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = ts.RefreshToken
	}

	a.logger.InfoWithFields("token refreshed", map[string]interface{}{
		"expires": tok.Expiry,
	})

	return refreshed, nil
}

func (a *Authorizer) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.creds.ClientID,
		ClientSecret: a.creds.ClientSecret,
		Endpoint:     a.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
