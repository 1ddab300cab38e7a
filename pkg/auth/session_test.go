package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

// memoryCache is an in-process TokenCache for session tests.
type memoryCache struct {
	ts *TokenSet
}

func (m *memoryCache) Store(ts *TokenSet) error {
	m.ts = ts
	return nil
}

func (m *memoryCache) Load() (*TokenSet, error) {
	if m.ts == nil {
		return nil, ErrTokenNotFound
	}
	return m.ts, nil
}

func (m *memoryCache) Delete() error {
	if m.ts == nil {
		return ErrTokenNotFound
	}
	m.ts = nil
	return nil
}

func newSessionAuthorizer(t *testing.T, calls *atomic.Int32, openURL func(string) error) (*Authorizer, func()) {
	t.Helper()
	tokenServer := newTokenServer(t, calls)

	if openURL == nil {
		openURL = func(authURL string) error {
			go completeCallback(t, authURL, func(state string) string { return state })
			return nil
		}
	}

	authorizer := NewAuthorizer(testCreds, 0, logger.NewNopLogger(),
		WithEndpoint(oauth2.Endpoint{
			AuthURL:  tokenServer.URL + "/authorize",
			TokenURL: tokenServer.URL + "/token",
		}),
		WithTimeout(5*time.Second),
		WithOpenURL(openURL),
	)

	return authorizer, tokenServer.Close
}

func TestSessionUsesCachedValidToken(t *testing.T) {
	var calls atomic.Int32
	authorizer, cleanup := newSessionAuthorizer(t, &calls, func(string) error {
		t.Fatal("browser flow must not run when a valid token is cached")
		return nil
	})
	defer cleanup()

	cache := &memoryCache{ts: &TokenSet{
		AccessToken: "cached-token",
		Expiry:      time.Now().Add(time.Hour),
	}}
	session := NewSession(authorizer, cache, logger.NewNopLogger())

	token, err := session.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
	assert.Equal(t, int32(0), calls.Load())
}

func TestSessionRefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int32
	authorizer, cleanup := newSessionAuthorizer(t, &calls, func(string) error {
		t.Fatal("browser flow must not run when a refresh succeeds")
		return nil
	})
	defer cleanup()

	cache := &memoryCache{ts: &TokenSet{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(-time.Hour),
	}}
	session := NewSession(authorizer, cache, logger.NewNopLogger())

	token, err := session.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", token)
	assert.Equal(t, int32(1), calls.Load())

	// Cache updated with the refreshed token.
	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", cached.AccessToken)
}

func TestSessionFallsBackToBrowserFlow(t *testing.T) {
	var calls atomic.Int32
	authorizer, cleanup := newSessionAuthorizer(t, &calls, nil)
	defer cleanup()

	cache := &memoryCache{}
	session := NewSession(authorizer, cache, logger.NewNopLogger())

	token, err := session.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", token)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", cached.AccessToken)
}

func TestSessionRefreshForcesExchange(t *testing.T) {
	var calls atomic.Int32
	authorizer, cleanup := newSessionAuthorizer(t, &calls, func(string) error {
		t.Fatal("forced refresh must never open the browser flow")
		return nil
	})
	defer cleanup()

	// The cached access token is still valid but the API rejected it, so
	// the exchange must run anyway.
	cache := &memoryCache{ts: &TokenSet{
		AccessToken:  "rejected-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(time.Hour),
	}}
	session := NewSession(authorizer, cache, logger.NewNopLogger())

	token, err := session.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", token)
	assert.Equal(t, int32(1), calls.Load())

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", cached.AccessToken)
}

func TestSessionRefreshWithoutCachedToken(t *testing.T) {
	var calls atomic.Int32
	authorizer, cleanup := newSessionAuthorizer(t, &calls, func(string) error {
		t.Fatal("forced refresh must never open the browser flow")
		return nil
	})
	defer cleanup()

	session := NewSession(authorizer, &memoryCache{}, logger.NewNopLogger())

	_, err := session.Refresh(context.Background())
	var authErr *errs.Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, errs.AuthReasonReauthRequired, authErr.Reason)
	assert.Equal(t, int32(0), calls.Load())
}

func TestSessionRefreshWithoutRefreshToken(t *testing.T) {
	var calls atomic.Int32
	authorizer, cleanup := newSessionAuthorizer(t, &calls, func(string) error {
		t.Fatal("forced refresh must never open the browser flow")
		return nil
	})
	defer cleanup()

	cache := &memoryCache{ts: &TokenSet{AccessToken: "rejected-token"}}
	session := NewSession(authorizer, cache, logger.NewNopLogger())

	_, err := session.Refresh(context.Background())
	var authErr *errs.Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, errs.AuthReasonReauthRequired, authErr.Reason)
	assert.Equal(t, int32(0), calls.Load())
}

func TestSessionStatusAndLogout(t *testing.T) {
	cache := &memoryCache{ts: &TokenSet{AccessToken: "tok"}}
	session := NewSession(nil, cache, logger.NewNopLogger())

	ts, err := session.Status()
	require.NoError(t, err)
	assert.Equal(t, "tok", ts.AccessToken)

	require.NoError(t, session.Logout())

	_, err = session.Status()
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Logging out twice is fine.
	assert.NoError(t, session.Logout())
}
