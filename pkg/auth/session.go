package auth

import (
	"context"
	"errors"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

// Session ties the Authorizer to a token cache: it hands out a valid access
// token, refreshing or re-running the browser flow as needed, and keeps the
// cache in sync.
type Session struct {
	authorizer *Authorizer
	cache      TokenCache
	logger     logger.Logger
}

// NewSession creates a session. The cache may be nil, in which case tokens
// are held only for the lifetime of the process.
func NewSession(authorizer *Authorizer, cache TokenCache, log logger.Logger) *Session {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Session{authorizer: authorizer, cache: cache, logger: log}
}

// AccessToken returns a valid access token. Order of preference: cached
// token still valid, cached token refreshed, full browser authorization.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if cached := s.loadCached(); cached != nil {
		if cached.Valid() {
			s.logger.Debug("using cached access token")
			return cached.AccessToken, nil
		}

		if cached.CanRefresh() {
			refreshed, err := s.authorizer.Refresh(ctx, cached)
			if err == nil {
				s.store(refreshed)
				return refreshed.AccessToken, nil
			}
			s.logger.WithError(err).Warn("token refresh failed, re-authorizing")
		}
	}

	ts, err := s.Login(ctx)
	if err != nil {
		return "", err
	}
	return ts.AccessToken, nil
}

// Refresh forces a refresh-token exchange for the cached token and returns
// the new access token. Unlike AccessToken it never falls back to the
// browser flow: the crawl uses it when the API rejects a token mid-run, and
// a missing or rejected refresh token must surface as reauth-required.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	cached := s.loadCached()
	if cached == nil {
		return "", errs.NewAuth(errs.AuthReasonReauthRequired, "no cached token to refresh")
	}

	refreshed, err := s.authorizer.Refresh(ctx, cached)
	if err != nil {
		return "", err
	}

	s.store(refreshed)
	return refreshed.AccessToken, nil
}

// Login runs the browser authorization flow and caches the result.
func (s *Session) Login(ctx context.Context) (*TokenSet, error) {
	ts, err := s.authorizer.Authorize(ctx)
	if err != nil {
		return nil, err
	}

	s.store(ts)
	return ts, nil
}

// Status returns the cached token set, or a not-found error when no token
// is cached.
func (s *Session) Status() (*TokenSet, error) {
	if s.cache == nil {
		return nil, ErrTokenNotFound
	}
	return s.cache.Load()
}

// Logout removes any cached token.
func (s *Session) Logout() error {
	if s.cache == nil {
		return nil
	}

	err := s.cache.Delete()
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		return errs.New(errs.ErrorTypeUnknown, "failed to remove cached token: %v", err)
	}
	return nil
}

func (s *Session) loadCached() *TokenSet {
	if s.cache == nil {
		return nil
	}

	ts, err := s.cache.Load()
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			s.logger.WithError(err).Warn("failed to load cached token")
		}
		return nil
	}
	return ts
}

func (s *Session) store(ts *TokenSet) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(ts); err != nil {
		s.logger.WithError(err).Warn("failed to cache token")
	}
}
