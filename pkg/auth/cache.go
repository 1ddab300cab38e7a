package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var (
	// ErrTokenNotFound means no cached token set exists.
	ErrTokenNotFound = errors.New("token not found")
	// ErrCacheUnavailable means the cache backend cannot be used.
	ErrCacheUnavailable = errors.New("token cache unavailable")
)

// TokenCache persists a TokenSet between runs so a re-run can reuse the
// refresh token instead of opening a browser.
type TokenCache interface {
	Store(ts *TokenSet) error
	Load() (*TokenSet, error)
	Delete() error
}

// CacheManager tries a list of cache backends in order: system keyring
// first, encrypted file as fallback.
type CacheManager struct {
	caches []TokenCache
}

// NewCacheManager builds the default backend chain.
func NewCacheManager() (*CacheManager, error) {
	var caches []TokenCache

	if keyringCache, err := NewKeyringCache(); err == nil {
		caches = append(caches, keyringCache)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedCache, err := NewEncryptedFileCache(filepath.Join(configDir, "token.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted token cache: %w", err)
	}
	caches = append(caches, encryptedCache)

	return &CacheManager{caches: caches}, nil
}

// Store saves the token set to the first backend that accepts it.
func (m *CacheManager) Store(ts *TokenSet) error {
	if ts == nil || ts.AccessToken == "" {
		return errors.New("refusing to cache an empty token set")
	}

	var lastErr error
	for _, cache := range m.caches {
		if err := cache.Store(ts); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store token: %w", lastErr)
	}
	return ErrCacheUnavailable
}

// Load returns the token set from the first backend that has one.
func (m *CacheManager) Load() (*TokenSet, error) {
	for _, cache := range m.caches {
		if ts, err := cache.Load(); err == nil && ts != nil {
			return ts, nil
		}
	}
	return nil, ErrTokenNotFound
}

// Delete removes the token set from every backend.
func (m *CacheManager) Delete() error {
	var lastErr error
	deleted := false
	for _, cache := range m.caches {
		switch err := cache.Delete(); {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrTokenNotFound):
		default:
			lastErr = err
		}
	}
	if deleted {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrTokenNotFound
}

// getConfigDir returns the per-user configuration directory for the app.
func getConfigDir() (string, error) {
	var base string

	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".config")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		base = dir
	}

	configDir := filepath.Join(base, "magpie")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}
