package auth

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "magpie"
	keyringKey     = "oauth_token"
)

// KeyringCache stores the token set in the system keychain.
type KeyringCache struct{}

// NewKeyringCache verifies the keyring is usable before returning a cache.
func NewKeyringCache() (*KeyringCache, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringCache{}, nil
}

// Store saves the token set to the system keychain.
func (k *KeyringCache) Store(ts *TokenSet) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to marshal token set: %w", err)
	}

	if err := keyring.Set(keyringService, keyringKey, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return nil
}

// Load reads the token set from the system keychain.
func (k *KeyringCache) Load() (*TokenSet, error) {
	data, err := keyring.Get(keyringService, keyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var ts TokenSet
	if err := json.Unmarshal([]byte(data), &ts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token set: %w", err)
	}

	return &ts, nil
}

// Delete removes the token set from the system keychain.
func (k *KeyringCache) Delete() error {
	err := keyring.Delete(keyringService, keyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
