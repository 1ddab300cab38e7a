// Package auth performs the OAuth2 authorization-code exchange with PKCE via
// a one-shot local callback listener, and caches the resulting token set so
// later runs can skip the browser flow.
package auth

import (
	"os"

	"github.com/tommilligan/magpie-twitter-bot/pkg/config"
	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
)

// Credentials holds the OAuth application client id and secret. Immutable for
// the process lifetime.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// CredentialsFromEnv reads the client credentials from the environment.
// Missing values are a fatal configuration error.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		ClientID:     os.Getenv(config.EnvClientID),
		ClientSecret: os.Getenv(config.EnvClientSecret),
	}
	return creds, creds.Validate()
}

// Validate checks that both credential values are present.
func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return errs.New(errs.ErrorTypeConfig, "missing required environment variable %q", config.EnvClientID)
	}
	if c.ClientSecret == "" {
		return errs.New(errs.ErrorTypeConfig, "missing required environment variable %q", config.EnvClientSecret)
	}
	return nil
}

// Redact returns a loggable form of a secret: the first four characters
// followed by a marker.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return secret + "***"
	}
	return secret[:4] + "***"
}
