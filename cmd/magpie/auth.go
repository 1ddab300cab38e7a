package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tommilligan/magpie-twitter-bot/pkg/auth"
	"github.com/tommilligan/magpie-twitter-bot/pkg/config"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored OAuth2 token",
	Long: `Manage the OAuth2 token used to talk to the Twitter API.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation

Client credentials come from the ` + config.EnvClientID + ` and
` + config.EnvClientSecret + ` environment variables or the config file.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the browser login flow and store the token",
	Run:   runLogin,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a stored token exists and when it expires",
	Run:   runStatus,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	Run:   runLogout,
}

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(statusCmd)
	authCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(authCmd)
}

// authSession loads config and builds a session for the auth subcommands.
func authSession() *auth.Session {
	flags := map[string]interface{}{}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	session, err := newSession(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authentication unavailable: %v\n", err)
		os.Exit(1)
	}
	return session
}

func runLogin(cmd *cobra.Command, args []string) {
	session := authSession()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ts, err := session.Login(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Login successful.")
	if !ts.Expiry.IsZero() {
		fmt.Printf("Access token expires %s\n", ts.Expiry.Format(time.RFC1123))
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	session := authSession()

	ts, err := session.Status()
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			fmt.Println("No stored token. Run 'magpie auth login' to authenticate.")
			return
		}
		fmt.Fprintf(os.Stderr, "Failed to read stored token: %v\n", err)
		os.Exit(1)
	}

	switch {
	case ts.Valid():
		fmt.Printf("Stored token is valid until %s\n", ts.Expiry.Format(time.RFC1123))
	case ts.CanRefresh():
		fmt.Println("Stored token has expired but can be refreshed on the next run.")
	default:
		fmt.Println("Stored token has expired. Run 'magpie auth login' to re-authenticate.")
	}
}

func runLogout(cmd *cobra.Command, args []string) {
	session := authSession()

	if err := session.Logout(); err != nil {
		fmt.Fprintf(os.Stderr, "Logout failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Stored token removed.")
}
