package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tommilligan/magpie-twitter-bot/pkg/archiver"
	"github.com/tommilligan/magpie-twitter-bot/pkg/auth"
	"github.com/tommilligan/magpie-twitter-bot/pkg/config"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

var (
	outDir       string
	callbackPort int
	concurrent   int
	rateLimit    int
	maxRetries   int
	resume       bool
	forceRestart bool
	sample       bool
	strict       bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Download the media from your liked tweets",
	Long: `Archive crawls your liked tweets and downloads every photo and video
into the output directory. Items already present are skipped, so the
command is safe to re-run.

Authentication uses a cached token when one exists; otherwise a browser
window opens for the OAuth2 login flow.`,
	Example: `  # Archive everything into ./likes
  magpie archive --out-dir ./likes

  # Only fetch the first page, useful for a quick check
  magpie archive --out-dir ./likes --sample

  # Continue an interrupted run
  magpie archive --out-dir ./likes --resume`,
	Run: runArchive,
}

func init() {
	archiveCmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "output directory for downloaded media (required)")
	archiveCmd.Flags().IntVar(&callbackPort, "port", 0, "local port for the OAuth2 callback listener")
	archiveCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	archiveCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "API requests per minute")
	archiveCmd.Flags().IntVar(&maxRetries, "max-retries", -1, "transient failure retries per page")
	archiveCmd.Flags().BoolVar(&resume, "resume", false, "resume from the last checkpoint")
	archiveCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard any existing checkpoint")
	archiveCmd.Flags().BoolVar(&sample, "sample", false, "stop after the first page of likes")
	archiveCmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any media item was skipped")
	archiveCmd.MarkFlagRequired("out-dir")

	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) {
	flags := map[string]interface{}{
		"out-dir": outDir,
		"strict":  strict,
	}
	if callbackPort > 0 {
		flags["port"] = callbackPort
	}
	if concurrent > 0 {
		flags["concurrent"] = concurrent
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if maxRetries >= 0 {
		flags["max-retries"] = maxRetries
	}
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
	log := logger.GetLogger()

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	session, err := newSession(cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize authentication")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := archiver.New(cfg, session, log)
	summary, err := runner.Run(ctx, archiver.Options{
		Resume:       resume,
		ForceRestart: forceRestart,
		Sample:       sample,
	})
	if err != nil {
		log.WithError(err).Error("archive run failed")
		os.Exit(1)
	}

	fmt.Printf("Archived %d new items (%d already present, %d unreachable) across %d pages\n",
		summary.Downloaded, summary.Skipped, summary.Failed, summary.Pages)

	if cfg.Output.StrictSkips && summary.Failed > 0 {
		os.Exit(2)
	}
}

// newSession builds the OAuth2 session from config: credentials, browser
// authorizer, and the keyring-backed token cache.
func newSession(cfg *config.Config) (*auth.Session, error) {
	creds := auth.Credentials{
		ClientID:     cfg.Twitter.ClientID,
		ClientSecret: cfg.Twitter.ClientSecret,
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	log := logger.GetLogger()

	authorizer := auth.NewAuthorizer(creds, cfg.Twitter.CallbackPort, log,
		auth.WithTimeout(cfg.Twitter.AuthTimeout))

	cache, err := auth.NewCacheManager()
	if err != nil {
		log.WithError(err).Warn("token cache unavailable, tokens will not persist")
		return auth.NewSession(authorizer, nil, log), nil
	}

	return auth.NewSession(authorizer, cache, log), nil
}
