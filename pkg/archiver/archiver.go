// Package archiver orchestrates an archive run: authenticate, crawl the
// liked-tweets timeline, and download each post's media into the output
// directory exactly once.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tommilligan/magpie-twitter-bot/internal/downloader"
	"github.com/tommilligan/magpie-twitter-bot/pkg/checkpoint"
	"github.com/tommilligan/magpie-twitter-bot/pkg/config"
	"github.com/tommilligan/magpie-twitter-bot/pkg/crawler"
	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
	"github.com/tommilligan/magpie-twitter-bot/pkg/ratelimit"
	"github.com/tommilligan/magpie-twitter-bot/pkg/storage"
	"github.com/tommilligan/magpie-twitter-bot/pkg/twitter"
)

// TokenProvider supplies access tokens for the API. Refresh forces a
// refresh-token exchange when the API rejects the current token mid-run;
// its failure means the user has to authenticate again.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Options control a single archive run.
type Options struct {
	// Resume continues from a stored checkpoint cursor.
	Resume bool
	// ForceRestart discards any stored checkpoint.
	ForceRestart bool
	// Sample stops after the first page.
	Sample bool
}

// Summary aggregates the outcome of a run.
type Summary struct {
	Pages      int
	Posts      int
	Downloaded int
	Skipped    int
	Failed     int
}

// Archiver wires the crawler, download workers, and persistence together.
type Archiver struct {
	cfg    *config.Config
	tokens TokenProvider
	client *twitter.Client
	logger logger.Logger
}

// New creates an archiver from a validated configuration.
func New(cfg *config.Config, tokens TokenProvider, log logger.Logger) *Archiver {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Archiver{
		cfg:    cfg,
		tokens: tokens,
		client: twitter.NewClient(cfg.Download.DownloadTimeout, log),
		logger: log,
	}
}

// Client returns the underlying API client. Tests point it at a local
// server.
func (a *Archiver) Client() *twitter.Client {
	return a.client
}

// Run executes the archive flow and returns a summary. The summary is
// non-nil whenever the crawl completed, even if individual downloads failed.
func (a *Archiver) Run(ctx context.Context, opts Options) (*Summary, error) {
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire access token: %w", err)
	}
	a.client.SetBearerToken(token)

	limiter := ratelimit.NewTokenBucket(a.cfg.RateLimit.RequestsPerMinute, time.Minute)
	crawl := crawler.New(a.client, limiter, a.cfg.RateLimit.MaxRetries, a.logger)

	user, err := crawl.ResolveSelf(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve authenticated user: %w", err)
	}

	cp, checkpoints, err := a.prepareCheckpoint(user, opts)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewManager(a.cfg.Output.Directory, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize output directory: %w", err)
	}

	pool := downloader.NewWorkerPool(
		a.cfg.Download.ConcurrentDownloads,
		a.client,
		store,
		ratelimit.NewTokenBucket(a.cfg.RateLimit.RequestsPerMinute, time.Minute),
		a.logger,
	)
	pool.Start(ctx)

	summary := &Summary{}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer pool.Stop()
		return a.producePages(groupCtx, crawl, pool, user.ID, cp, checkpoints, opts, summary)
	})

	group.Go(func() error {
		for result := range pool.Results() {
			switch result.Status {
			case downloader.StatusDownloaded:
				summary.Downloaded++
			case downloader.StatusSkipped:
				summary.Skipped++
			case downloader.StatusFailed:
				summary.Failed++
				a.logger.WarnWithFields("media item skipped after all candidates failed", map[string]interface{}{
					"media_key": result.Job.MediaKey,
					"tweet_id":  result.Job.TweetID,
					"error":     result.Error.Error(),
				})
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	a.finishCheckpoint(cp, checkpoints, summary, opts)

	a.logger.InfoWithFields("archive run complete", map[string]interface{}{
		"pages":      summary.Pages,
		"posts":      summary.Posts,
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
	})

	return summary, nil
}

// prepareCheckpoint loads or resets the stored crawl position per the run
// options.
func (a *Archiver) prepareCheckpoint(user *twitter.User, opts Options) (*checkpoint.Checkpoint, *checkpoint.Manager, error) {
	checkpoints, err := checkpoint.NewManager(user.Username)
	if err != nil {
		a.logger.WithError(err).Warn("checkpointing unavailable, continuing without")
		return &checkpoint.Checkpoint{Account: user.Username, UserID: user.ID}, nil, nil
	}

	if opts.ForceRestart && checkpoints.Exists() {
		if err := checkpoints.Delete(); err != nil {
			a.logger.WithError(err).Warn("failed to delete existing checkpoint")
		}
	}

	if opts.Resume && checkpoints.Exists() {
		cp, err := checkpoints.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp != nil {
			a.logger.InfoWithFields("resuming from checkpoint", map[string]interface{}{
				"last_cursor":     cp.LastCursor,
				"pages_processed": cp.PagesProcessed,
			})
			return cp, checkpoints, nil
		}
	}

	cp, err := checkpoints.Create(user.Username, user.ID)
	if err != nil {
		a.logger.WithError(err).Warn("failed to create checkpoint, continuing without")
		return &checkpoint.Checkpoint{Account: user.Username, UserID: user.ID}, nil, nil
	}
	return cp, checkpoints, nil
}

// producePages walks the liked-tweets pages and submits one download job per
// resolved media item. The checkpoint cursor advances only after a page's
// jobs are all submitted.
func (a *Archiver) producePages(
	ctx context.Context,
	crawl *crawler.Crawler,
	pool *downloader.WorkerPool,
	userID string,
	cp *checkpoint.Checkpoint,
	checkpoints *checkpoint.Manager,
	opts Options,
	summary *Summary,
) error {
	cursor := cp.LastCursor
	refreshed := false

	for {
		page, err := crawl.FetchPage(ctx, userID, cursor)
		if err != nil {
			// An expired token gets one refresh attempt, then the same
			// cursor is refetched. Only a failed refresh is fatal.
			if isAuthError(err) && !refreshed {
				a.logger.Warn("access token rejected, attempting refresh")
				token, refreshErr := a.tokens.Refresh(ctx)
				if refreshErr != nil {
					return fmt.Errorf("token refresh failed: %w", refreshErr)
				}
				a.client.SetBearerToken(token)
				refreshed = true
				continue
			}
			return fmt.Errorf("crawl failed at cursor %q: %w", cursor, err)
		}
		refreshed = false

		summary.Pages++

		for _, post := range page.Posts {
			summary.Posts++
			for _, media := range post.Media {
				urls := make([]string, 0, len(media.Candidates))
				for _, candidate := range media.Candidates {
					urls = append(urls, candidate.URL)
				}

				job := downloader.Job{
					MediaKey:   media.MediaKey,
					TweetID:    post.ID,
					Username:   post.Author,
					CreatedAt:  post.CreatedAt,
					Candidates: urls,
				}
				if err := pool.Submit(ctx, job); err != nil {
					return err
				}
			}
		}

		if checkpoints != nil {
			if err := checkpoints.UpdateProgress(cp, page.NextCursor, 0); err != nil {
				a.logger.WithError(err).Warn("failed to save checkpoint")
			}
		} else {
			cp.LastCursor = page.NextCursor
			cp.PagesProcessed++
		}

		if page.Exhausted {
			return nil
		}
		if opts.Sample {
			a.logger.Info("sample mode, stopping after first page")
			return nil
		}

		cursor = page.NextCursor
	}
}

// isAuthError reports whether the crawl failed because the API rejected the
// bearer token.
func isAuthError(err error) bool {
	var apiErr *errs.Error
	return errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeAuth
}

// finishCheckpoint records final counts. A fully exhausted crawl clears the
// checkpoint so the next run starts from the newest likes.
func (a *Archiver) finishCheckpoint(cp *checkpoint.Checkpoint, checkpoints *checkpoint.Manager, summary *Summary, opts Options) {
	if checkpoints == nil {
		return
	}

	if cp.LastCursor == "" && !opts.Sample {
		if err := checkpoints.Delete(); err != nil {
			a.logger.WithError(err).Warn("failed to clear completed checkpoint")
		}
		return
	}

	cp.TotalDownloaded += summary.Downloaded
	if err := checkpoints.Save(cp); err != nil {
		a.logger.WithError(err).Warn("failed to save final checkpoint")
	}
}
