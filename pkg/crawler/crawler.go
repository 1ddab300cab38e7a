// Package crawler walks the authenticated user's liked tweets page by page
// and resolves each tweet's downloadable media.
package crawler

import (
	"context"
	"errors"
	"time"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
	"github.com/tommilligan/magpie-twitter-bot/pkg/ratelimit"
	"github.com/tommilligan/magpie-twitter-bot/pkg/retry"
	"github.com/tommilligan/magpie-twitter-bot/pkg/twitter"
)

const (
	// defaultRateLimitDelay is used when a 429 response carries no
	// usable backoff hint.
	defaultRateLimitDelay = 60 * time.Second
)

// Page is one fetched page of liked posts. Exhausted is set when the API
// reports no further cursor.
type Page struct {
	Posts      []LikedPost
	NextCursor string
	Exhausted  bool
}

// Crawler pages through liked tweets. It is not safe for concurrent use;
// the archiver drives it from a single goroutine.
type Crawler struct {
	client     *twitter.Client
	limiter    ratelimit.Limiter
	logger     logger.Logger
	maxRetries int

	// usernames caches author id -> username across pages so authors
	// missing from a page's includes cost at most one extra lookup.
	usernames map[string]string
}

// New creates a crawler. maxRetries bounds transient-failure retries per
// page; rate-limit waits are not counted against it.
func New(client *twitter.Client, limiter ratelimit.Limiter, maxRetries int, log logger.Logger) *Crawler {
	if log == nil {
		log = logger.GetLogger()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Crawler{
		client:     client,
		limiter:    limiter,
		logger:     log,
		maxRetries: maxRetries,
		usernames:  make(map[string]string),
	}
}

// ResolveSelf identifies the authenticated user whose likes will be crawled.
func (c *Crawler) ResolveSelf(ctx context.Context) (*twitter.User, error) {
	user, err := c.client.GetMe(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.InfoWithFields("resolved authenticated user", map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	})
	c.usernames[user.ID] = user.Username

	return user, nil
}

// FetchPage fetches and resolves one page of liked posts. Rate-limit
// responses are waited out and the same cursor refetched; transient network
// and server failures are retried with backoff up to the configured ceiling.
// The cursor passed in is never advanced on failure.
func (c *Crawler) FetchPage(ctx context.Context, userID, cursor string) (*Page, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		response, err := retry.DoWithResult(func() (*twitter.TweetsResponse, error) {
			return c.client.GetLikedTweets(ctx, userID, cursor)
		}, &retry.Config{
			MaxAttempts: c.maxRetries,
			Backoff:     retry.DefaultExponentialBackoff(),
			RetryIf:     transientNotRateLimit,
			Context:     ctx,
			Logger:      c.logger,
		})

		if err != nil {
			if delay, limited := rateLimitDelay(err); limited {
				c.logger.WarnWithFields("rate limited, waiting before refetching page", map[string]interface{}{
					"cursor":   cursor,
					"delay_ms": delay.Milliseconds(),
				})
				if err := retry.Wait(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		return c.buildPage(ctx, response)
	}
}

// transientNotRateLimit retries the failures the taxonomy marks transient,
// except rate limits, which FetchPage handles with the provider's own hint.
func transientNotRateLimit(err error) bool {
	var apiErr *errs.Error
	if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeRateLimit {
		return false
	}
	return retry.DefaultRetryIf(err)
}

// rateLimitDelay extracts the backoff for a rate-limit error, falling back
// to a fixed delay when the response carried no hint.
func rateLimitDelay(err error) (time.Duration, bool) {
	var apiErr *errs.Error
	if !errors.As(err, &apiErr) || apiErr.Type != errs.ErrorTypeRateLimit {
		return 0, false
	}
	if apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return defaultRateLimitDelay, true
}

func (c *Crawler) buildPage(ctx context.Context, response *twitter.TweetsResponse) (*Page, error) {
	page := &Page{}
	if response.Meta != nil {
		page.NextCursor = response.Meta.NextToken
	}
	page.Exhausted = page.NextCursor == ""

	mediaByKey := make(map[string]twitter.Media)
	if response.Includes != nil {
		for _, media := range response.Includes.Media {
			mediaByKey[media.MediaKey] = media
		}
		for _, user := range response.Includes.Users {
			c.usernames[user.ID] = user.Username
		}
	}

	for i := range response.Data {
		tweet := &response.Data[i]

		author, err := c.resolveAuthor(ctx, tweet.AuthorID)
		if err != nil {
			return nil, err
		}

		page.Posts = append(page.Posts, LikedPost{
			ID:        tweet.ID,
			CreatedAt: tweet.CreatedAt,
			Author:    author,
			Media:     resolveMedia(tweet, mediaByKey),
		})
	}

	c.logger.DebugWithFields("page resolved", map[string]interface{}{
		"posts":       len(page.Posts),
		"next_cursor": page.NextCursor,
		"exhausted":   page.Exhausted,
	})

	return page, nil
}

// resolveAuthor returns the username for an author id, looking it up once
// and caching the result when the page includes did not carry it.
func (c *Crawler) resolveAuthor(ctx context.Context, authorID string) (string, error) {
	if authorID == "" {
		return "", nil
	}
	if username, ok := c.usernames[authorID]; ok {
		return username, nil
	}

	user, err := c.client.GetUser(ctx, authorID)
	if err != nil {
		return "", err
	}

	c.usernames[authorID] = user.Username
	return user.Username, nil
}
