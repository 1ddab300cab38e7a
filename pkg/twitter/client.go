// Package twitter is a minimal read-only client for the parts of the Twitter
// API v2 the archiver touches: resolving the authenticated user, paging
// through liked tweets, and fetching media bytes.
package twitter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

// Client talks to the Twitter API with a bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     logger.Logger

	mu     sync.RWMutex
	bearer string
}

// NewClient creates a client with the given per-request timeout.
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    BaseURL,
		logger:     log,
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// BaseURL returns the configured API base URL.
func (c *Client) GetBaseURL() string {
	return c.baseURL
}

// SetBearerToken installs the access token presented on API requests. The
// crawler replaces it after a refresh.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearer = token
}

func (c *Client) bearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer
}

// doRequest performs an HTTP request with auth headers and logging.
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	if bearer := c.bearerToken(); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// Get performs a GET request to the given URL.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}

	return c.doRequest(req)
}

// GetJSON performs a GET request and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewHTTP(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.NewHTTP(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}

	return nil
}

// checkResponseStatus maps HTTP status codes onto the error taxonomy.
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewHTTP(errs.ErrorTypeAuth, resp.StatusCode, "authentication required")
	case http.StatusNotFound:
		return errs.NewHTTP(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp)
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status":      resp.StatusCode,
			"url":         resp.Request.URL.String(),
			"retry_after": retryAfter,
		})
		err := errs.NewHTTP(errs.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded")
		err.RetryAfter = retryAfter
		return err
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.ErrorWithFields("server error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewHTTP(errs.ErrorTypeServerError, resp.StatusCode, "server error")
	default:
		if resp.StatusCode >= 400 {
			return errs.NewHTTP(errs.ErrorTypeUnknown, resp.StatusCode, "unexpected status code: %d", resp.StatusCode)
		}
		return nil
	}
}

// parseRetryAfter reads the provider's backoff hint from a 429 response:
// Retry-After in seconds, or an x-rate-limit-reset epoch timestamp.
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	if v := resp.Header.Get("x-rate-limit-reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if until := time.Until(time.Unix(epoch, 0)); until > 0 {
				return until
			}
		}
	}

	return 0
}

// GetMe resolves the authenticated user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var response UserResponse
	if err := c.GetJSON(ctx, GetMeURL(c.baseURL), &response); err != nil {
		return nil, err
	}
	if response.Data.ID == "" {
		return nil, errs.New(errs.ErrorTypeParsing, "user lookup returned no id")
	}
	return &response.Data, nil
}

// GetUser looks up a single user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var response UserResponse
	if err := c.GetJSON(ctx, GetUserURL(c.baseURL, userID), &response); err != nil {
		return nil, err
	}
	return &response.Data, nil
}

// GetLikedTweets fetches one page of the user's liked tweets.
func (c *Client) GetLikedTweets(ctx context.Context, userID, paginationToken string) (*TweetsResponse, error) {
	url := GetLikedTweetsURL(c.baseURL, userID, paginationToken)

	c.logger.DebugWithFields("fetching liked tweets page", map[string]interface{}{
		"user_id": userID,
		"cursor":  paginationToken,
	})

	var response TweetsResponse
	if err := c.GetJSON(ctx, url, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// DownloadMedia fetches media bytes from a CDN URL, returning the bytes and
// the response content type for extension inference.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", errs.New(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}

	// Media CDN URLs are pre-signed; no bearer token.
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", errs.New(errs.ErrorTypeNetwork, "network error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errs.NewHTTP(errs.ErrorTypeDownload, resp.StatusCode, "media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errs.New(errs.ErrorTypeNetwork, "failed to read media body: %v", err)
	}

	c.logger.DebugWithFields("media downloaded", map[string]interface{}{
		"url":      mediaURL,
		"size":     len(data),
		"duration": time.Since(start),
	})

	return data, resp.Header.Get("Content-Type"), nil
}
