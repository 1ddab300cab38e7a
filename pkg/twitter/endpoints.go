package twitter

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// BaseURL is the base URL for the Twitter API.
	BaseURL = "https://api.twitter.com"

	// MeEndpoint resolves the authenticated user.
	MeEndpoint = "/2/users/me"

	// DefaultPageSize is the default number of tweets per page.
	DefaultPageSize = 100

	// MaxPageSize is the API ceiling for the liked-tweets endpoint.
	MaxPageSize = 100
)

// Field sets requested on every liked-tweets page. The expansions pull the
// referenced media objects and author users into the response includes.
var (
	tweetFields = []string{"id", "text", "author_id", "created_at", "attachments", "entities"}
	expansions  = []string{"attachments.media_keys", "author_id"}
	mediaFields = []string{"media_key", "type", "url", "width", "height", "variants"}
	userFields  = []string{"id", "username"}
)

// GetMeURL constructs the URL for resolving the authenticated user.
func GetMeURL(baseURL string) string {
	return baseURL + MeEndpoint
}

// GetUserURL constructs the URL for a single-user lookup.
func GetUserURL(baseURL, userID string) string {
	params := url.Values{}
	params.Set("user.fields", strings.Join(userFields, ","))
	return fmt.Sprintf("%s/2/users/%s?%s", baseURL, userID, params.Encode())
}

// GetLikedTweetsURL constructs the URL for one page of a user's liked
// tweets. An empty paginationToken requests the first page.
func GetLikedTweetsURL(baseURL, userID, paginationToken string) string {
	return GetLikedTweetsURLWithLimit(baseURL, userID, paginationToken, DefaultPageSize)
}

// GetLikedTweetsURLWithLimit constructs the liked-tweets URL with a custom
// page size.
func GetLikedTweetsURLWithLimit(baseURL, userID, paginationToken string, limit int) string {
	if limit <= 0 {
		limit = DefaultPageSize
	} else if limit > MaxPageSize {
		limit = MaxPageSize
	}

	params := url.Values{}
	params.Set("tweet.fields", strings.Join(tweetFields, ","))
	params.Set("expansions", strings.Join(expansions, ","))
	params.Set("media.fields", strings.Join(mediaFields, ","))
	params.Set("user.fields", strings.Join(userFields, ","))
	params.Set("max_results", fmt.Sprintf("%d", limit))
	if paginationToken != "" {
		params.Set("pagination_token", paginationToken)
	}

	return fmt.Sprintf("%s/2/users/%s/liked_tweets?%s", baseURL, userID, params.Encode())
}
