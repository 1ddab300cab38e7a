package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

func newTestClient(serverURL string) *Client {
	client := NewClient(5*time.Second, logger.NewNopLogger())
	client.SetBaseURL(serverURL)
	return client
}

func TestGetMe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, MeEndpoint, r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"12345","username":"testuser"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.SetBearerToken("test-token")

	user, err := client.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12345", user.ID)
	assert.Equal(t, "testuser", user.Username)
}

func TestGetMeEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GetMe(context.Background())
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
}

func TestGetLikedTweets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/users/12345/liked_tweets", r.URL.Path)
		query := r.URL.Query()
		assert.Contains(t, query.Get("expansions"), "attachments.media_keys")
		assert.Contains(t, query.Get("media.fields"), "variants")
		assert.Empty(t, query.Get("pagination_token"))

		w.Write([]byte(`{
			"data": [{"id": "t1", "text": "hello", "author_id": "u1",
				"attachments": {"media_keys": ["3_100"]}}],
			"includes": {
				"media": [{"media_key": "3_100", "type": "photo", "url": "https://pbs.example/100.jpg"}],
				"users": [{"id": "u1", "username": "alice"}]
			},
			"meta": {"result_count": 1, "next_token": "cursor-2"}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	page, err := client.GetLikedTweets(context.Background(), "12345", "")
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "t1", page.Data[0].ID)
	assert.Equal(t, []string{"3_100"}, page.Data[0].Attachments.MediaKeys)
	require.NotNil(t, page.Includes)
	require.Len(t, page.Includes.Media, 1)
	assert.Equal(t, MediaTypePhoto, page.Includes.Media[0].Type)
	assert.Equal(t, "cursor-2", page.Meta.NextToken)
}

func TestGetLikedTweetsPassesCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cursor-2", r.URL.Query().Get("pagination_token"))
		w.Write([]byte(`{"data": [], "meta": {"result_count": 0}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	page, err := client.GetLikedTweets(context.Background(), "12345", "cursor-2")
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Empty(t, page.Meta.NextToken)
}

func TestCheckResponseStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantType   errs.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, errs.ErrorTypeAuth},
		{"forbidden", http.StatusForbidden, errs.ErrorTypeAuth},
		{"not found", http.StatusNotFound, errs.ErrorTypeNotFound},
		{"rate limited", http.StatusTooManyRequests, errs.ErrorTypeRateLimit},
		{"server error", http.StatusInternalServerError, errs.ErrorTypeServerError},
		{"bad gateway", http.StatusBadGateway, errs.ErrorTypeServerError},
		{"teapot", http.StatusTeapot, errs.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := newTestClient(server.URL)

			var out map[string]interface{}
			err := client.GetJSON(context.Background(), server.URL+"/anything", &out)
			require.Error(t, err)

			var apiErr *errs.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.statusCode, apiErr.Code)
		})
	}
}

func TestRateLimitRetryAfterHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL+"/limited", &out)
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeRateLimit, apiErr.Type)
	assert.Equal(t, 42*time.Second, apiErr.RetryAfter)
	assert.True(t, errs.IsRetryable(apiErr.Type))
}

func TestRateLimitResetHeader(t *testing.T) {
	reset := time.Now().Add(90 * time.Second).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL+"/limited", &out)
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Greater(t, apiErr.RetryAfter, 80*time.Second)
	assert.LessOrEqual(t, apiErr.RetryAfter, 90*time.Second)
}

func TestGetJSONInvalidBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL+"/bad", &out)
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
}

func TestDownloadMedia(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.SetBearerToken("should-not-be-sent")

	data, contentType, err := client.DownloadMedia(context.Background(), server.URL+"/media/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/jpeg", contentType)
}

func TestDownloadMediaNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, _, err := client.DownloadMedia(context.Background(), server.URL+"/gone.jpg")
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeDownload, apiErr.Type)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out map[string]interface{}
	err := client.GetJSON(ctx, server.URL+"/slow", &out)
	require.Error(t, err)
}
