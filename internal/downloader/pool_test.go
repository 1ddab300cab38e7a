package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
	"github.com/tommilligan/magpie-twitter-bot/pkg/ratelimit"
)

// MockFetcher records download attempts and fails for configured URLs.
type MockFetcher struct {
	failURLs    map[string]error
	contentType string
	delay       time.Duration
	counter     atomic.Int32
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{failURLs: make(map[string]error), contentType: "image/jpeg"}
}

func (m *MockFetcher) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	m.counter.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err, ok := m.failURLs[url]; ok {
		return nil, "", err
	}
	return []byte("mock media data"), m.contentType, nil
}

func (m *MockFetcher) FetchCount() int {
	return int(m.counter.Load())
}

// MockStore is an in-memory ledger and file store.
type MockStore struct {
	mu        sync.Mutex
	completed map[string]bool
	claimed   map[string]bool
	saved     []string
	saveError error
}

func NewMockStore() *MockStore {
	return &MockStore{
		completed: make(map[string]bool),
		claimed:   make(map[string]bool),
	}
}

func (m *MockStore) Claim(mediaKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed[mediaKey] || m.claimed[mediaKey] {
		return false
	}
	m.claimed[mediaKey] = true
	return true
}

func (m *MockStore) Fail(mediaKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, mediaKey)
}

func (m *MockStore) Commit(mediaKey, localPath string, byteSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[mediaKey] = true
	delete(m.claimed, mediaKey)
	return nil
}

func (m *MockStore) SaveMedia(data []byte, filename string) (string, error) {
	if m.saveError != nil {
		return "", m.saveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, filename)
	return filepath.Join("/out", filename), nil
}

func (m *MockStore) SavedFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saved...)
}

func (m *MockStore) IsCompleted(mediaKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[mediaKey]
}

func newTestPool(fetcher *MockFetcher, store *MockStore, workers int) *WorkerPool {
	limiter := ratelimit.NewTokenBucket(1000, time.Minute)
	return NewWorkerPool(workers, fetcher, store, limiter, logger.NewNopLogger())
}

func testJob(mediaKey string, urls ...string) Job {
	return Job{
		MediaKey:   mediaKey,
		TweetID:    "t1",
		Username:   "alice",
		CreatedAt:  time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC),
		Candidates: urls,
	}
}

func collectResults(t *testing.T, pool *WorkerPool, want int) []Result {
	t.Helper()

	var results []Result
	timeout := time.After(5 * time.Second)
	for len(results) < want {
		select {
		case result, ok := <-pool.Results():
			if !ok {
				return results
			}
			results = append(results, result)
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %d of %d", len(results), want)
		}
	}
	return results
}

func TestWorkerPoolDownloads(t *testing.T) {
	fetcher := NewMockFetcher()
	store := NewMockStore()
	pool := newTestPool(fetcher, store, 2)

	ctx := context.Background()
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := pool.Submit(ctx, testJob(fmt.Sprintf("3_%d", i), "https://cdn.example/a.jpg")); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	pool.Stop()

	results := collectResults(t, pool, 5)
	for _, result := range results {
		if result.Status != StatusDownloaded {
			t.Errorf("job %s: expected downloaded, got %v (%v)", result.Job.MediaKey, result.Status, result.Error)
		}
		if result.Size == 0 {
			t.Errorf("job %s: expected non-empty size", result.Job.MediaKey)
		}
	}
	if len(store.SavedFiles()) != 5 {
		t.Errorf("expected 5 saved files, got %d", len(store.SavedFiles()))
	}
}

func TestWorkerPoolSkipsDownloadedMedia(t *testing.T) {
	fetcher := NewMockFetcher()
	store := NewMockStore()
	store.completed["3_done"] = true
	pool := newTestPool(fetcher, store, 1)

	ctx := context.Background()
	pool.Start(ctx)

	if err := pool.Submit(ctx, testJob("3_done", "https://cdn.example/a.jpg")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Stop()

	results := collectResults(t, pool, 1)
	if results[0].Status != StatusSkipped {
		t.Errorf("expected skipped, got %v", results[0].Status)
	}
	if fetcher.FetchCount() != 0 {
		t.Errorf("expected no fetches for a downloaded key, got %d", fetcher.FetchCount())
	}
}

func TestWorkerPoolCandidateFallback(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.failURLs["https://cdn.example/first.mp4"] = errors.New("410 gone")
	fetcher.failURLs["https://cdn.example/second.mp4"] = errors.New("connection reset")
	store := NewMockStore()
	pool := newTestPool(fetcher, store, 1)

	ctx := context.Background()
	pool.Start(ctx)

	job := testJob("7_1",
		"https://cdn.example/first.mp4",
		"https://cdn.example/second.mp4",
		"https://cdn.example/third.mp4",
	)
	if err := pool.Submit(ctx, job); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Stop()

	results := collectResults(t, pool, 1)
	if results[0].Status != StatusDownloaded {
		t.Fatalf("expected downloaded, got %v (%v)", results[0].Status, results[0].Error)
	}
	if fetcher.FetchCount() != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", fetcher.FetchCount())
	}
	if len(store.SavedFiles()) != 1 {
		t.Errorf("expected exactly one artifact, got %d", len(store.SavedFiles()))
	}
}

func TestWorkerPoolAllCandidatesFail(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.failURLs["https://cdn.example/a.jpg"] = errors.New("410 gone")
	fetcher.failURLs["https://cdn.example/b.jpg"] = errors.New("404 not found")
	store := NewMockStore()
	pool := newTestPool(fetcher, store, 1)

	ctx := context.Background()
	pool.Start(ctx)

	if err := pool.Submit(ctx, testJob("3_bad", "https://cdn.example/a.jpg", "https://cdn.example/b.jpg")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Stop()

	results := collectResults(t, pool, 1)
	if results[0].Status != StatusFailed {
		t.Errorf("expected failed, got %v", results[0].Status)
	}
	if results[0].Error == nil {
		t.Error("expected an error on a failed result")
	}
	if store.IsCompleted("3_bad") {
		t.Error("failed media must not be committed")
	}
	// Key must be claimable again for a later run.
	if !store.Claim("3_bad") {
		t.Error("failed media should be reclaimable")
	}
}

func TestWorkerPoolSaveFailureReleasesClaim(t *testing.T) {
	fetcher := NewMockFetcher()
	store := NewMockStore()
	store.saveError = errors.New("disk full")
	pool := newTestPool(fetcher, store, 1)

	ctx := context.Background()
	pool.Start(ctx)

	if err := pool.Submit(ctx, testJob("3_1", "https://cdn.example/a.jpg")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Stop()

	results := collectResults(t, pool, 1)
	if results[0].Status != StatusFailed {
		t.Errorf("expected failed, got %v", results[0].Status)
	}
	if !store.Claim("3_1") {
		t.Error("claim should be released after save failure")
	}
}

func TestWorkerPoolFilenameUsesContentType(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.contentType = "video/mp4"
	store := NewMockStore()
	pool := newTestPool(fetcher, store, 1)

	ctx := context.Background()
	pool.Start(ctx)

	if err := pool.Submit(ctx, testJob("7_9", "https://cdn.example/clip")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pool.Stop()

	collectResults(t, pool, 1)
	saved := store.SavedFiles()
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved file, got %d", len(saved))
	}
	want := "2023-05-01T12:00:00Z alice t1 7_9.mp4"
	if saved[0] != want {
		t.Errorf("expected filename %q, got %q", want, saved[0])
	}
}

func TestWorkerPoolContextCancellation(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.delay = 50 * time.Millisecond
	store := NewMockStore()
	pool := newTestPool(fetcher, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 10; i++ {
		if err := pool.Submit(ctx, testJob(fmt.Sprintf("3_%d", i), "https://cdn.example/a.jpg")); err != nil {
			break
		}
	}
	cancel()
	pool.Stop()

	// Result channel must close; exact delivered count depends on timing.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-pool.Results():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("result channel did not close after cancellation")
		}
	}
}
