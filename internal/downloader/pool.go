// Package downloader runs the concurrent media download workers. Each job
// carries the candidate URLs for one media item; workers claim the item,
// fetch the first candidate that works, and commit the result.
package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
	"github.com/tommilligan/magpie-twitter-bot/pkg/ratelimit"
	"github.com/tommilligan/magpie-twitter-bot/pkg/storage"
)

// Job is one media item to download. Candidates are tried in order until
// one succeeds.
type Job struct {
	MediaKey   string
	TweetID    string
	Username   string
	CreatedAt  time.Time
	Candidates []string
}

// Status classifies a job outcome.
type Status int

const (
	// StatusDownloaded means a new file was written.
	StatusDownloaded Status = iota
	// StatusSkipped means the item was already downloaded or claimed.
	StatusSkipped
	// StatusFailed means every candidate failed or the write failed.
	StatusFailed
)

// Result is the outcome of one download job.
type Result struct {
	Job       Job
	Status    Status
	LocalPath string
	Size      int
	Error     error
	Duration  time.Duration
}

// MediaFetcher fetches media bytes from a URL.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// MediaStore is the ledger and file store the workers write through.
type MediaStore interface {
	Claim(mediaKey string) bool
	Fail(mediaKey string)
	Commit(mediaKey, localPath string, byteSize int64) error
	SaveMedia(data []byte, filename string) (string, error)
}

// WorkerPool manages concurrent download workers.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	done        chan struct{}
	fetcher     MediaFetcher
	store       MediaStore
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a pool of numWorkers download workers.
func NewWorkerPool(
	numWorkers int,
	fetcher MediaFetcher,
	store MediaStore,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		done:        make(chan struct{}),
		fetcher:     fetcher,
		store:       store,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.InfoWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	go func() {
		defer close(wp.resultQueue)

		workerDone := make(chan struct{})
		for i := 0; i < wp.numWorkers; i++ {
			go func(id int) {
				defer func() { workerDone <- struct{}{} }()
				wp.worker(ctx, id)
			}(i)
		}
		for i := 0; i < wp.numWorkers; i++ {
			<-workerDone
		}
	}()
}

// Stop signals that no more jobs will be submitted. Workers drain the queue
// and the result channel closes when they finish.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
}

// Submit queues a job. It fails when the pool has been stopped via ctx.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutting down: %w", ctx.Err())
	}
}

// Results returns the channel download outcomes arrive on. It is closed
// after Stop once all workers have finished.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// QueueSize returns the current number of queued jobs.
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.DebugWithFields("worker started", map[string]interface{}{
		"worker_id": id,
	})

	for job := range wp.jobQueue {
		select {
		case <-ctx.Done():
			wp.logger.DebugWithFields("worker stopping, context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		result := wp.processJob(ctx, job, id)

		select {
		case wp.resultQueue <- result:
		case <-ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(ctx context.Context, job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job, Status: StatusFailed}

	if !wp.store.Claim(job.MediaKey) {
		result.Status = StatusSkipped
		result.Duration = time.Since(start)
		wp.logger.DebugWithFields("media already downloaded, skipping", map[string]interface{}{
			"worker_id": workerID,
			"media_key": job.MediaKey,
		})
		return result
	}

	if err := wp.rateLimiter.Wait(ctx); err != nil {
		wp.store.Fail(job.MediaKey)
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	data, contentType, sourceURL, err := wp.fetchFirstCandidate(ctx, job, workerID)
	if err != nil {
		wp.store.Fail(job.MediaKey)
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	extension := storage.ExtensionFor(contentType, sourceURL)
	filename := storage.Filename(job.CreatedAt, job.Username, job.TweetID, job.MediaKey, extension)

	localPath, err := wp.store.SaveMedia(data, filename)
	if err != nil {
		wp.store.Fail(job.MediaKey)
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)
		wp.logger.ErrorWithFields("worker failed to save media", map[string]interface{}{
			"worker_id": workerID,
			"media_key": job.MediaKey,
			"error":     err.Error(),
		})
		return result
	}

	if err := wp.store.Commit(job.MediaKey, localPath, int64(len(data))); err != nil {
		result.Error = fmt.Errorf("ledger commit failed: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusDownloaded
	result.LocalPath = localPath
	result.Size = len(data)
	result.Duration = time.Since(start)

	wp.logger.DebugWithFields("worker completed job", map[string]interface{}{
		"worker_id": workerID,
		"media_key": job.MediaKey,
		"size":      result.Size,
		"duration":  result.Duration,
	})

	return result
}

// fetchFirstCandidate tries each candidate URL in order and returns the
// bytes of the first success along with the URL it came from.
func (wp *WorkerPool) fetchFirstCandidate(ctx context.Context, job Job, workerID int) ([]byte, string, string, error) {
	if len(job.Candidates) == 0 {
		return nil, "", "", fmt.Errorf("media %s has no candidate URLs", job.MediaKey)
	}

	var lastErr error
	for i, candidateURL := range job.Candidates {
		data, contentType, err := wp.fetcher.DownloadMedia(ctx, candidateURL)
		if err == nil {
			return data, contentType, candidateURL, nil
		}
		lastErr = err

		wp.logger.WarnWithFields("candidate download failed", map[string]interface{}{
			"worker_id": workerID,
			"media_key": job.MediaKey,
			"candidate": i,
			"error":     err.Error(),
		})

		if ctx.Err() != nil {
			return nil, "", "", ctx.Err()
		}
	}

	return nil, "", "", fmt.Errorf("all %d candidates failed for media %s: %w",
		len(job.Candidates), job.MediaKey, lastErr)
}
