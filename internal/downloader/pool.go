package downloader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coursedump/pkg/logger"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/remote"
)

// Job is one attachment of a leaf
type Job struct {
	// Index orders the results of a batch
	Index int
	URL   string
	// Name replaces the name reported by the server when set
	Name string
}

// Result is the outcome of a Job
type Result struct {
	Job      Job
	File     remote.File
	Err      error
	Duration time.Duration
}

// Fetcher downloads a single file
type Fetcher interface {
	Download(ctx context.Context, locator string) (remote.File, error)
}

// WorkerPool runs downloads on a fixed number of workers. Every worker
// waits on the same limiter before each request.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     Fetcher
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher Fetcher,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if numWorkers < 1 {
		numWorkers = 1
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting download workers", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for in-flight jobs and closes Results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Submit queues a job. It fails once the pool's context is done.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("download pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the channel results are delivered on
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// GetQueueSize returns the number of queued jobs
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			continue
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
		}
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if err := wp.rateLimiter.Wait(wp.ctx); err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	file, err := wp.fetcher.Download(wp.ctx, job.URL)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = fmt.Errorf("download failed: %w", err)
		wp.logger.WarnWithFields("Attachment download failed", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.URL,
			"error":     err.Error(),
		})
		return result
	}

	if job.Name != "" {
		file.Name = job.Name
	}
	result.File = file

	wp.logger.DebugWithFields("Attachment downloaded", map[string]interface{}{
		"worker_id": workerID,
		"name":      file.Name,
		"size":      len(file.Content),
		"duration":  result.Duration,
	})
	return result
}

// DownloadAll fetches every job with at most workers requests in flight and
// returns the results ordered by Job.Index. The error is non-nil only when
// ctx ended before every job ran.
func DownloadAll(ctx context.Context, fetcher Fetcher, limiter ratelimit.Limiter, workers int, jobs []Job, log logger.Logger) ([]Result, error) {
	if len(jobs) == 0 {
		return nil, ctx.Err()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	pool := NewWorkerPool(ctx, workers, fetcher, limiter, log)
	pool.Start()

	go func() {
		defer pool.Stop()
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	results := make([]Result, 0, len(jobs))
	for r := range pool.Results() {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Job.Index < results[j].Job.Index })

	if len(results) < len(jobs) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	return results, nil
}
