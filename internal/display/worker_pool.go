package display

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RenderJob represents a render request to be processed by a worker
type RenderJob struct {
	Renderer *Renderer
	Template string
	Context  map[string]any
	Result   chan *RenderResult
}

// RenderResult contains the result of a render job
type RenderResult struct {
	Bitmap []byte
	Error  error
}

// WorkerPool bounds the number of renders running at once
type WorkerPool struct {
	workers  int
	jobQueue chan *RenderJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4 // default to 4 workers
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan *RenderJob, workers*2), // buffer for 2x workers
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting render worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the worker pool
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping render worker pool")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("Render worker pool stopped")
}

// Submit queues a render and waits for its bitmap
func (wp *WorkerPool) Submit(ctx context.Context, r *Renderer, template string, rc map[string]any) ([]byte, error) {
	resultChan := make(chan *RenderResult, 1)

	job := &RenderJob{
		Renderer: r,
		Template: template,
		Context:  rc,
		Result:   resultChan,
	}

	select {
	case wp.jobQueue <- job:
		// Job submitted
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, fmt.Errorf("worker pool is shutting down")
	}

	// Wait for result
	select {
	case result := <-resultChan:
		return result.Bitmap, result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, fmt.Errorf("worker pool is shutting down")
	}
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Render worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.jobQueue:
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Render worker stopping (context cancelled)", zap.Int("worker_id", id))
			return
		}
	}
}

// processJob handles a single render job
func (wp *WorkerPool) processJob(workerID int, job *RenderJob) {
	wp.logger.Debug("Worker processing job",
		zap.Int("worker_id", workerID),
		zap.String("template", job.Template))

	bitmap, err := job.Renderer.Render(job.Template, job.Context)

	// Result is buffered, so this never blocks even if the submitter left
	job.Result <- &RenderResult{
		Bitmap: bitmap,
		Error:  err,
	}

	if err != nil {
		wp.logger.Debug("Worker completed job with error",
			zap.Int("worker_id", workerID),
			zap.String("template", job.Template),
			zap.Error(err))
	} else {
		wp.logger.Debug("Worker completed job successfully",
			zap.Int("worker_id", workerID),
			zap.String("template", job.Template),
			zap.Int("output_size", len(bitmap)))
	}
}
