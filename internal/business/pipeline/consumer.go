package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/pkg/metrics"
)

// Consumer is the in-process stand-in for the external event broker: a
// bounded queue of document/uploaded jobs drained by a worker pool, with
// at-least-once semantics and per-job retries. Step memoization in the
// pipeline keeps redelivery cheap.
type Consumer struct {
	pipeline *Pipeline
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics

	workers    int
	retries    int
	retryDelay time.Duration

	jobQueue chan UploadedEvent
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// ConsumerConfig tunes the worker pool.
type ConsumerConfig struct {
	Workers    int           // default 4
	QueueSize  int           // default 256
	Retries    int           // attempts per job, default 3
	RetryDelay time.Duration // base delay between job attempts, default 2s
}

// NewConsumer builds the consumer around a pipeline.
func NewConsumer(p *Pipeline, cfg ConsumerConfig, logger *slog.Logger, m *metrics.PipelineMetrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Consumer{
		pipeline:   p,
		logger:     logger.With("component", "pipeline_consumer"),
		metrics:    m,
		workers:    cfg.Workers,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		jobQueue:   make(chan UploadedEvent, cfg.QueueSize),
		stopChan:   make(chan struct{}),
	}
}

// Enqueue publishes a document/uploaded job. Non-blocking: a saturated
// queue rejects the job so the caller can answer with backpressure.
func (c *Consumer) Enqueue(job UploadedEvent) error {
	select {
	case c.jobQueue <- job:
		if c.metrics != nil {
			c.metrics.QueueDepth.Set(float64(len(c.jobQueue)))
		}
		c.logger.Debug("job enqueued", "document_id", job.DocumentID)
		return nil
	default:
		return core.NewError(core.KindRateLimit, "processing queue is full", nil)
	}
}

// Start launches the worker pool.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer already running")
	}
	c.running = true

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	c.logger.Info("pipeline consumer started", "workers", c.workers)
	return nil
}

// Stop drains the workers, waiting up to the context deadline.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("pipeline consumer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("pipeline consumer stop timed out")
		return ctx.Err()
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	logger := c.logger.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case job := <-c.jobQueue:
			if c.metrics != nil {
				c.metrics.QueueDepth.Set(float64(len(c.jobQueue)))
			}
			c.processJob(ctx, logger, job)
		}
	}
}

// processJob runs one job with broker-style retries. Completed steps are
// memoized, so a retry resumes at the failing stage.
func (c *Consumer) processJob(ctx context.Context, logger *slog.Logger, job UploadedEvent) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		err := c.pipeline.Process(ctx, job)
		if err == nil {
			return
		}
		lastErr = err
		logger.Warn("pipeline run failed",
			"document_id", job.DocumentID,
			"attempt", attempt,
			"max_attempts", c.retries,
			"error", err,
		)
		if attempt < c.retries {
			select {
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			}
		}
	}

	logger.Error("pipeline run exhausted retries, failing document",
		"document_id", job.DocumentID, "error", lastErr)
	c.pipeline.Fail(ctx, job.DocumentID, lastErr)
}
