package recorder

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/pkg/metrics"
	"github.com/Aidin1998/amlscreen/pkg/retry"
)

// QueueConfig sizes the persistence retry queue
type QueueConfig struct {
	Workers  int          `mapstructure:"workers"`
	Capacity int          `mapstructure:"capacity"`
	Retry    retry.Policy `mapstructure:"retry"`
}

// DefaultQueueConfig retries a write up to eight times over roughly a minute.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:  2,
		Capacity: 1024,
		Retry:    retry.Policy{MaxAttempts: 8, BaseDelay: 250 * time.Millisecond, MaxDelay: 15 * time.Second},
	}
}

type job struct {
	name string
	key  string
	run  func(ctx context.Context) error
}

// RetryQueue replays failed writes in the background with bounded attempts
type RetryQueue struct {
	config  QueueConfig
	logger  *zap.SugaredLogger
	jobs    chan job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewRetryQueue creates a queue; Start launches its workers.
func NewRetryQueue(config QueueConfig, logger *zap.SugaredLogger) *RetryQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Capacity <= 0 {
		config.Capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryQueue{
		config: config,
		logger: logger,
		jobs:   make(chan job, config.Capacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *RetryQueue) Start() {
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.processLoop(i)
	}
	q.logger.Infow("Persistence retry queue started", "workers", q.config.Workers, "capacity", q.config.Capacity)
}

// Enqueue schedules run for retry. It reports false when the queue is full or stopped.
func (q *RetryQueue) Enqueue(name, key string, run func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.PersistenceRetries.WithLabelValues("dropped").Inc()
		return false
	}
	q.pending.Add(1)
	select {
	case q.jobs <- job{name: name, key: key, run: run}:
		return true
	default:
		q.pending.Add(-1)
		metrics.PersistenceRetries.WithLabelValues("dropped").Inc()
		q.logger.Errorw("Persistence retry queue full, dropping write", "job", name, "key", key)
		return false
	}
}

// Pending is the number of queued or in-flight jobs.
func (q *RetryQueue) Pending() int64 {
	return q.pending.Load()
}

// Stop drains queued jobs until ctx ends, then abandons the rest.
func (q *RetryQueue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		<-done
	}
	q.cancel()
	q.logger.Infow("Persistence retry queue stopped", "abandoned", q.pending.Load())
}

func (q *RetryQueue) processLoop(worker int) {
	defer q.wg.Done()
	for j := range q.jobs {
		q.process(worker, j)
	}
}

func (q *RetryQueue) process(worker int, j job) {
	defer q.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			metrics.PersistenceRetries.WithLabelValues("dropped").Inc()
			q.logger.Errorw("Persistence job panic recovered", "job", j.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	err := q.config.Retry.Do(q.ctx, func(attempt int) error {
		if attempt > 0 {
			metrics.PersistenceRetries.WithLabelValues("retried").Inc()
		}
		return j.run(q.ctx)
	})
	if err != nil {
		metrics.PersistenceRetries.WithLabelValues("dropped").Inc()
		q.logger.Errorw("Persistence retries exhausted", "worker", worker, "job", j.name, "key", j.key, "error", err)
		return
	}
	metrics.PersistenceRetries.WithLabelValues("succeeded").Inc()
	q.logger.Debugw("Persistence retry succeeded", "worker", worker, "job", j.name, "key", j.key)
}
