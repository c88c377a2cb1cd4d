package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/redis"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

// ErrJobBusy is returned when another worker holds the job's lock
var ErrJobBusy = errors.New("job is locked by another worker")

const (
	// DefaultBatchSize is the default number of messages to consume at once
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxAttempts is how often a page is tried before it is dead-lettered
	DefaultMaxAttempts = 3

	// DefaultClaimInterval is how often to claim stale pending messages
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimMinIdle is the minimum idle time before claiming a message
	DefaultClaimMinIdle = 60 * time.Second

	// DefaultLockTTL bounds how long one page may hold its job
	DefaultLockTTL = 10 * time.Minute

	DLQReasonMaxAttempts = "max_attempts"
)

// QueueConfig holds configuration for the continuation queue
type QueueConfig struct {
	Stream        string
	ConsumerGroup string
	// Consumer name (unique per instance)
	ConsumerName string
	BatchSize    int64
	BlockTimeout time.Duration
	MaxAttempts  int
	// How often to claim messages another consumer left pending
	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration
	WorkerCount   int
	LockTTL       time.Duration
}

// DefaultQueueConfig returns the default queue configuration
func DefaultQueueConfig() QueueConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return QueueConfig{
		Stream:        "lichen:jobs",
		ConsumerGroup: "lichen-workers",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxAttempts:   DefaultMaxAttempts,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   1,
		LockTTL:       DefaultLockTTL,
	}
}

// StreamClient is the subset of redis.Streams the queue uses
type StreamClient interface {
	Publish(ctx context.Context, stream string, msg *redis.PageMessage) (string, error)
	CreateConsumerGroup(ctx context.Context, stream, group string) error
	Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redis.StreamMessage, error)
}

// DeadLetters receives messages that exhausted their attempts
type DeadLetters interface {
	Add(ctx context.Context, page *redis.DeadPage) (string, error)
}

// Locker grants a single logical worker per job
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Releaser, error)
}

type Releaser interface {
	Release(ctx context.Context) error
}

// RedisLocker adapts redis.Locker to Locker
type RedisLocker struct {
	*redis.Locker
}

func (l RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Releaser, error) {
	lock, err := l.Locker.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// PageRunner runs one page of a job and fails jobs whose pages are given up on
type PageRunner interface {
	RunPage(ctx context.Context, id uuid.UUID, page int) (int, bool, error)
	FailPage(ctx context.Context, id uuid.UUID, page int, cause error) error
}

// Queue consumes job continuation messages from a Redis stream. Each message runs one page and
// publishes the next page when the job is not finished.
type Queue struct {
	streams StreamClient
	dlq     DeadLetters
	locker  Locker
	runner  PageRunner
	config  QueueConfig
	logger  ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	msgCh    chan redis.StreamMessage

	running bool
	mu      sync.RWMutex
}

func NewQueue(streams StreamClient, dlq DeadLetters, locker Locker, runner PageRunner, config QueueConfig, logger ectologger.Logger) *Queue {
	defaults := DefaultQueueConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaults.ConsumerGroup
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return &Queue{
		streams:  streams,
		dlq:      dlq,
		locker:   locker,
		runner:   runner,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		msgCh:    make(chan redis.StreamMessage, config.BatchSize*2),
	}
}

// Enqueue publishes the first page of a job
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID, page int) (string, error) {
	return q.streams.Publish(ctx, q.config.Stream, &redis.PageMessage{JobID: jobID, Page: page})
}

// Start starts the consumer, claimer and workers
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("queue already running")
	}
	q.running = true
	q.mu.Unlock()

	q.logger.WithContext(ctx).Infof("Starting job queue: stream=%s group=%s consumer=%s workers=%d",
		q.config.Stream, q.config.ConsumerGroup, q.config.ConsumerName, q.config.WorkerCount)

	if err := q.streams.CreateConsumerGroup(ctx, q.config.Stream, q.config.ConsumerGroup); err != nil {
		q.logger.WithContext(ctx).WithError(err).Error("Failed to create consumer group")
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < q.config.WorkerCount; i++ {
		wg.Add(1)
		go q.worker(ctx, &wg, i)
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go q.consumeLoop(ctx, &loops)
	go q.claimLoop(ctx, &loops)

	go func() {
		<-q.stopCh
		loops.Wait()
		close(q.msgCh)
		wg.Wait()
		close(q.stoppedC)
	}()

	return nil
}

// Stop stops the queue and waits for in-flight pages
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.mu.Unlock()

	q.logger.WithContext(ctx).Info("Stopping job queue...")
	close(q.stopCh)

	select {
	case <-q.stoppedC:
		q.logger.WithContext(ctx).Info("Job queue stopped gracefully")
	case <-ctx.Done():
		q.logger.WithContext(ctx).Warn("Job queue shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the queue is running
func (q *Queue) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

func (q *Queue) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		messages, err := q.streams.Consume(ctx, q.config.Stream, q.config.ConsumerGroup, q.config.ConsumerName,
			q.config.BatchSize, q.config.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			select {
			case q.msgCh <- msg:
			case <-q.stopCh:
				return
			}
		}
	}
}

func (q *Queue) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(q.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			claimed, err := q.streams.ClaimStale(ctx, q.config.Stream, q.config.ConsumerGroup, q.config.ConsumerName,
				q.config.ClaimMinIdle, q.config.BatchSize)
			if err != nil {
				q.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
				continue
			}
			if len(claimed) > 0 {
				q.logger.WithContext(ctx).Infof("Claimed %d stale pending messages", len(claimed))
			}
			for _, msg := range claimed {
				select {
				case q.msgCh <- msg:
				case <-q.stopCh:
					return
				}
			}
		}
	}
}

func (q *Queue) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	q.logger.WithContext(ctx).Debugf("Worker %d started", id)
	for msg := range q.msgCh {
		if err := q.Handle(ctx, msg); err != nil {
			q.logger.WithContext(ctx).WithError(err).Warnf("Message %s left pending for retry", msg.ID)
		}
	}
	q.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

// Handle runs the page a message names. A returned error means the message was not
// acknowledged and will be claimed again.
func (q *Queue) Handle(ctx context.Context, msg redis.StreamMessage) error {
	ctx, span := tracing.StartSpan(ctx, "Queue.Handle")
	defer span.End()

	metrics.QueueMessagesInFlight.Inc()
	defer metrics.QueueMessagesInFlight.Dec()

	page := msg.Message
	ctx = lichenctx.SetRequestID(ctx, page.ID)
	ctx = lichenctx.SetJobID(ctx, page.JobID.String())

	if page.JobID == uuid.Nil {
		q.logger.WithContext(ctx).Warnf("Dropping message %s without a job id", msg.ID)
		metrics.QueueMessagesProcessed.WithLabelValues("invalid").Inc()
		return q.ack(ctx, msg)
	}

	lock, err := q.locker.Acquire(ctx, page.JobID.String(), q.config.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			metrics.QueueMessagesProcessed.WithLabelValues("busy").Inc()
			return fmt.Errorf("%w: %s", ErrJobBusy, page.JobID)
		}
		return err
	}

	next, done, runErr := q.runner.RunPage(ctx, page.JobID, page.Page)

	if err := lock.Release(ctx); err != nil {
		q.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock of job %s", page.JobID)
	}

	switch {
	case runErr != nil && done:
		// the driver already failed the job
		metrics.QueueMessagesProcessed.WithLabelValues("failed").Inc()
	case runErr != nil:
		if err := q.retry(ctx, msg, runErr); err != nil {
			return err
		}
		metrics.QueueMessagesProcessed.WithLabelValues("retried").Inc()
	case !done:
		if _, err := q.streams.Publish(ctx, q.config.Stream, &redis.PageMessage{JobID: page.JobID, Page: next}); err != nil {
			return err
		}
		metrics.QueueMessagesProcessed.WithLabelValues("continued").Inc()
	default:
		metrics.QueueMessagesProcessed.WithLabelValues("completed").Inc()
	}

	return q.ack(ctx, msg)
}

// retry republishes the page with one more attempt, or dead-letters it.
func (q *Queue) retry(ctx context.Context, msg redis.StreamMessage, cause error) error {
	page := msg.Message
	attempts := page.Attempts + 1

	if attempts >= q.config.MaxAttempts {
		q.logger.WithContext(ctx).WithError(cause).Warnf("Page %d of job %s failed %d times, moving to DLQ", page.Page, page.JobID, attempts)
		if err := q.runner.FailPage(ctx, page.JobID, page.Page, cause); err != nil {
			q.logger.WithContext(ctx).WithError(err).Warnf("Failed to mark job %s failed", page.JobID)
		}
		if q.dlq == nil {
			return nil
		}
		if _, err := q.dlq.Add(ctx, &redis.DeadPage{
			JobID:    page.JobID,
			Page:     page.Page,
			Attempts: attempts,
			Reason:   DLQReasonMaxAttempts,
			Error:    cause.Error(),
		}); err != nil {
			return err
		}
		metrics.DLQMessagesTotal.WithLabelValues(DLQReasonMaxAttempts).Inc()
		return nil
	}

	q.logger.WithContext(ctx).WithError(cause).Warnf("Page %d of job %s failed, retrying (attempt %d)", page.Page, page.JobID, attempts+1)
	_, err := q.streams.Publish(ctx, q.config.Stream, &redis.PageMessage{
		JobID:    page.JobID,
		Page:     page.Page,
		Attempts: attempts,
	})
	return err
}

func (q *Queue) ack(ctx context.Context, msg redis.StreamMessage) error {
	if err := q.streams.Ack(ctx, q.config.Stream, q.config.ConsumerGroup, msg.ID); err != nil {
		q.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack message %s", msg.ID)
		return err
	}
	return nil
}
