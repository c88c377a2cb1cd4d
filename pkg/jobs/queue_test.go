package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lichen/pkg/redis"
)

type fakeStreams struct {
	published []redis.PageMessage
	acked     []string
}

func (s *fakeStreams) Publish(_ context.Context, _ string, msg *redis.PageMessage) (string, error) {
	s.published = append(s.published, *msg)
	return "1-0", nil
}

func (s *fakeStreams) CreateConsumerGroup(context.Context, string, string) error { return nil }

func (s *fakeStreams) Consume(context.Context, string, string, string, int64, time.Duration) ([]redis.StreamMessage, error) {
	return nil, nil
}

func (s *fakeStreams) Ack(_ context.Context, _, _ string, ids ...string) error {
	s.acked = append(s.acked, ids...)
	return nil
}

func (s *fakeStreams) ClaimStale(context.Context, string, string, string, time.Duration, int64) ([]redis.StreamMessage, error) {
	return nil, nil
}

type fakeDLQ struct {
	entries []*redis.DeadPage
}

func (d *fakeDLQ) Add(_ context.Context, page *redis.DeadPage) (string, error) {
	d.entries = append(d.entries, page)
	return "1-0", nil
}

type fakeLocker struct {
	held     map[string]bool
	released int
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLock) Release(context.Context) error {
	delete(l.locker.held, l.key)
	l.locker.released++
	return nil
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (Releaser, error) {
	if l.held[key] {
		return nil, redis.ErrLockNotAcquired
	}
	l.held[key] = true
	return &fakeLock{locker: l, key: key}, nil
}

type fakeRunner struct {
	next   int
	done   bool
	err    error
	runs   []int
	failed []error
}

func (r *fakeRunner) FailPage(_ context.Context, _ uuid.UUID, _ int, cause error) error {
	r.failed = append(r.failed, cause)
	return nil
}

func (r *fakeRunner) RunPage(_ context.Context, _ uuid.UUID, page int) (int, bool, error) {
	r.runs = append(r.runs, page)
	return r.next, r.done, r.err
}

type queueFixture struct {
	queue   *Queue
	streams *fakeStreams
	dlq     *fakeDLQ
	locker  *fakeLocker
	runner  *fakeRunner
}

func newQueueFixture() *queueFixture {
	f := &queueFixture{
		streams: &fakeStreams{},
		dlq:     &fakeDLQ{},
		locker:  &fakeLocker{held: map[string]bool{}},
		runner:  &fakeRunner{},
	}
	f.queue = NewQueue(f.streams, f.dlq, f.locker, f.runner, QueueConfig{MaxAttempts: 2}, testLogger())
	return f
}

func message(jobID uuid.UUID, page, attempts int) redis.StreamMessage {
	return redis.StreamMessage{
		ID:      "100-0",
		Stream:  "lichen:jobs",
		Message: redis.PageMessage{ID: "m", JobID: jobID, Page: page, Attempts: attempts},
	}
}

func TestQueue_HandlePublishesContinuation(t *testing.T) {
	f := newQueueFixture()
	f.runner.next = 4
	jobID := uuid.New()

	require.NoError(t, f.queue.Handle(context.Background(), message(jobID, 3, 0)))

	assert.Equal(t, []int{3}, f.runner.runs)
	require.Len(t, f.streams.published, 1)
	assert.Equal(t, jobID, f.streams.published[0].JobID)
	assert.Equal(t, 4, f.streams.published[0].Page)
	assert.Equal(t, []string{"100-0"}, f.streams.acked)
	assert.Equal(t, 1, f.locker.released)
}

func TestQueue_HandleLastPage(t *testing.T) {
	f := newQueueFixture()
	f.runner.done = true

	require.NoError(t, f.queue.Handle(context.Background(), message(uuid.New(), 0, 0)))
	assert.Empty(t, f.streams.published)
	assert.Len(t, f.streams.acked, 1)
}

func TestQueue_HandleRetriesThenDeadLetters(t *testing.T) {
	f := newQueueFixture()
	f.runner.err = errors.New("database unavailable")
	jobID := uuid.New()

	require.NoError(t, f.queue.Handle(context.Background(), message(jobID, 2, 0)))
	require.Len(t, f.streams.published, 1)
	assert.Equal(t, 2, f.streams.published[0].Page)
	assert.Equal(t, 1, f.streams.published[0].Attempts)
	assert.Empty(t, f.dlq.entries)
	assert.Empty(t, f.runner.failed)

	require.NoError(t, f.queue.Handle(context.Background(), message(jobID, 2, 1)))
	assert.Len(t, f.streams.published, 1)
	require.Len(t, f.dlq.entries, 1)
	assert.Equal(t, jobID, f.dlq.entries[0].JobID)
	assert.Equal(t, 2, f.dlq.entries[0].Page)
	assert.Equal(t, 2, f.dlq.entries[0].Attempts)
	assert.Equal(t, DLQReasonMaxAttempts, f.dlq.entries[0].Reason)
	assert.Len(t, f.streams.acked, 2)
	require.Len(t, f.runner.failed, 1)
	assert.EqualError(t, f.runner.failed[0], "database unavailable")
}

func TestQueue_HandleFailedJobIsNotRetried(t *testing.T) {
	f := newQueueFixture()
	f.runner.err = errors.New("remote fetch failed")
	f.runner.done = true

	require.NoError(t, f.queue.Handle(context.Background(), message(uuid.New(), 0, 0)))
	assert.Empty(t, f.streams.published)
	assert.Empty(t, f.dlq.entries)
	assert.Len(t, f.streams.acked, 1)
}

func TestQueue_HandleBusyJobStaysPending(t *testing.T) {
	f := newQueueFixture()
	jobID := uuid.New()
	f.locker.held[jobID.String()] = true

	err := f.queue.Handle(context.Background(), message(jobID, 0, 0))
	assert.ErrorIs(t, err, ErrJobBusy)
	assert.Empty(t, f.runner.runs)
	assert.Empty(t, f.streams.acked)
}

func TestQueue_Enqueue(t *testing.T) {
	f := newQueueFixture()
	jobID := uuid.New()

	_, err := f.queue.Enqueue(context.Background(), jobID, 0)
	require.NoError(t, err)
	require.Len(t, f.streams.published, 1)
	assert.Equal(t, 0, f.streams.published[0].Page)
}
