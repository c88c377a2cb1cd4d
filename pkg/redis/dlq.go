package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const (
	DefaultDLQStream = "lichen:jobs:dlq"

	// DLQMaxLen caps the dead page stream; the oldest pages are trimmed first
	DLQMaxLen = 10000
)

// stream fields of a dead page
const (
	fieldJobID    = "job_id"
	fieldPage     = "page"
	fieldAttempts = "attempts"
	fieldReason   = "reason"
	fieldError    = "error"
	fieldTraceID  = "trace_id"
	fieldFailedAt = "failed_at"
)

// DeadPage is a job page that was given up on.
type DeadPage struct {
	// ID is the stream entry id, set when read back
	ID       string    `json:"id,omitempty"`
	JobID    uuid.UUID `json:"job_id"`
	Page     int       `json:"page"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	Error    string    `json:"error"`
	TraceID  string    `json:"trace_id,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

func (p *DeadPage) values() map[string]any {
	return map[string]any{
		fieldJobID:    p.JobID.String(),
		fieldPage:     p.Page,
		fieldAttempts: p.Attempts,
		fieldReason:   p.Reason,
		fieldError:    p.Error,
		fieldTraceID:  p.TraceID,
		fieldFailedAt: p.FailedAt.Format(time.RFC3339Nano),
	}
}

// parseDeadPage reads a dead page back from its stream entry.
func parseDeadPage(msg redis.XMessage) (DeadPage, error) {
	str := func(field string) string {
		s, _ := msg.Values[field].(string)
		return s
	}

	jobID, err := uuid.Parse(str(fieldJobID))
	if err != nil {
		return DeadPage{}, fmt.Errorf("dead page %s has an invalid job id: %w", msg.ID, err)
	}
	page, err := strconv.Atoi(str(fieldPage))
	if err != nil {
		return DeadPage{}, fmt.Errorf("dead page %s has an invalid page: %w", msg.ID, err)
	}
	attempts, _ := strconv.Atoi(str(fieldAttempts))
	failedAt, _ := time.Parse(time.RFC3339Nano, str(fieldFailedAt))

	return DeadPage{
		ID:       msg.ID,
		JobID:    jobID,
		Page:     page,
		Attempts: attempts,
		Reason:   str(fieldReason),
		Error:    str(fieldError),
		TraceID:  str(fieldTraceID),
		FailedAt: failedAt,
	}, nil
}

// DeadLetterQueue is the stream of job pages that exhausted their attempts.
type DeadLetterQueue struct {
	client *Client
	stream string
	logger ectologger.Logger
}

func NewDeadLetterQueue(client *Client, stream string, logger ectologger.Logger) *DeadLetterQueue {
	if stream == "" {
		stream = DefaultDLQStream
	}
	return &DeadLetterQueue{client: client, stream: stream, logger: logger}
}

// Add appends page to the stream and returns its entry id.
func (d *DeadLetterQueue) Add(ctx context.Context, page *DeadPage) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DeadLetterQueue.Add")
	defer span.End()

	if page.FailedAt.IsZero() {
		page.FailedAt = time.Now().UTC()
	}
	if page.TraceID == "" {
		page.TraceID = tracing.GetTraceID(ctx)
	}

	id, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: page.values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to dead-letter page %d of job %s: %w", page.Page, page.JobID, err)
	}
	page.ID = id

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   page.JobID,
		"page":     page.Page,
		"attempts": page.Attempts,
		"reason":   page.Reason,
	}).Warn("job page dead-lettered")
	return id, nil
}

// List returns up to count dead pages, newest first. Unreadable entries are skipped.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DeadPage, error) {
	ctx, span := tracing.StartSpan(ctx, "DeadLetterQueue.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.Redis().XRevRangeN(ctx, d.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead pages: %w", err)
	}

	pages := make([]DeadPage, 0, len(messages))
	for _, msg := range messages {
		page, err := parseDeadPage(msg)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).Warn("skipping unreadable dead page")
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.stream).Result()
}
