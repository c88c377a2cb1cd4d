package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PageMessage is one continuation of a paginated job: run page Page of job JobID.
type PageMessage struct {
	ID        string    `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Page      int       `json:"page"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// StreamMessage is a decoded entry read from a stream
type StreamMessage struct {
	ID      string
	Stream  string
	Message PageMessage
}

// Streams provides Redis Streams operations for the job continuation queue
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish adds a message to a stream
func (s *Streams) Publish(ctx context.Context, stream string, msg *PageMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"data": string(payload),
		},
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).Debugf("Published page %d of job %s to stream %s (message ID: %s)", msg.Page, msg.JobID, stream, result)
	return result, nil
}

// CreateConsumerGroup creates a consumer group for a stream
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads new messages from a stream using a consumer group
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		messages = append(messages, s.decode(ctx, result.Stream, result.Messages)...)
	}
	return messages, nil
}

// Ack acknowledges messages
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// ClaimStale takes over messages another consumer left pending for longer than minIdle.
func (s *Streams) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	claimed, _, err := s.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decode(ctx, stream, claimed), nil
}

// Len returns the length of a stream
func (s *Streams) Len(ctx context.Context, stream string) (int64, error) {
	return s.client.rdb.XLen(ctx, stream).Result()
}

func (s *Streams) decode(ctx context.Context, stream string, raw []redis.XMessage) []StreamMessage {
	messages := make([]StreamMessage, 0, len(raw))
	for _, msg := range raw {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var payload PageMessage
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			s.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal message %s", msg.ID)
			continue
		}

		messages = append(messages, StreamMessage{
			ID:      msg.ID,
			Stream:  stream,
			Message: payload,
		})
	}
	return messages
}
