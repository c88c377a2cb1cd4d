package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	return nil
}

func newTestProducer(w messageWriter) *Producer {
	return &Producer{
		writer: w,
		logger: ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
		topic:  "lichen.occurrences",
	}
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig(" kafka-1:9092, kafka-2:9092 ,", "lichen.occurrences")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.True(t, cfg.Enabled())

	assert.False(t, ParseConfig("", "lichen.occurrences").Enabled())
}

func TestProducer_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &ImportEvent{
		Type:           TypeOccurrenceImported,
		GlobalObjectID: "1408175@x",
		ObjectType:     "fungarium",
		Outcome:        "created",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "1408175@x", string(msg.Key))

	var evt ImportEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, TypeOccurrenceImported, evt.Type)
	assert.Equal(t, "created", evt.Outcome)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestProducer_PublishError(t *testing.T) {
	p := newTestProducer(&recordingWriter{err: errors.New("broker down")})

	err := p.Publish(context.Background(), &ImportEvent{Type: TypeOccurrenceDeleted, GlobalObjectID: "1@x"})
	assert.EqualError(t, err, "broker down")
	assert.Error(t, p.Publish(context.Background(), nil))
}
