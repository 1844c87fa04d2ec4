package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	topics []string
	closed bool
}

func (r *recordingPublisher) PublishEvent(_ context.Context, topic, _ string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return nil
}

func TestEventPublisher_FanOut(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{err: errors.New("broker down")}
	p := NewEventPublisher(zap.NewNop(), a, b)

	require.NoError(t, p.PublishEvent(context.Background(), TopicAlertCreated, "user-1", AlertEvent{}))
	assert.Equal(t, []string{TopicAlertCreated}, a.topics)

	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestEventPublisher_AllFail(t *testing.T) {
	p := NewEventPublisher(zap.NewNop(), &recordingPublisher{err: errors.New("down")})
	err := p.PublishEvent(context.Background(), TopicScreeningCompleted, "user-1", ScreeningCompleted{})
	assert.ErrorContains(t, err, "all publishers failed")
}

func TestEventPublisher_NoPublishers(t *testing.T) {
	p := NewEventPublisher(zap.NewNop())
	assert.NoError(t, p.PublishEvent(context.Background(), TopicScreeningCompleted, "user-1", nil))
}

func TestNewKafkaPublisher_Defaults(t *testing.T) {
	p := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Compression: "snappy"}, zap.NewNop())
	t.Cleanup(func() { p.Close() })

	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.Equal(t, 100, p.writer.BatchSize)
	assert.Equal(t, 3, p.writer.MaxAttempts)
	assert.Equal(t, kafka.Snappy, p.writer.Compression)

	one := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, RequiredAcks: 1}, zap.NewNop())
	t.Cleanup(func() { one.Close() })
	assert.Equal(t, kafka.RequireOne, one.writer.RequiredAcks)
}

func TestKafkaMessage(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	result := &aml.ScreeningResult{
		ID:         uuid.New(),
		UserID:     "user-1",
		ScreenType: aml.ScreenTypeOnboarding,
		Assessment: aml.RiskAssessment{OverallScore: 0.95, Level: aml.RiskLevelCritical, MatrixVersion: 3},
		Degraded:   true,
		Alerts:     []aml.Alert{{}, {}},
		CreatedAt:  now,
	}

	msg, err := kafkaMessage(TopicScreeningCompleted, result.UserID, NewScreeningCompleted(result), now)
	require.NoError(t, err)
	assert.Equal(t, TopicScreeningCompleted, msg.Topic)
	assert.Equal(t, []byte("user-1"), msg.Key)

	var decoded ScreeningCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, result.ID, decoded.ScreeningID)
	assert.Equal(t, aml.RiskLevelCritical, decoded.Level)
	assert.Equal(t, 2, decoded.Alerts)
	assert.True(t, decoded.Degraded)
}
