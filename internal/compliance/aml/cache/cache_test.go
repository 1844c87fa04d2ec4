package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

func assessment(userID string, at time.Time, score float64) *aml.RiskAssessment {
	return &aml.RiskAssessment{
		ID:           uuid.New(),
		UserID:       userID,
		OverallScore: score,
		Level:        aml.RiskLevelLow,
		AssessedAt:   at,
		ValidUntil:   at.AddDate(0, 6, 0),
	}
}

func exerciseCache(t *testing.T, c AssessmentCache) {
	ctx := context.Background()
	now := time.Now().UTC()

	got, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	newer := assessment("user-1", now, 0.7)
	older := assessment("user-1", now.Add(-time.Minute), 0.2)
	require.NoError(t, c.Set(ctx, newer))
	require.NoError(t, c.Set(ctx, older))

	got, err = c.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	require.NoError(t, c.Invalidate(ctx, "user-1"))
	got, err = c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache(time.Minute))
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(context.Background(), assessment("user-1", now, 0.5)))

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	got, err := c.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEntryTTL_BoundedByValidity(t *testing.T) {
	now := time.Now()
	a := assessment("user-1", now, 0.5)
	a.ValidUntil = now.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, entryTTL(a, time.Hour, now))

	a.ValidUntil = now.Add(-time.Second)
	assert.LessOrEqual(t, entryTTL(a, time.Hour, now), time.Duration(0))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("AMLSCREEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AMLSCREEN_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	exerciseCache(t, NewRedisCache(client, time.Minute, zap.NewNop().Sugar()))
}
