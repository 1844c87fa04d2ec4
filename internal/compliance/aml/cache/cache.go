// Package cache keeps each user's current risk assessment close to the API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

// AssessmentCache stores the newest assessment per user. Get returns nil, nil on a miss.
type AssessmentCache interface {
	Get(ctx context.Context, userID string) (*aml.RiskAssessment, error)
	// Set stores a unless the cache already holds a newer assessment for the user.
	Set(ctx context.Context, a *aml.RiskAssessment) error
	Invalidate(ctx context.Context, userID string) error
}

const keyCurrentAssessment = "aml:risk:current:%s"

// setIfNewer keeps the entry with the latest assessed_at.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'at')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'at', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCache implements AssessmentCache on Redis hashes
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time
}

var _ AssessmentCache = (*RedisCache)(nil)

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *zap.SugaredLogger) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger, now: time.Now}
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*aml.RiskAssessment, error) {
	data, err := c.client.HGet(ctx, fmt.Sprintf(keyCurrentAssessment, userID), "data").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached assessment: %w", err)
	}

	var a aml.RiskAssessment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached assessment: %w", err)
	}
	return &a, nil
}

func (c *RedisCache) Set(ctx context.Context, a *aml.RiskAssessment) error {
	ttl := entryTTL(a, c.ttl, c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	key := fmt.Sprintf(keyCurrentAssessment, a.UserID)
	stored, err := setIfNewer.Run(ctx, c.client, []string{key},
		strconv.FormatInt(a.AssessedAt.UnixNano(), 10), data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to cache assessment: %w", err)
	}
	if stored == 0 {
		c.logger.Debugw("Newer assessment already cached", "user_id", a.UserID, "assessment_id", a.ID)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, fmt.Sprintf(keyCurrentAssessment, userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached assessment: %w", err)
	}
	return nil
}

// entryTTL never lets a cached assessment outlive its validity.
func entryTTL(a *aml.RiskAssessment, ttl time.Duration, now time.Time) time.Duration {
	if !a.ValidUntil.IsZero() {
		if remaining := a.ValidUntil.Sub(now); remaining < ttl {
			return remaining
		}
	}
	return ttl
}

// MemoryCache is a process-local AssessmentCache for single-instance deployments and tests
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	assessment aml.RiskAssessment
	expires    time.Time
}

var _ AssessmentCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, userID string) (*aml.RiskAssessment, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return nil, nil
	}
	a := e.assessment
	return &a, nil
}

func (c *MemoryCache) Set(_ context.Context, a *aml.RiskAssessment) error {
	now := c.now()
	ttl := entryTTL(a, c.ttl, now)
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[a.UserID]; ok && now.Before(cur.expires) && cur.assessment.AssessedAt.After(a.AssessedAt) {
		return nil
	}
	c.entries[a.UserID] = memoryEntry{assessment: *a, expires: now.Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}
