package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DirectorySource answers organizational questions about users: their role,
// the patients assigned to them, and watch-list membership. The production
// source is the clinical directory service; tests use a static map.
type DirectorySource interface {
	Role(ctx context.Context, userID uuid.UUID) (string, error)
	Caseload(ctx context.Context, providerID uuid.UUID) ([]uuid.UUID, error)
	WatchListed(ctx context.Context, userID uuid.UUID) (bool, error)
}

// DirectoryCache is a cache-aside layer over a DirectorySource. Redis
// failures degrade to direct source reads; the detection path never fails
// because the cache is down.
type DirectoryCache struct {
	source DirectorySource
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDirectoryCache(source DirectorySource, client *redis.Client, ttl time.Duration, logger *zap.Logger) *DirectoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DirectoryCache{
		source: source,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *DirectoryCache) Role(ctx context.Context, userID uuid.UUID) (string, error) {
	key := fmt.Sprintf("directory:role:%s", userID)
	var role string
	if c.getCached(ctx, key, &role) {
		return role, nil
	}

	role, err := c.source.Role(ctx, userID)
	if err != nil {
		return "", err
	}
	c.setCached(ctx, key, role)
	return role, nil
}

func (c *DirectoryCache) Caseload(ctx context.Context, providerID uuid.UUID) ([]uuid.UUID, error) {
	key := fmt.Sprintf("directory:caseload:%s", providerID)
	var patients []uuid.UUID
	if c.getCached(ctx, key, &patients) {
		return patients, nil
	}

	patients, err := c.source.Caseload(ctx, providerID)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, key, patients)
	return patients, nil
}

func (c *DirectoryCache) WatchListed(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("directory:watchlist:%s", userID)
	var listed bool
	if c.getCached(ctx, key, &listed) {
		return listed, nil
	}

	listed, err := c.source.WatchListed(ctx, userID)
	if err != nil {
		return false, err
	}
	c.setCached(ctx, key, listed)
	return listed, nil
}

// Invalidate drops all cached entries for one user, used when directory
// assignments change.
func (c *DirectoryCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if c.client == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("directory:role:%s", userID),
		fmt.Sprintf("directory:caseload:%s", userID),
		fmt.Sprintf("directory:watchlist:%s", userID),
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("directory cache invalidation failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (c *DirectoryCache) getCached(ctx context.Context, key string, out interface{}) bool {
	if c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("directory cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *DirectoryCache) setCached(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	// Jitter spreads expiry so a caseload refresh does not hit the source
	// for every provider at once.
	ttl := c.ttl + time.Duration(rand.Int63n(int64(c.ttl/10)+1))
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// StaticDirectory is a fixed in-memory DirectorySource for tests and
// standalone mode.
type StaticDirectory struct {
	Roles     map[uuid.UUID]string
	Caseloads map[uuid.UUID][]uuid.UUID
	WatchList map[uuid.UUID]bool
}

func (d *StaticDirectory) Role(_ context.Context, userID uuid.UUID) (string, error) {
	return d.Roles[userID], nil
}

func (d *StaticDirectory) Caseload(_ context.Context, providerID uuid.UUID) ([]uuid.UUID, error) {
	return d.Caseloads[providerID], nil
}

func (d *StaticDirectory) WatchListed(_ context.Context, userID uuid.UUID) (bool, error) {
	return d.WatchList[userID], nil
}
