package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingDirectory struct {
	StaticDirectory
	roleCalls int
}

func (d *countingDirectory) Role(ctx context.Context, userID uuid.UUID) (string, error) {
	d.roleCalls++
	return d.StaticDirectory.Role(ctx, userID)
}

func newTestCache(t *testing.T, source DirectorySource) (*DirectoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDirectoryCache(source, client, time.Minute, zap.NewNop()), mr
}

func TestDirectoryCache_RoleCacheAside(t *testing.T) {
	provider := uuid.New()
	source := &countingDirectory{
		StaticDirectory: StaticDirectory{Roles: map[uuid.UUID]string{provider: "provider"}},
	}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	role, err := cache.Role(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, "provider", role)

	role, err = cache.Role(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, "provider", role)
	assert.Equal(t, 1, source.roleCalls)
}

func TestDirectoryCache_Caseload(t *testing.T) {
	provider := uuid.New()
	patients := []uuid.UUID{uuid.New(), uuid.New()}
	source := &StaticDirectory{Caseloads: map[uuid.UUID][]uuid.UUID{provider: patients}}
	cache, _ := newTestCache(t, source)

	got, err := cache.Caseload(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, patients, got)

	// Second read comes from redis.
	got, err = cache.Caseload(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, patients, got)
}

func TestDirectoryCache_Invalidate(t *testing.T) {
	user := uuid.New()
	source := &countingDirectory{
		StaticDirectory: StaticDirectory{Roles: map[uuid.UUID]string{user: "admin"}},
	}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	_, err := cache.Role(ctx, user)
	require.NoError(t, err)
	cache.Invalidate(ctx, user)

	_, err = cache.Role(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, source.roleCalls)
}

func TestDirectoryCache_DegradesWhenRedisDown(t *testing.T) {
	user := uuid.New()
	source := &StaticDirectory{WatchList: map[uuid.UUID]bool{user: true}}
	cache, mr := newTestCache(t, source)
	mr.Close()

	listed, err := cache.WatchListed(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, listed)
}

func TestDirectoryCache_NilClientGoesStraightToSource(t *testing.T) {
	user := uuid.New()
	source := &StaticDirectory{Roles: map[uuid.UUID]string{user: "auditor"}}
	cache := NewDirectoryCache(source, nil, time.Minute, zap.NewNop())

	role, err := cache.Role(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "auditor", role)
}
