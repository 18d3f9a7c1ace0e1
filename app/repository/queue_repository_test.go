package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebOleg/sepacollect/internal/pkg/cache/cachetest"
)

func TestQueueRepositoryKeysAndTTL(t *testing.T) {
	client := cachetest.NewClient(t, 12)
	ctx := context.Background()
	repo := NewQueueRepository(client)

	require.NoError(t, client.Set(ctx, "dispatch_lock:validation:1", "1", time.Minute).Err())
	require.NoError(t, client.Set(ctx, "dispatch_lock:validation:2", "1", time.Minute).Err())
	require.NoError(t, client.Set(ctx, "dispatch_lock:billing:1", "1", 0).Err())
	require.NoError(t, client.Set(ctx, "unrelated", "1", 0).Err())

	keys, err := repo.FindKeysByPatterns(ctx, []string{"dispatch_lock:validation:*", "dispatch_lock:*:1", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"dispatch_lock:billing:1",
		"dispatch_lock:validation:1",
		"dispatch_lock:validation:2",
	}, keys)

	ttl, err := repo.GetTTL(ctx, "dispatch_lock:validation:1")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	ttl, err = repo.GetTTL(ctx, "dispatch_lock:billing:1")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	ttl, err = repo.GetTTL(ctx, "dispatch_lock:verification:1")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl)
}
