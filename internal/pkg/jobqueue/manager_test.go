package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebOleg/sepacollect/internal/pkg/cache/cachetest"
)

func TestNewManager(t *testing.T) {
	queue := NewQueue(nil, 2, "validation", "billing")
	manager := NewManager(queue, time.Minute)

	assert.Same(t, queue, manager.GetQueue())
	assert.Equal(t, []string{"validation", "billing"}, manager.GetQueue().Queues())
	assert.False(t, manager.IsRunning())

	// never started
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManagerRestartAndDepthReport(t *testing.T) {
	client := cachetest.NewClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueue(client, 1, "verification")
	q.SetPollInterval(10 * time.Millisecond)
	manager := NewManager(q, 5*time.Millisecond)

	for i := 0; i < 2; i++ {
		manager.Start()
		manager.Start()
		assert.True(t, manager.IsRunning())
		time.Sleep(20 * time.Millisecond)
		manager.Stop()
		assert.False(t, manager.IsRunning())
	}

	size, err := q.GetQueueSize(context.Background(), "verification")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}
