package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"signalbot/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2, MaxCapacity: 10}, logging.NewNop())

	var n int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func() { atomic.AddInt64(&n, 1) }))
	}
	pool.Stop()

	assert.Equal(t, int64(5), atomic.LoadInt64(&n))
	assert.Equal(t, uint64(5), pool.Stats().Succeeded)
}

func TestWorkerPool_NonBlockingFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "tiny", MaxWorkers: 1, MaxCapacity: 1, NonBlocking: true}, logging.NewNop())
	defer pool.Stop()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(func() { <-release }))

	var rejected bool
	for i := 0; i < 5; i++ {
		if err := pool.Submit(func() {}); err != nil {
			rejected = true
			break
		}
	}
	close(release)
	assert.True(t, rejected)
}

func TestWorkerPool_PanicIsRecovered(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panic", MaxWorkers: 1}, logging.NewNop())

	require.NoError(t, pool.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped running tasks after a panic")
	}
	pool.Stop()
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "stopped"}, logging.NewNop())
	pool.Stop()
	assert.Error(t, pool.Submit(func() {}))
}
