package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "science/l1b/norm-mago/20251017")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, unlock(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.locks, "entries are dropped once unused")
}

func TestLocalLocker_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA(ctx)

	ctxB, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctxB, "b")
	require.NoError(t, err)
	require.NoError(t, unlockB(ctx))
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx), "double unlock is harmless")

	again, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

// Runs only against a real server: IMAP_TEST_REDIS=localhost:6379.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("IMAP_TEST_REDIS")
	if addr == "" {
		t.Skip("IMAP_TEST_REDIS not set")
	}
	ctx := context.Background()
	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = "imap:test:lock:"
	cfg.RetryInterval = 5 * time.Millisecond

	l, err := NewRedisLocker(ctx, cfg, utils.DiscardLogger())
	require.NoError(t, err)
	defer l.Close()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "k")
	assert.Error(t, err)

	require.NoError(t, unlock(ctx))
	again, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
