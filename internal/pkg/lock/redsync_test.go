// internal/pkg/lock/redsync_test.go
package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// 指向一个没有监听者的地址，加锁必然失败。
func unreachableLocker(t *testing.T) *RedsyncLocker {
	t.Helper()
	client := goredislib.NewClient(&goredislib.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedsyncLocker(client)
}

// 上层 Guard 每次尝试都带一个新 holder：失败的尝试若在 mutexes
// 里留下登记项，就再也没有人来删它，表里只会越积越多。
func TestTryLockFailureLeavesNoMutexBehind(t *testing.T) {
	t.Parallel()

	l := unreachableLocker(t)
	for i := 0; i < 5; i++ {
		ok, err := l.TryLock(context.Background(), "order:SO1", fmt.Sprintf("holder-%d", i), time.Second)
		require.False(t, ok)
		require.Error(t, err)
	}

	l.mu.Lock()
	leftover := len(l.mutexes)
	l.mu.Unlock()
	require.Zero(t, leftover)
}

func TestUnlockWithoutAcquire(t *testing.T) {
	t.Parallel()

	l := unreachableLocker(t)
	ok, err := l.Unlock(context.Background(), "order:SO1", "never-acquired")
	require.NoError(t, err)
	require.False(t, ok)
}
