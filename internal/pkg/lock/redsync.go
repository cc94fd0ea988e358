// internal/pkg/lock/redsync.go
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// RedsyncLocker 基于 redsync 实现 Locker。
// 每个 (key, holder) 对应一个 mutex 实例，holder 作为锁的 value，
// 释放时由 redsync 的 Lua 脚本校验 value，天然防误删。
type RedsyncLocker struct {
	rs *redsync.Redsync

	mu      sync.Mutex
	mutexes map[string]*redsync.Mutex
}

// NewRedsyncLocker 用一个 go-redis 客户端创建锁服务。
func NewRedsyncLocker(client goredislib.UniversalClient) *RedsyncLocker {
	pool := goredis.NewPool(client)
	return &RedsyncLocker{
		rs:      redsync.New(pool),
		mutexes: make(map[string]*redsync.Mutex),
	}
}

// TryLock 实现 Locker。mutex 实例只在拿到锁之后才登记：
// 上层 Guard 每次尝试都会带一个新 holder，失败的尝试若留下
// 登记项就再也没有人来删它。
func (l *RedsyncLocker) TryLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1), // 单次尝试，等待策略由上层 Guard 控制
		redsync.WithGenValueFunc(func() (string, error) { return holder, nil }),
	)
	err := m.TryLockContext(ctx)
	if err == nil {
		l.mu.Lock()
		l.mutexes[key+"\x00"+holder] = m
		l.mu.Unlock()
		return true, nil
	}
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return false, nil
	}
	return false, err
}

// Unlock 实现 Locker。
func (l *RedsyncLocker) Unlock(ctx context.Context, key, holder string) (bool, error) {
	l.mu.Lock()
	m, ok := l.mutexes[key+"\x00"+holder]
	if ok {
		delete(l.mutexes, key+"\x00"+holder)
	}
	l.mu.Unlock()
	if !ok {
		return false, nil
	}
	ok, err := m.UnlockContext(ctx)
	if err != nil {
		// 锁已过期或被他人持有时 redsync 返回错误，对调用方而言等价于未释放
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
