// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"time"
)

// Locker 是分布式锁的出站端口。
// TTL 是崩溃持有者的安全网：即使进程挂掉，锁也会在 ttl 后自动失效。
// holder 用于防止误删他人持有的锁。
type Locker interface {
	// TryLock 非阻塞地尝试获取锁，返回是否获取成功。
	TryLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Unlock 释放锁，只有 holder 匹配时才会删除，返回是否真正释放。
	Unlock(ctx context.Context, key, holder string) (bool, error)
}
