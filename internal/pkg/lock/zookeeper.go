// internal/pkg/lock/zookeeper.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/meridian_locks"

// ZkLocker 基于 ZooKeeper 临时节点实现 Locker。
// 节点数据存放 holder；TTL 由 ZooKeeper 会话超时兜底，
// 参数中的 ttl 仅用于校验不小于会话超时。
// 在没有 Redis 的环境里作为 RedsyncLocker 的替代实现。
type ZkLocker struct {
	conn           *zk.Conn
	sessionTimeout time.Duration
}

// NewZkLocker 连接 ZooKeeper 并确保锁的根节点存在。
func NewZkLocker(servers []string, sessionTimeout time.Duration) (*ZkLocker, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	if _, err := conn.Create(lockRoot, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		conn.Close()
		return nil, fmt.Errorf("failed to create lock root node: %w", err)
	}

	return &ZkLocker{conn: conn, sessionTimeout: sessionTimeout}, nil
}

func (l *ZkLocker) nodePath(key string) string {
	return lockRoot + "/" + key
}

// TryLock 实现 Locker。创建临时节点成功即持有锁；
// 节点已存在说明他人持有，返回 false。
func (l *ZkLocker) TryLock(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if ttl < l.sessionTimeout {
		return false, fmt.Errorf("lock ttl %v is below zookeeper session timeout %v", ttl, l.sessionTimeout)
	}
	_, err := l.conn.Create(l.nodePath(key), []byte(holder), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock node %s: %w", key, err)
	}
	return true, nil
}

// Unlock 实现 Locker。只删除 holder 匹配的节点。
func (l *ZkLocker) Unlock(_ context.Context, key, holder string) (bool, error) {
	path := l.nodePath(key)
	data, stat, err := l.conn.Get(path)
	if err == zk.ErrNoNode {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock node %s: %w", key, err)
	}
	if string(data) != holder {
		return false, nil
	}
	if err := l.conn.Delete(path, stat.Version); err != nil && err != zk.ErrNoNode {
		return false, fmt.Errorf("failed to delete lock node %s: %w", key, err)
	}
	return true, nil
}

// Close 断开 ZooKeeper 连接，所有临时节点随会话失效。
func (l *ZkLocker) Close() {
	l.conn.Close()
}
