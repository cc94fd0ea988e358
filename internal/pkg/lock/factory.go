// internal/pkg/lock/factory.go
package lock

import (
	"time"

	goredislib "github.com/redis/go-redis/v9"
)

// NewLocker 根据部署配置选择锁后端：配置了 Zookeeper 地址时用
// 临时节点锁（会话断开自动释放），否则用 Redis/redsync（TTL 释放）。
// 两个后端对 Locker 语义等价，可按环境切换。
func NewLocker(rdb goredislib.UniversalClient, zkServers []string, zkSessionTimeout time.Duration) (Locker, error) {
	if len(zkServers) > 0 {
		return NewZkLocker(zkServers, zkSessionTimeout)
	}
	return NewRedsyncLocker(rdb), nil
}
