// internal/idempotency/memory.go
package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryTriggerStore 是 TriggerStore 的内存实现，用于测试和本地开发。
type MemoryTriggerStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{entries: make(map[string][]byte)}
}

func (s *MemoryTriggerStore) Get(_ context.Context, triggerKey string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.entries[triggerKey]
	return val, ok, nil
}

func (s *MemoryTriggerStore) PutNX(_ context.Context, triggerKey string, result []byte, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[triggerKey]; ok {
		return false, nil
	}
	s.entries[triggerKey] = result
	return true, nil
}

// MemoryLocker 是 lock.Locker 的内存实现，单进程内的互斥语义与
// 分布式实现一致，用于测试。
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]string
	expiry  map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		holders: make(map[string]string),
		expiry:  make(map[string]time.Time),
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.holders[key]; ok && cur != holder {
		if time.Now().Before(l.expiry[key]) {
			return false, nil
		}
		// TTL 过期，视为崩溃持有者，允许抢占
	}
	l.holders[key] = holder
	l.expiry[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.holders[key]; !ok || cur != holder {
		return false, nil
	}
	delete(l.holders, key)
	delete(l.expiry, key)
	return true, nil
}
