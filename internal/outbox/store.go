// internal/outbox/store.go
package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Store 是 Dispatcher 使用的事件读取/标记端口。
// 写入走 Writer（随业务事务提交），不在这个接口里。
type Store interface {
	// FetchUndispatched 按插入顺序返回未投递的事件，包括还在退避
	// 窗口内的：退避中的队头事件必须占住它的聚合，否则同聚合的
	// 后续事件会越过它乱序投递。到期判断由 Dispatcher 做。
	FetchUndispatched(ctx context.Context, limit int) ([]*Event, error)

	// MarkDispatched 记录投递完成时间。
	MarkDispatched(ctx context.Context, id int64, at time.Time) error

	// MarkFailed 累加投递次数并设置下一次尝试时间。
	MarkFailed(ctx context.Context, id int64, nextAttempt time.Time) error
}

// GormStore 是 Store 的 GORM 实现。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FetchUndispatched(ctx context.Context, limit int) ([]*Event, error) {
	var events []*Event
	err := s.db.WithContext(ctx).
		Where("dispatched_time IS NULL").
		Order("id asc").
		Limit(limit).
		Find(&events).Error
	return events, errors.Wrap(err, "failed to fetch undispatched outbox events")
}

func (s *GormStore) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Update("dispatched_time", at).Error
	return errors.Wrapf(err, "failed to mark outbox event %d dispatched", id)
}

func (s *GormStore) MarkFailed(ctx context.Context, id int64, nextAttempt time.Time) error {
	err := s.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivery_attempts": gorm.Expr("delivery_attempts + 1"),
			"next_attempt_time": nextAttempt,
		}).Error
	return errors.Wrapf(err, "failed to mark outbox event %d failed", id)
}

// MemoryStore 是 Store 的内存实现，测试里配合故障注入的
// Publisher 验证"代理不可用也不丢事件"。
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events []*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append 模拟随事务提交的写入。
func (s *MemoryStore) Append(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, ev)
}

func (s *MemoryStore) FetchUndispatched(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, ev := range s.events {
		if ev.DispatchedTime == nil {
			copied := *ev
			out = append(out, &copied)
			if len(out) >= limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkDispatched(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			t := at
			ev.DispatchedTime = &t
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.DeliveryAttempts++
			ev.NextAttemptTime = nextAttempt
			return nil
		}
	}
	return nil
}
