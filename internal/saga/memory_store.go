// internal/saga/memory_store.go
package saga

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 是 Store 的内存实现，用于测试和本地开发。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[int]StepRecord // sagaID -> seq -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[int]StepRecord)}
}

func (s *MemoryStore) Load(_ context.Context, sagaID string) ([]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySeq, ok := s.records[sagaID]
	if !ok {
		return nil, nil
	}
	out := make([]StepRecord, 0, len(bySeq))
	for _, rec := range bySeq {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.SagaID]; !ok {
		s.records[rec.SagaID] = make(map[int]StepRecord)
	}
	s.records[rec.SagaID][rec.Seq] = rec
	return nil
}
