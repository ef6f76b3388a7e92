package usage

import (
	"context"
	"sync"
	"time"

	xerrors "defiseek/internal/errors"
)

// MemoryStore 是 Store 的内存实现。
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func (s *MemoryStore) SaveEvent(ctx context.Context, e *Event) error {
	if e == nil || e.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "事件 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *e
	s.events[e.ID] = &cloned
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "事件不存在")
	}
	cloned := *e
	return &cloned, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "事件不存在")
	}
	e.Status = StatusProcessed
	e.ProcessedAt = time.Now()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &Stats{
		ByKind:      make(map[Kind]int64),
		ByQueryType: make(map[string]int64),
	}
	for _, e := range s.events {
		stats.Total++
		switch e.Status {
		case StatusProcessed:
			stats.Processed++
		default:
			stats.Pending++
		}
		stats.ByKind[e.Kind]++
		if e.QueryType != "" {
			stats.ByQueryType[e.QueryType]++
		}
	}
	return stats, nil
}

var _ Store = (*MemoryStore)(nil)
