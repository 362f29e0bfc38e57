package storage

import (
	"context"
	"slices"
	"sync"

	"sessionrecorder/pkg/model"
)

// MemoryStore 进程内临时存储
type MemoryStore struct {
	mu          sync.RWMutex
	events      []model.Event
	settings    *model.Settings
	recording   bool
	subscribers map[chan Change]struct{}
}

// NewMemoryStore 创建进程内临时存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subscribers: make(map[chan Change]struct{})}
}

func (s *MemoryStore) Events(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events), nil
}

func (s *MemoryStore) SetEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	s.events = slices.Clone(events)
	s.mu.Unlock()
	s.notify(KeyEvents)
	return nil
}

func (s *MemoryStore) Settings(_ context.Context) (model.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return model.Settings{}, false, nil
	}
	return s.settings.Clone(), true, nil
}

func (s *MemoryStore) SetSettings(_ context.Context, settings model.Settings) error {
	c := settings.Clone()
	s.mu.Lock()
	s.settings = &c
	s.mu.Unlock()
	s.notify(KeySettings)
	return nil
}

func (s *MemoryStore) Recording(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording, nil
}

func (s *MemoryStore) SetRecording(_ context.Context, on bool) error {
	s.mu.Lock()
	s.recording = on
	s.mu.Unlock()
	s.notify(KeyRecording)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// notify 非阻塞投递，通道已满时丢弃（积压的通知已足以触发全量镜像）
func (s *MemoryStore) notify(key Key) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- Change{Key: key}:
		default:
		}
	}
}
