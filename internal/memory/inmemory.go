package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/newsbrief/models"
)

type topicSlot struct {
	mu    sync.Mutex
	entry Entry
}

// InMemory is the process-lifetime store. Each topic has its own lock so
// writers to unrelated topics never contend.
type InMemory struct {
	mu       sync.RWMutex
	capacity int
	slots    map[models.Topic]*topicSlot
}

// NewInMemory creates an empty store whose entries hold capacity keys.
func NewInMemory(capacity int) *InMemory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemory{capacity: capacity, slots: make(map[models.Topic]*topicSlot)}
}

func (s *InMemory) slot(topic models.Topic) *topicSlot {
	s.mu.RLock()
	sl, ok := s.slots[topic]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[topic]; ok {
		return sl
	}
	sl = &topicSlot{entry: NewEntry(s.capacity)}
	s.slots[topic] = sl
	return sl
}

func (s *InMemory) Get(ctx context.Context, topic models.Topic) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	sl := s.slot(topic)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.entry.Clone(), nil
}

func (s *InMemory) Put(ctx context.Context, topic models.Topic, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sl := s.slot(topic)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	next := entry.Clone()
	next.trim(s.capacity)
	sl.entry = next
	return nil
}

// Update runs fn on the topic's entry while holding that topic's lock.
func (s *InMemory) Update(ctx context.Context, topic models.Topic, fn func(*Entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sl := s.slot(topic)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	fn(&sl.entry)
	sl.entry.trim(s.capacity)
	return nil
}

func (s *InMemory) Topics(ctx context.Context) ([]models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Topic, 0, len(s.slots))
	for t, sl := range s.slots {
		sl.mu.Lock()
		n := sl.entry.Len()
		sl.mu.Unlock()
		if n > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *InMemory) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[models.Topic]*topicSlot)
	return nil
}
