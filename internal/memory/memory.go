package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/newsbrief/models"
	"go.uber.org/zap"
)

// Memory is the per-orchestrator view over a Store. Workers read hints from
// it before dispatch; only the consolidator writes, once per run.
type Memory struct {
	store    Store
	capacity int
	logger   *zap.Logger

	// fallback per-topic locks for stores without Updater
	mu    sync.Mutex
	locks map[models.Topic]*sync.Mutex
}

// New wraps store. A nil store selects a fresh InMemory store.
func New(store Store, capacity int, logger *zap.Logger) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if store == nil {
		store = NewInMemory(capacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		store:    store,
		capacity: capacity,
		logger:   logger.Named("memory"),
		locks:    make(map[models.Topic]*sync.Mutex),
	}
}

// Capacity returns the per-topic key bound.
func (m *Memory) Capacity() int { return m.capacity }

// Recent returns the remembered keys for topic, most recent first.
func (m *Memory) Recent(ctx context.Context, topic models.Topic) ([]string, error) {
	entry, err := m.store.Get(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("read memory for %s: %w", topic, err)
	}
	entry.trim(m.capacity)
	return entry.Recent(), nil
}

// Hint builds the advisory text passed to a worker. It returns "" when the
// topic has no history or the store cannot be read.
func (m *Memory) Hint(ctx context.Context, topic models.Topic) string {
	recent, err := m.Recent(ctx, topic)
	if err != nil {
		m.logger.Warn("memory hint unavailable", zap.String("topic", string(topic)), zap.Error(err))
		return ""
	}
	return FormatHint(recent)
}

// FormatHint renders keys (most recent first) as a hint sentence.
func FormatHint(recent []string) string {
	if len(recent) == 0 {
		return ""
	}
	quoted := make([]string, len(recent))
	for i, k := range recent {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return "This topic recently covered: " + strings.Join(quoted, "; ") + ". Avoid repeating these."
}

// Remember pushes keys, in order, into the topic's entry.
func (m *Memory) Remember(ctx context.Context, topic models.Topic, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	push := func(e *Entry) {
		e.trim(m.capacity)
		for _, k := range keys {
			e.Push(k)
		}
	}

	if u, ok := m.store.(Updater); ok {
		if err := u.Update(ctx, topic, push); err != nil {
			return fmt.Errorf("remember %s: %w", topic, err)
		}
		return nil
	}

	lock := m.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()
	entry, err := m.store.Get(ctx, topic)
	if err != nil {
		return fmt.Errorf("remember %s: %w", topic, err)
	}
	push(&entry)
	if err := m.store.Put(ctx, topic, entry); err != nil {
		return fmt.Errorf("remember %s: %w", topic, err)
	}
	return nil
}

// Snapshot returns every non-empty topic with its keys, most recent first.
func (m *Memory) Snapshot(ctx context.Context) (map[models.Topic][]string, error) {
	topics, err := m.store.Topics(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[models.Topic][]string, len(topics))
	for _, t := range topics {
		recent, err := m.Recent(ctx, t)
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			out[t] = recent
		}
	}
	return out, nil
}

// Clear forgets every topic.
func (m *Memory) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear memory: %w", err)
	}
	m.logger.Info("memory cleared")
	return nil
}

func (m *Memory) topicLock(topic models.Topic) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[topic]
	if !ok {
		l = &sync.Mutex{}
		m.locks[topic] = l
	}
	return l
}
