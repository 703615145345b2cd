package memory

import (
	"context"

	"github.com/mohammad-safakhou/newsbrief/models"
)

// Store persists one Entry per topic. Implementations must return copies from
// Get so callers never alias stored state.
type Store interface {
	Get(ctx context.Context, topic models.Topic) (Entry, error)
	Put(ctx context.Context, topic models.Topic, entry Entry) error
	Topics(ctx context.Context) ([]models.Topic, error)
	Clear(ctx context.Context) error
}

// Updater is implemented by stores that can apply a read-modify-write to one
// topic atomically. Memory prefers it over Get+Put so that several
// orchestrators may share a store safely.
type Updater interface {
	Update(ctx context.Context, topic models.Topic, fn func(*Entry)) error
}

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
)
