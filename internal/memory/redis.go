package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "newsbrief:memory:"
	maxWatchRetries  = 5
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Prefix   string
	Capacity int
	// TTL expires idle topics; zero keeps them until Clear.
	TTL time.Duration
}

// Redis keeps one list per topic, oldest key at the head. It substitutes for
// InMemory when memory must outlive a process or be shared between hosts.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
	ttl      time.Duration
}

// Conn dials Redis and verifies the connection with PING.
func Conn(ctx context.Context, addr, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Redis{client: client, prefix: prefix, capacity: capacity, ttl: opts.TTL}
}

func (r *Redis) key(topic models.Topic) string { return r.prefix + string(topic) }

func (r *Redis) Get(ctx context.Context, topic models.Topic) (Entry, error) {
	keys, err := r.client.LRange(ctx, r.key(topic), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, fmt.Errorf("lrange %s: %w", topic, err)
	}
	entry := Entry{Capacity: r.capacity, Keys: keys}
	entry.trim(r.capacity)
	return entry, nil
}

func (r *Redis) Put(ctx context.Context, topic models.Topic, entry Entry) error {
	next := entry.Clone()
	next.trim(r.capacity)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		r.write(ctx, p, topic, next)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", topic, err)
	}
	return nil
}

// Update applies fn under WATCH so concurrent writers to one topic retry
// instead of overwriting each other.
func (r *Redis) Update(ctx context.Context, topic models.Topic, fn func(*Entry)) error {
	key := r.key(topic)
	txf := func(tx *redis.Tx) error {
		keys, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		entry := Entry{Capacity: r.capacity, Keys: keys}
		fn(&entry)
		entry.trim(r.capacity)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			r.write(ctx, p, topic, entry)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("update %s: %w", topic, err)
	}
	return fmt.Errorf("update %s: %w", topic, redis.TxFailedErr)
}

func (r *Redis) write(ctx context.Context, p redis.Pipeliner, topic models.Topic, entry Entry) {
	key := r.key(topic)
	p.Del(ctx, key)
	if len(entry.Keys) == 0 {
		return
	}
	values := make([]interface{}, len(entry.Keys))
	for i, k := range entry.Keys {
		values[i] = k
	}
	p.RPush(ctx, key, values...)
	p.LTrim(ctx, key, int64(-entry.Capacity), -1)
	if r.ttl > 0 {
		p.Expire(ctx, key, r.ttl)
	}
}

func (r *Redis) Topics(ctx context.Context) ([]models.Topic, error) {
	var out []models.Topic
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, models.Topic(strings.TrimPrefix(iter.Val(), r.prefix)))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan topics: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	topics, err := r.Topics(ctx)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return nil
	}
	keys := make([]string, len(topics))
	for i, t := range topics {
		keys[i] = r.key(t)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
