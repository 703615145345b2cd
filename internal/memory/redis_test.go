package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Conn(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0, 5*time.Second)
	require.NoError(t, err)
	defer client.Close()

	store := NewRedis(client, RedisOptions{Prefix: "test:memory:", Capacity: 3, TTL: time.Hour})
	m := New(store, 3, zap.NewNop())

	require.NoError(t, m.Remember(ctx, models.TopicTechnology, "a", "b", "c", "d"))
	recent, err := m.Recent(ctx, models.TopicTechnology)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, recent)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Remember(ctx, models.TopicSports, fmt.Sprintf("s%d", i)))
		}(i)
	}
	wg.Wait()

	topics, err := store.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Topic{models.TopicSports, models.TopicTechnology}, topics)

	entry, err := store.Get(ctx, models.TopicSports)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Len())

	require.NoError(t, m.Clear(ctx))
	topics, err = store.Topics(ctx)
	require.NoError(t, err)
	assert.Empty(t, topics)
}
