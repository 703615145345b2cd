package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagMetrics describes how far a consumer group trails its stream.
type LagMetrics struct {
	Length     int64
	Pending    int64
	Lag        int64 // -1 when the group is unknown or Redis cannot tell
	Consumers  int64
	OldestIdle time.Duration
}

// GroupLag inspects group on stream.
func GroupLag(ctx context.Context, client redis.UniversalClient, stream, group string) (LagMetrics, error) {
	if stream == "" || group == "" {
		return LagMetrics{}, errors.New("stream and group must be provided")
	}
	m := LagMetrics{Lag: -1}

	n, err := client.XLen(ctx, stream).Result()
	if err != nil {
		return m, fmt.Errorf("xlen: %w", err)
	}
	m.Length = n

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return m, fmt.Errorf("xinfo groups: %w", err)
	}
	for _, g := range groups {
		if g.Name == group {
			m.Pending, m.Lag, m.Consumers = g.Pending, g.Lag, g.Consumers
			break
		}
	}
	if m.Pending == 0 {
		return m, nil
	}

	oldest, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream, Group: group, Start: "-", End: "+", Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return m, fmt.Errorf("xpending: %w", err)
	}
	if len(oldest) > 0 {
		m.OldestIdle = oldest[0].Idle
	}
	return m, nil
}
