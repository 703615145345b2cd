package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Consumer reads envelopes from one stream as a member of a consumer group.
type Consumer struct {
	client redis.UniversalClient
	stream string
	group  string
	name   string
	logger *zap.Logger
}

// Message is one decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// ReadOptions bound a single read. Zero values mean one entry and no blocking.
type ReadOptions struct {
	Count int64
	Block time.Duration
}

// NewConsumer joins group on stream as name.
func NewConsumer(client redis.UniversalClient, stream, group, name string, logger *zap.Logger) (*Consumer, error) {
	if stream == "" || group == "" || name == "" {
		return nil, errors.New("stream, group and consumer name must be provided")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, stream: stream, group: group, name: name, logger: logger.Named("streams")}, nil
}

// EnsureGroup creates group if it does not exist. start is the first entry
// the group sees: "$" for new entries only, "0" for the whole stream.
func EnsureGroup(ctx context.Context, client redis.UniversalClient, stream, group, start string) error {
	if stream == "" || group == "" {
		return errors.New("stream and group must be provided")
	}
	if start == "" {
		start = "$"
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read returns entries not yet delivered to the group. Entries that do not
// carry a valid envelope are acknowledged and skipped.
func (c *Consumer) Read(ctx context.Context, opts ReadOptions) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    opts.Count,
		Block:    opts.Block,
	}
	if args.Block == 0 {
		args.Block = -1 // omit BLOCK
	}
	res, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range res {
		for _, entry := range st.Messages {
			env, err := envelopeOf(entry)
			if err != nil {
				c.logger.Warn("dropping stream entry", zap.String("stream", c.stream), zap.String("id", entry.ID), zap.Error(err))
				_ = c.Ack(ctx, entry.ID)
				continue
			}
			out = append(out, Message{ID: entry.ID, Envelope: env})
		}
	}
	return out, nil
}

// Ack acknowledges ids for the group.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Tail reads until ctx is done, handing every message to handle and
// acknowledging it once handle returns nil. A handle error stops the tail.
// Handled messages are acknowledged even if ctx ends meanwhile.
func (c *Consumer) Tail(ctx context.Context, opts ReadOptions, handle func(Message) error) error {
	ackCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		msgs, err := c.Read(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		for _, m := range msgs {
			if err := handle(m); err != nil {
				return err
			}
			if err := c.Ack(ackCtx, m.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lag reports how far the group trails the stream.
func (c *Consumer) Lag(ctx context.Context) (LagMetrics, error) {
	return GroupLag(ctx, c.client, c.stream, c.group)
}

func envelopeOf(entry redis.XMessage) (Envelope, error) {
	raw, ok := entry.Values["envelope"]
	if !ok {
		return Envelope{}, errors.New("missing envelope field")
	}
	switch v := raw.(type) {
	case string:
		return ParseEnvelope([]byte(v))
	case []byte:
		return ParseEnvelope(v)
	default:
		return Envelope{}, fmt.Errorf("unexpected envelope value %T", raw)
	}
}
