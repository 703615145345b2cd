package streams

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RunCompletedEvent is the event type of a finished orchestration run.
	RunCompletedEvent = "brief.run.completed"
	// RunPayloadVersion is the current payload version of RunCompletedEvent.
	RunPayloadVersion = "v1"
)

// Publisher appends envelopes to Redis streams.
type Publisher struct {
	client redis.UniversalClient
}

// PublishOption allows configuring Redis XADD behaviour.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox sets an approximate max length for the stream.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// NewPublisher creates a Publisher instance.
func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish appends envelope to stream, stamping the trace id of ctx when it has one.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if envelope.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			envelope.TraceID = sc.TraceID().String()
		}
	}
	if err := envelope.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	for _, opt := range opts {
		opt(args)
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}


// RunPublisher emits one RunCompletedEvent per finished orchestration run.
type RunPublisher struct {
	publisher *Publisher
	stream    string
	maxLen    int64
}

// NewRunPublisher binds p to a stream, trimmed to roughly maxLen entries when maxLen > 0.
func NewRunPublisher(p *Publisher, stream string, maxLen int64) *RunPublisher {
	return &RunPublisher{publisher: p, stream: stream, maxLen: maxLen}
}

// PublishRun appends ev to the run stream.
func (r *RunPublisher) PublishRun(ctx context.Context, ev telemetry.RunEvent) error {
	env, err := NewEnvelope(RunCompletedEvent, RunPayloadVersion, ev)
	if err != nil {
		return err
	}
	_, err = r.publisher.Publish(ctx, r.stream, env, WithMaxLenApprox(r.maxLen))
	return err
}

// DecodeRun extracts the run event carried by env.
func DecodeRun(env Envelope) (telemetry.RunEvent, error) {
	var ev telemetry.RunEvent
	if !env.Is(RunCompletedEvent, RunPayloadVersion) {
		return ev, fmt.Errorf("unexpected event %s/%s", env.EventType, env.PayloadVersion)
	}
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return ev, fmt.Errorf("decode run event: %w", err)
	}
	return ev, nil
}
