package core

import (
	"context"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
)

// State is the position of a run in the pipeline
type State string

const (
	StateIdle          State = "idle"
	StateClassifying   State = "classifying"
	StateDispatching   State = "dispatching"
	StateConsolidating State = "consolidating"
	StateSummarizing   State = "summarizing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Worker produces items for one topic. hint is advisory and may be empty.
type Worker interface {
	Run(ctx context.Context, req models.Request, topic models.Topic, hint string) ([]models.ResultItem, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, req models.Request, topic models.Topic, hint string) ([]models.ResultItem, error)

func (f WorkerFunc) Run(ctx context.Context, req models.Request, topic models.Topic, hint string) ([]models.ResultItem, error) {
	return f(ctx, req, topic, hint)
}

// Dispatcher runs one worker per topic and returns one batch per topic in
// input order. It returns an error only when ctx is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.Request, topics []models.Topic, mem *memory.Memory) (models.Batches, error)
}

// EventSink receives finished runs.
type EventSink interface {
	PublishRun(ctx context.Context, ev telemetry.RunEvent) error
}
