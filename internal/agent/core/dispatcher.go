package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
)

const DefaultWorkerTimeout = 45 * time.Second

const (
	StrategyConcurrent = "concurrent"
	StrategySequential = "sequential"
)

// NewDispatcher returns the dispatcher for strategy.
func NewDispatcher(strategy string, worker Worker, timeout time.Duration, logger *zap.Logger, tel *telemetry.Telemetry) (Dispatcher, error) {
	if worker == nil {
		return nil, errors.New("dispatcher requires a worker")
	}
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := dispatch{worker: worker, timeout: timeout, logger: logger.Named("dispatcher"), telemetry: tel}
	switch strategy {
	case "", StrategyConcurrent:
		return &ConcurrentDispatcher{dispatch: base}, nil
	case StrategySequential:
		return &SequentialDispatcher{dispatch: base}, nil
	default:
		return nil, fmt.Errorf("unknown dispatch strategy %q", strategy)
	}
}

type dispatch struct {
	worker    Worker
	timeout   time.Duration
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

// ConcurrentDispatcher runs every worker at once and waits for all of them
type ConcurrentDispatcher struct {
	dispatch
}

func (d *ConcurrentDispatcher) Dispatch(ctx context.Context, req models.Request, topics []models.Topic, mem *memory.Memory) (models.Batches, error) {
	hints := collectHints(ctx, topics, mem)
	batches := make(models.Batches, len(topics))

	// Workers report failures through their batch and never return an
	// error, so one failure cannot cancel its siblings.
	var g errgroup.Group
	for i, topic := range topics {
		g.Go(func() error {
			batches[i] = d.run(ctx, req, topic, hints[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// SequentialDispatcher runs workers one after another in topic order
type SequentialDispatcher struct {
	dispatch
}

func (d *SequentialDispatcher) Dispatch(ctx context.Context, req models.Request, topics []models.Topic, mem *memory.Memory) (models.Batches, error) {
	hints := collectHints(ctx, topics, mem)
	batches := make(models.Batches, 0, len(topics))
	for i, topic := range topics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batches = append(batches, d.run(ctx, req, topic, hints[i]))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// collectHints reads memory for every topic before any worker starts.
func collectHints(ctx context.Context, topics []models.Topic, mem *memory.Memory) []string {
	hints := make([]string, len(topics))
	if mem == nil {
		return hints
	}
	for i, t := range topics {
		hints[i] = mem.Hint(ctx, t)
	}
	return hints
}

type workerResult struct {
	items []models.ResultItem
	err   error
}

// run executes one worker under its own deadline. A worker that ignores its
// context is abandoned when the deadline fires; its goroutine exits on its
// own once Run returns.
func (d *dispatch) run(ctx context.Context, req models.Request, topic models.Topic, hint string) models.WorkerBatch {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan workerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- workerResult{err: fmt.Errorf("%w: panic: %v", ErrWorker, r)}
			}
		}()
		items, err := d.worker.Run(wctx, req, topic, hint)
		done <- workerResult{items: items, err: err}
	}()

	var res workerResult
	select {
	case res = <-done:
	case <-wctx.Done():
		res.err = wctx.Err()
	}
	if res.err != nil {
		switch {
		case errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			res.err = fmt.Errorf("%w: timed out after %s: %w", ErrWorker, d.timeout, res.err)
		case !errors.Is(res.err, ErrWorker):
			res.err = fmt.Errorf("%w: %w", ErrWorker, res.err)
		}
	}

	took := time.Since(start)
	d.telemetry.RecordWorker(string(topic), res.err == nil, took)
	if res.err != nil {
		d.logger.Warn("worker failed",
			zap.String("run_id", req.ID),
			zap.String("topic", string(topic)),
			zap.Duration("took", took),
			zap.Error(res.err))
		b := models.FailedBatch(topic, res.err)
		b.Duration = took
		return b
	}

	items := make([]models.ResultItem, len(res.items))
	for i, it := range res.items {
		it.Topic = topic
		items[i] = it
	}
	d.logger.Debug("worker finished",
		zap.String("run_id", req.ID),
		zap.String("topic", string(topic)),
		zap.Int("items", len(items)),
		zap.Duration("took", took))
	return models.WorkerBatch{Topic: topic, Items: items, Status: models.BatchSucceeded, Duration: took}
}
