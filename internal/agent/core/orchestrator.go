package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

const (
	DefaultRunTimeout = 2 * time.Minute
	publishTimeout    = 5 * time.Second
)

var orchestratorTracer trace.Tracer = otel.Tracer("newsbrief/internal/agent/orchestrator")

// Options wires the stages of an Orchestrator
type Options struct {
	Classifier   *Classifier
	Dispatcher   Dispatcher
	Consolidator *Consolidator
	Summarizer   *Summarizer
	// Memory is owned by the orchestrator; nil creates an in-process store.
	Memory     *memory.Memory
	Events     EventSink
	Logger     *zap.Logger
	Telemetry  *telemetry.Telemetry
	RunTimeout time.Duration
}

// Orchestrator runs classify, dispatch, consolidate and summarize in order
// and owns the session memory shared by its runs
type Orchestrator struct {
	classifier   *Classifier
	dispatcher   Dispatcher
	consolidator *Consolidator
	summarizer   *Summarizer
	memory       *memory.Memory
	events       EventSink
	logger       *zap.Logger
	telemetry    *telemetry.Telemetry
	runTimeout   time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	seq    uint64
	active map[string]*runState
	last   State
}

// runState is the position of one in-flight run. seq orders runs by start.
type runState struct {
	seq   uint64
	state State
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Classifier == nil || opts.Dispatcher == nil || opts.Summarizer == nil {
		return nil, errors.New("orchestrator requires a classifier, a dispatcher and a summarizer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	consolidator := opts.Consolidator
	if consolidator == nil {
		consolidator = NewConsolidator(logger, opts.Telemetry)
	}
	mem := opts.Memory
	if mem == nil {
		mem = memory.New(nil, memory.DefaultCapacity, logger)
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Orchestrator{
		classifier:   opts.Classifier,
		dispatcher:   opts.Dispatcher,
		consolidator: consolidator,
		summarizer:   opts.Summarizer,
		memory:       mem,
		events:       opts.Events,
		logger:       logger.Named("orchestrator"),
		telemetry:    opts.Telemetry,
		runTimeout:   timeout,
		now:          time.Now,
		active:       map[string]*runState{},
		last:         StateIdle,
	}, nil
}

// State reports the stage of the latest started run that is still in
// flight. With no run in flight it is the outcome of the run that finished
// last, or idle before any run.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var latest *runState
	for _, rs := range o.active {
		if latest == nil || rs.seq > latest.seq {
			latest = rs
		}
	}
	if latest != nil {
		return latest.state
	}
	return o.last
}

// RunState reports the stage of the in-flight run id.
func (o *Orchestrator) RunState(id string) (State, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rs, ok := o.active[id]
	if !ok {
		return "", false
	}
	return rs.state, true
}

// Memory exposes the session memory.
func (o *Orchestrator) Memory() *memory.Memory { return o.memory }

// ResetMemory forgets everything remembered across runs.
func (o *Orchestrator) ResetMemory(ctx context.Context) error {
	return o.memory.Clear(ctx)
}

func (o *Orchestrator) begin(id string) {
	o.mu.Lock()
	o.seq++
	o.active[id] = &runState{seq: o.seq, state: StateIdle}
	o.mu.Unlock()
}

func (o *Orchestrator) advance(id string, s State) {
	o.mu.Lock()
	if rs, ok := o.active[id]; ok {
		rs.state = s
	}
	o.mu.Unlock()
}

func (o *Orchestrator) end(id string, s State) {
	o.mu.Lock()
	delete(o.active, id)
	o.last = s
	o.mu.Unlock()
}

// Run executes one brief for query. The caller's deadline applies; when it
// has none the configured run timeout does. The result is either a complete
// artifact, possibly the no-results one, or a *StageError.
func (o *Orchestrator) Run(ctx context.Context, query string) (models.Artifact, error) {
	req := models.Request{
		ID:         uuid.New().String(),
		Query:      strings.TrimSpace(query),
		ReceivedAt: o.now().UTC(),
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	o.begin(req.ID)

	ctx, span := orchestratorTracer.Start(ctx, "brief.run",
		trace.WithAttributes(attribute.String("run.id", req.ID)))
	defer span.End()

	o.logger.Info("run started", zap.String("run_id", req.ID), zap.String("query", req.Query))
	ev := telemetry.RunEvent{RunID: req.ID, Query: req.Query, StartedAt: req.ReceivedAt}

	art, err := o.run(ctx, req, &ev)

	ev.FinishedAt = o.now().UTC()
	ev.Duration = ev.FinishedAt.Sub(ev.StartedAt)
	if err != nil {
		o.end(req.ID, StateFailed)
		ev.Status = string(StateFailed)
		ev.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			ev.Stage = string(se.Stage)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		o.end(req.ID, StateDone)
		ev.Status = string(StateDone)
		span.SetStatus(codes.Ok, "completed")
	}
	o.finish(ctx, ev)
	return art, err
}

func (o *Orchestrator) run(ctx context.Context, req models.Request, ev *telemetry.RunEvent) (models.Artifact, error) {
	var topics []models.Topic
	_ = o.stage(ctx, req.ID, StateClassifying, func(ctx context.Context) error {
		topics = o.classify(ctx, req)
		return nil
	})
	ev.Topics = topicStrings(topics)

	var batches models.Batches
	if err := o.stage(ctx, req.ID, StateDispatching, func(ctx context.Context) error {
		var err error
		batches, err = o.dispatcher.Dispatch(ctx, req, topics, o.memory)
		return err
	}); err != nil {
		return models.Artifact{}, &StageError{Stage: StateDispatching, Err: fmt.Errorf("dispatch cancelled: %w", err)}
	}
	failures := batches.Failures()
	if len(failures) > 0 {
		ev.Failures = make(map[string]string, len(failures))
		for t, reason := range failures {
			ev.Failures[string(t)] = reason
		}
	}

	var set models.ConsolidatedSet
	if err := o.stage(ctx, req.ID, StateConsolidating, func(ctx context.Context) error {
		var err error
		set, err = o.consolidator.Consolidate(ctx, batches, o.memory)
		return err
	}); err != nil {
		return models.Artifact{}, &StageError{Stage: StateConsolidating, Err: err}
	}
	ev.RawCount = set.Stats.RawCount
	ev.UniqueCount = set.Stats.UniqueCount

	var art models.Artifact
	if err := o.stage(ctx, req.ID, StateSummarizing, func(ctx context.Context) error {
		var err error
		art, err = o.summarizer.Summarize(ctx, req, set)
		return err
	}); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return models.Artifact{}, err
		}
		return models.Artifact{}, stageError(StateSummarizing, ErrSummarization, err)
	}
	ev.NoResults = art.NoResults

	art.Topics = topics
	if len(failures) > 0 {
		art.Failures = failures
	}
	return art, nil
}

// stage moves run id into s and times fn under its own span.
func (o *Orchestrator) stage(ctx context.Context, id string, s State, fn func(ctx context.Context) error) error {
	o.advance(id, s)
	start := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "brief."+string(s))
	defer span.End()

	err := fn(ctx)
	o.telemetry.RecordStage(string(s), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "completed")
	return nil
}

// classify allows exactly one retry of a failed generation call, unless
// the failure is known to be permanent or the run is already over. It never
// fails: the default topic is used instead.
func (o *Orchestrator) classify(ctx context.Context, req models.Request) []models.Topic {
	topics, err := o.classifier.Classify(ctx, req)
	if err == nil {
		return topics
	}
	if !errors.Is(err, provider.ErrHard) && ctx.Err() == nil {
		o.logger.Warn("classification failed, retrying once", zap.String("run_id", req.ID), zap.Error(err))
		o.telemetry.RecordClassifierRetry()
		topics, err = o.classifier.Classify(ctx, req)
		if err == nil {
			return topics
		}
	}
	o.logger.Warn("classification failed, using fallback topic",
		zap.String("run_id", req.ID),
		zap.Any("fallback", o.classifier.Fallback()),
		zap.Error(err))
	o.telemetry.RecordClassifierFallback()
	return o.classifier.Fallback()
}

func (o *Orchestrator) finish(ctx context.Context, ev telemetry.RunEvent) {
	o.telemetry.RecordRun(ev)
	if o.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.events.PublishRun(pctx, ev); err != nil {
		o.logger.Warn("publishing run event failed", zap.String("run_id", ev.RunID), zap.Error(err))
	}
}

func topicStrings(topics []models.Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}
