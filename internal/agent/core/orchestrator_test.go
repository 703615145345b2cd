package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.RunEvent
	err    error
}

func (s *recordingSink) PublishRun(_ context.Context, ev telemetry.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

type harness struct {
	classifier *fakeGen
	summarizer *fakeGen
	workerMu   sync.Mutex
	workerRuns []models.Topic
	hints      map[models.Topic]string
	sink       *recordingSink
	tel        *telemetry.Telemetry
	orch       *Orchestrator
}

func newHarness(t *testing.T, classifier, summarizer *fakeGen, work func(ctx context.Context, topic models.Topic) ([]models.ResultItem, error)) *harness {
	t.Helper()
	h := &harness{
		classifier: classifier,
		summarizer: summarizer,
		hints:      map[models.Topic]string{},
		sink:       &recordingSink{},
		tel:        telemetry.NewTelemetry(nil),
	}
	c, err := NewClassifier(classifier, nil, 3, "general", nil, h.tel)
	require.NoError(t, err)
	w := WorkerFunc(func(ctx context.Context, _ models.Request, topic models.Topic, hint string) ([]models.ResultItem, error) {
		h.workerMu.Lock()
		h.workerRuns = append(h.workerRuns, topic)
		h.hints[topic] = hint
		h.workerMu.Unlock()
		return work(ctx, topic)
	})
	d, err := NewDispatcher(StrategyConcurrent, w, 200*time.Millisecond, nil, h.tel)
	require.NoError(t, err)
	s, err := NewSummarizer(summarizer, 5, nil, h.tel)
	require.NoError(t, err)

	h.orch, err = NewOrchestrator(Options{
		Classifier: c,
		Dispatcher: d,
		Summarizer: s,
		Memory:     memory.New(nil, 5, nil),
		Events:     h.sink,
		Telemetry:  h.tel,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) workers() []models.Topic {
	h.workerMu.Lock()
	defer h.workerMu.Unlock()
	return append([]models.Topic(nil), h.workerRuns...)
}

func TestRunAIAndMarkets(t *testing.T) {
	h := newHarness(t,
		replies(reply{out: `["technology","business"]`}),
		replies(reply{out: "- AI and markets move together"}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			its := items(topic, 3)
			if topic == models.TopicBusiness {
				its[2] = item(topic, "Technology story 0", "https://business.example.com/dup")
			}
			return its, nil
		})

	art, err := h.orch.Run(context.Background(), "ai and markets update")
	require.NoError(t, err)

	assert.Equal(t, StateDone, h.orch.State())
	assert.Equal(t, 6, art.Stats.RawCount)
	assert.Equal(t, 5, art.Stats.UniqueCount)
	assert.ElementsMatch(t, []models.Topic{models.TopicTechnology, models.TopicBusiness}, art.Stats.Topics)
	assert.Equal(t, []models.Topic{models.TopicTechnology, models.TopicBusiness}, art.Topics)
	assert.NotEmpty(t, art.Summary)
	assert.False(t, art.NoResults)
	assert.Empty(t, art.Failures)
	assert.NotEmpty(t, art.RunID)
	assert.Equal(t, "ai and markets update", art.Query)
	assert.Equal(t, 1, h.classifier.Calls())
	assert.Equal(t, 1, h.summarizer.Calls())

	rendered := art.Render()
	assert.Contains(t, rendered, "**Categories analyzed:** technology, business")
	assert.Contains(t, rendered, "*Statistics: 6 articles gathered, 5 unique, 2 categories*")

	require.Len(t, h.sink.events, 1)
	ev := h.sink.events[0]
	assert.Equal(t, art.RunID, ev.RunID)
	assert.Equal(t, "done", ev.Status)
	assert.Equal(t, 5, ev.UniqueCount)
	assert.EqualValues(t, 1, h.tel.GetMetrics().SuccessfulRuns)
}

func TestRunClassifierFailsTwiceFallsBackToGeneral(t *testing.T) {
	down := errors.New("connection reset")
	h := newHarness(t,
		replies(reply{err: down}, reply{err: down}, reply{out: `["sports"]`}),
		replies(reply{out: "summary"}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			return items(topic, 2), nil
		})

	art, err := h.orch.Run(context.Background(), "anything")
	require.NoError(t, err)

	assert.Equal(t, 2, h.classifier.Calls(), "exactly one retry")
	assert.Equal(t, []models.Topic{models.TopicGeneral}, h.workers())
	assert.Equal(t, []models.Topic{models.TopicGeneral}, art.Topics)
	assert.Equal(t, StateDone, h.orch.State())
	assert.EqualValues(t, 1, h.tel.GetMetrics().ClassifierFallback)
}

func TestRunClassifierRetrySucceeds(t *testing.T) {
	h := newHarness(t,
		replies(reply{err: provider.Transient("chat completion", errors.New("429"))}, reply{out: `["health"]`}),
		replies(reply{out: "summary"}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			return items(topic, 1), nil
		})

	art, err := h.orch.Run(context.Background(), "flu season")
	require.NoError(t, err)
	assert.Equal(t, 2, h.classifier.Calls())
	assert.Equal(t, []models.Topic{models.TopicHealth}, art.Topics)
}

func TestRunClassifierHardFailureSkipsRetry(t *testing.T) {
	h := newHarness(t,
		replies(reply{err: provider.Hard("chat completion", errors.New("401"))}),
		replies(reply{out: "summary"}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			return items(topic, 1), nil
		})

	art, err := h.orch.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, h.classifier.Calls())
	assert.Equal(t, []models.Topic{models.TopicGeneral}, art.Topics)
}

func TestRunAllWorkersFailYieldsNoResults(t *testing.T) {
	h := newHarness(t,
		replies(reply{out: `["sports","health","science"]`}),
		replies(reply{out: "must not be called"}),
		func(context.Context, models.Topic) ([]models.ResultItem, error) {
			return nil, errors.New("newsapi down")
		})

	art, err := h.orch.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, art.NoResults)
	assert.Equal(t, NoResultsSummary, art.Summary)
	assert.Equal(t, 0, art.Stats.UniqueCount)
	assert.Equal(t, 0, h.summarizer.Calls())
	assert.Len(t, art.Failures, 3)
	assert.Equal(t, StateDone, h.orch.State())
}

func TestRunPartialFailureIsolation(t *testing.T) {
	h := newHarness(t,
		replies(reply{out: `["technology","business","sports"]`}),
		replies(reply{out: "summary"}),
		func(ctx context.Context, topic models.Topic) ([]models.ResultItem, error) {
			if topic == models.TopicBusiness {
				<-ctx.Done() // hangs until its own deadline
				return nil, ctx.Err()
			}
			return items(topic, 2), nil
		})

	start := time.Now()
	art, err := h.orch.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, StateDone, h.orch.State())
	assert.Equal(t, 4, art.Stats.UniqueCount)
	assert.Equal(t, []models.Topic{models.TopicTechnology, models.TopicSports}, art.Stats.Topics)
	require.Contains(t, art.Failures, models.TopicBusiness)
	assert.Contains(t, art.Failures[models.TopicBusiness], "timed out")
}

func TestRunSummarizerFailure(t *testing.T) {
	h := newHarness(t,
		replies(reply{out: `["sports"]`}),
		replies(reply{err: errors.New("model overloaded")}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			return items(topic, 2), nil
		})
	h.sink.err = errors.New("redis down")

	_, err := h.orch.Run(context.Background(), "x")
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateSummarizing, se.Stage)
	assert.ErrorIs(t, err, ErrSummarization)
	assert.Equal(t, StateFailed, h.orch.State())

	require.Len(t, h.sink.events, 1)
	assert.Equal(t, "failed", h.sink.events[0].Status)
	assert.Equal(t, "summarizing", h.sink.events[0].Stage)

	// Memory was still updated after consolidation.
	recent, err := h.orch.Memory().Recent(context.Background(), models.TopicSports)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRunCancelledDuringDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t,
		replies(reply{out: `["sports","health"]`}),
		replies(reply{out: "summary"}),
		func(wctx context.Context, topic models.Topic) ([]models.ResultItem, error) {
			if topic == models.TopicSports {
				cancel()
			}
			<-wctx.Done()
			return nil, wctx.Err()
		})

	_, err := h.orch.Run(ctx, "x")
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateDispatching, se.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, h.orch.State())
	assert.Equal(t, 0, h.summarizer.Calls())

	snap, err := h.orch.Memory().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestRunMemoryHintsSpanRuns(t *testing.T) {
	run := 0
	var mu sync.Mutex
	h := newHarness(t,
		replies(reply{out: `["sports"]`}),
		replies(reply{out: "summary"}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			mu.Lock()
			defer mu.Unlock()
			run++
			if run == 1 {
				return []models.ResultItem{item(topic, "Derby ends in draw", "https://bbc.co.uk/derby")}, nil
			}
			return []models.ResultItem{item(topic, "Transfer window opens", "https://bbc.co.uk/transfer")}, nil
		})

	_, err := h.orch.Run(context.Background(), "football")
	require.NoError(t, err)
	assert.Empty(t, h.hints[models.TopicSports])

	_, err = h.orch.Run(context.Background(), "football")
	require.NoError(t, err)
	assert.True(t, strings.Contains(h.hints[models.TopicSports], `"derby ends in draw"`), h.hints[models.TopicSports])

	require.NoError(t, h.orch.ResetMemory(context.Background()))
	recent, err := h.orch.Memory().Recent(context.Background(), models.TopicSports)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRunAppliesDefaultTimeout(t *testing.T) {
	h := newHarness(t,
		replies(reply{out: `["sports"]`}),
		replies(reply{out: "summary"}),
		func(ctx context.Context, topic models.Topic) ([]models.ResultItem, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return items(topic, 1), nil
		})
	_, err := h.orch.Run(context.Background(), "x")
	require.NoError(t, err)
}

func TestNewOrchestratorRequiresStages(t *testing.T) {
	_, err := NewOrchestrator(Options{})
	require.Error(t, err)
}

func TestOrchestratorStartsIdle(t *testing.T) {
	h := newHarness(t, replies(reply{out: `[]`}), replies(reply{}), func(context.Context, models.Topic) ([]models.ResultItem, error) { return nil, nil })
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestConcurrentRunsKeepTheirOwnState(t *testing.T) {
	tel := telemetry.NewTelemetry(nil)
	c, err := NewClassifier(&fakeGen{fn: func(_ int, p provider.Prompt) (string, error) {
		if p.Input == "slow" {
			return `["sports"]`, nil
		}
		return `["science"]`, nil
	}}, nil, 3, "general", nil, tel)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	w := WorkerFunc(func(ctx context.Context, _ models.Request, topic models.Topic, _ string) ([]models.ResultItem, error) {
		if topic == models.TopicSports {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return items(topic, 2), nil
	})
	d, err := NewDispatcher(StrategyConcurrent, w, 10*time.Second, nil, tel)
	require.NoError(t, err)
	s, err := NewSummarizer(replies(reply{out: "- summary"}), 5, nil, tel)
	require.NoError(t, err)
	sink := &recordingSink{}
	orch, err := NewOrchestrator(Options{Classifier: c, Dispatcher: d, Summarizer: s, Events: sink, Telemetry: tel})
	require.NoError(t, err)

	type result struct {
		art models.Artifact
		err error
	}
	slow := make(chan result, 1)
	go func() {
		art, err := orch.Run(context.Background(), "slow")
		slow <- result{art, err}
	}()
	<-started

	fast, err := orch.Run(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, []models.Topic{models.TopicScience}, fast.Topics)

	// the fast run finished, the slow one is still dispatching
	assert.Equal(t, StateDispatching, orch.State())
	_, ok := orch.RunState(fast.RunID)
	assert.False(t, ok)

	close(release)
	r := <-slow
	require.NoError(t, r.err)
	assert.Equal(t, []models.Topic{models.TopicSports}, r.art.Topics)
	assert.Equal(t, StateDone, orch.State())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	assert.Equal(t, fast.RunID, sink.events[0].RunID)
	assert.Equal(t, []string{"science"}, sink.events[0].Topics)
	assert.Equal(t, r.art.RunID, sink.events[1].RunID)
	assert.Equal(t, []string{"sports"}, sink.events[1].Topics)
	for _, ev := range sink.events {
		assert.Equal(t, string(StateDone), ev.Status)
	}
}

func TestRunStateTracksInFlightRun(t *testing.T) {
	var h *harness
	h = newHarness(t,
		replies(reply{out: `["sports"]`}),
		replies(reply{out: "summary"}),
		func(_ context.Context, topic models.Topic) ([]models.ResultItem, error) {
			assert.Equal(t, StateDispatching, h.orch.State())
			return items(topic, 1), nil
		})
	art, err := h.orch.Run(context.Background(), "x")
	require.NoError(t, err)
	_, ok := h.orch.RunState(art.RunID)
	assert.False(t, ok)
	assert.Equal(t, StateDone, h.orch.State())
}
