package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "newsbrief"

// Summary outcomes recorded by RecordSummary.
const (
	SummaryGenerated = "generated"
	SummaryNoResults = "no_results"
	SummaryFailed    = "failed"
)

// RunEvent describes one finished orchestration run
type RunEvent struct {
	RunID       string            `json:"run_id"`
	Query       string            `json:"query"`
	Status      string            `json:"status"` // done | failed
	Stage       string            `json:"stage,omitempty"`
	Error       string            `json:"error,omitempty"`
	Topics      []string          `json:"topics"`
	RawCount    int               `json:"raw_count"`
	UniqueCount int               `json:"unique_count"`
	NoResults   bool              `json:"no_results"`
	Failures    map[string]string `json:"failures,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Duration    time.Duration     `json:"duration"`
}

// Succeeded reports whether the run reached done.
func (e RunEvent) Succeeded() bool { return e.Status == "done" }

// Metrics is a point-in-time summary of recorded runs
type Metrics struct {
	TotalRuns          int64
	SuccessfulRuns     int64
	FailedRuns         int64
	AverageRunTime     time.Duration
	WorkerFailures     map[string]int64
	ClassifierFallback int64
	SummaryFailures    int64
}

// Telemetry records pipeline metrics into its own Prometheus registry
type Telemetry struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	runs                *prometheus.CounterVec
	runDuration         prometheus.Histogram
	stageDuration       *prometheus.HistogramVec
	workerRuns          *prometheus.CounterVec
	workerDuration      *prometheus.HistogramVec
	classifierRetries   prometheus.Counter
	classifierFallbacks prometheus.Counter
	itemsGathered       prometheus.Counter
	itemsUnique         prometheus.Counter
	summaries           *prometheus.CounterVec
	summaryDuration     prometheus.Histogram
	summaryInputItems   prometheus.Histogram

	mu        sync.RWMutex
	totals    Metrics
	totalTime time.Duration
}

// NewTelemetry creates collectors and registers them with a fresh registry.
func NewTelemetry(logger *zap.Logger) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		logger:   logger.Named("telemetry"),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Finished orchestration runs by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds", Help: "End to end run latency.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds", Help: "Latency per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		workerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_runs_total", Help: "Worker invocations by topic and outcome.",
		}, []string{"topic", "status"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "worker_duration_seconds", Help: "Worker latency per topic.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		classifierRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "classifier_retries_total", Help: "Classifier generation retries.",
		}),
		classifierFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "classifier_fallbacks_total", Help: "Runs routed to the default topic.",
		}),
		itemsGathered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_gathered_total", Help: "Items returned by workers before dedup.",
		}),
		itemsUnique: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_unique_total", Help: "Items kept after dedup.",
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "summaries_total", Help: "Summarizer outcomes.",
		}, []string{"outcome"}),
		summaryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "summary_generation_seconds", Help: "Latency of the summary generation call.",
			Buckets: prometheus.DefBuckets,
		}),
		summaryInputItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "summary_input_items", Help: "Items handed to the summary generation call.",
			Buckets: []float64{1, 5, 10, 20, 40, 80},
		}),
		totals: Metrics{WorkerFailures: map[string]int64{}},
	}
	t.registry.MustRegister(
		t.runs, t.runDuration, t.stageDuration,
		t.workerRuns, t.workerDuration,
		t.classifierRetries, t.classifierFallbacks,
		t.itemsGathered, t.itemsUnique,
		t.summaries, t.summaryDuration, t.summaryInputItems,
	)
	return t
}

// Registry exposes the underlying registry.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on port until ctx is cancelled.
func (t *Telemetry) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	t.logger.Info("metrics listening", zap.Int("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// RecordStage observes how long one stage took.
func (t *Telemetry) RecordStage(stage string, d time.Duration) {
	if t == nil {
		return
	}
	t.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordWorker counts one worker outcome.
func (t *Telemetry) RecordWorker(topic string, ok bool, d time.Duration) {
	if t == nil {
		return
	}
	status := "succeeded"
	if !ok {
		status = "failed"
		t.mu.Lock()
		t.totals.WorkerFailures[topic]++
		t.mu.Unlock()
	}
	t.workerRuns.WithLabelValues(topic, status).Inc()
	t.workerDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (t *Telemetry) RecordClassifierRetry() {
	if t == nil {
		return
	}
	t.classifierRetries.Inc()
}

func (t *Telemetry) RecordClassifierFallback() {
	if t == nil {
		return
	}
	t.classifierFallbacks.Inc()
	t.mu.Lock()
	t.totals.ClassifierFallback++
	t.mu.Unlock()
}

// RecordConsolidation counts items before and after dedup.
func (t *Telemetry) RecordConsolidation(raw, unique int) {
	if t == nil {
		return
	}
	t.itemsGathered.Add(float64(raw))
	t.itemsUnique.Add(float64(unique))
}

// RecordSummary counts one summarizer outcome. Generation latency and input
// size are observed only when the model was called.
func (t *Telemetry) RecordSummary(outcome string, items int, d time.Duration) {
	if t == nil {
		return
	}
	t.summaries.WithLabelValues(outcome).Inc()
	if outcome != SummaryNoResults {
		t.summaryDuration.Observe(d.Seconds())
		t.summaryInputItems.Observe(float64(items))
	}
	if outcome == SummaryFailed {
		t.mu.Lock()
		t.totals.SummaryFailures++
		t.mu.Unlock()
	}
}

// RecordRun counts a finished run and writes it to the run log.
func (t *Telemetry) RecordRun(ev RunEvent) {
	if t == nil {
		return
	}
	t.runs.WithLabelValues(ev.Status).Inc()
	t.runDuration.Observe(ev.Duration.Seconds())

	t.mu.Lock()
	t.totals.TotalRuns++
	if ev.Succeeded() {
		t.totals.SuccessfulRuns++
	} else {
		t.totals.FailedRuns++
	}
	t.totalTime += ev.Duration
	t.totals.AverageRunTime = t.totalTime / time.Duration(t.totals.TotalRuns)
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("status", ev.Status),
		zap.Strings("topics", ev.Topics),
		zap.Int("raw", ev.RawCount),
		zap.Int("unique", ev.UniqueCount),
		zap.Duration("took", ev.Duration),
	}
	if len(ev.Failures) > 0 {
		fields = append(fields, zap.Any("worker_failures", ev.Failures))
	}
	if ev.Succeeded() {
		t.logger.Info("run finished", fields...)
		return
	}
	fields = append(fields, zap.String("stage", ev.Stage), zap.String("error", ev.Error))
	t.logger.Warn("run failed", fields...)
}

// GetMetrics returns a copy of the running totals.
func (t *Telemetry) GetMetrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.totals
	out.WorkerFailures = make(map[string]int64, len(t.totals.WorkerFailures))
	for k, v := range t.totals.WorkerFailures {
		out.WorkerFailures[k] = v
	}
	return out
}
