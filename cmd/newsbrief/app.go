package main

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/newsbrief/config"
	"github.com/mohammad-safakhou/newsbrief/internal/agent/core"
	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/internal/queue/streams"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/news"
	"github.com/mohammad-safakhou/newsbrief/news/newsapi"
	"github.com/mohammad-safakhou/newsbrief/provider"
	openai_provider "github.com/mohammad-safakhou/newsbrief/provider/openai"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app is one wired pipeline plus the resources it owns.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	vocab     models.Vocabulary
	telemetry *telemetry.Telemetry
	memory    *memory.Memory
	orch      *core.Orchestrator
	redis     *redis.Client
}

// deps are the external collaborators of the pipeline.
type deps struct {
	generator provider.Generator
	fetcher   news.Fetcher
	store     memory.Store
	events    core.EventSink
}

// newApp connects the configured backends and builds the pipeline.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	needRedis := cfg.Memory.Store == string(memory.RedisStore) || cfg.Events.Enabled
	if needRedis {
		r := cfg.Storage.Redis
		client, err := memory.Conn(ctx, r.Addr(), r.Password, r.DB, r.Timeout)
		if err != nil {
			return nil, err
		}
		a.redis = client
	}

	d := deps{
		generator: openai_provider.NewOpenAIClient(cfg.LLM, logger),
		fetcher:   newsapi.New(cfg.Sources.NewsAPI),
	}
	if cfg.Memory.Store == string(memory.RedisStore) {
		d.store = memory.NewRedis(a.redis, memory.RedisOptions{
			Prefix:   cfg.Memory.Prefix,
			Capacity: cfg.Memory.Capacity,
			TTL:      cfg.Memory.TTL,
		})
	}
	if cfg.Events.Enabled {
		d.events = streams.NewRunPublisher(streams.NewPublisher(a.redis), cfg.Events.Stream, cfg.Events.MaxLen)
	}

	if err := a.build(d); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// build assembles the core pipeline around d.
func (a *app) build(d deps) error {
	cfg := a.cfg
	pc := cfg.Pipeline.Normalize()

	vocab, err := models.ParseVocabulary(pc.Topics)
	if err != nil {
		return fmt.Errorf("pipeline.topics: %w", err)
	}
	a.vocab = vocab
	a.telemetry = telemetry.NewTelemetry(a.logger)
	a.memory = memory.New(d.store, cfg.Memory.Capacity, a.logger)

	classifier, err := core.NewClassifier(d.generator, vocab, pc.MaxTopics, models.NormalizeTopic(pc.DefaultTopic), a.logger, a.telemetry)
	if err != nil {
		return err
	}
	worker := core.NewNewsWorker(d.generator, d.fetcher, pc.FetchLimit, a.logger)
	dispatcher, err := core.NewDispatcher(pc.Strategy, worker, pc.WorkerTimeout, a.logger, a.telemetry)
	if err != nil {
		return err
	}
	summarizer, err := core.NewSummarizer(d.generator, pc.SummaryBullets, a.logger, a.telemetry)
	if err != nil {
		return err
	}
	orch, err := core.NewOrchestrator(core.Options{
		Classifier:   classifier,
		Dispatcher:   dispatcher,
		Consolidator: core.NewConsolidator(a.logger, a.telemetry),
		Summarizer:   summarizer,
		Memory:       a.memory,
		Events:       d.events,
		Logger:       a.logger,
		Telemetry:    a.telemetry,
		RunTimeout:   pc.RunTimeout,
	})
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// serveMetrics exposes /metrics on the telemetry port when enabled.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Telemetry.Enabled {
		return
	}
	go func() {
		if err := a.telemetry.Serve(ctx, a.cfg.Telemetry.MetricsPort); err != nil {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
