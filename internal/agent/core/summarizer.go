package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/helpers"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

const (
	DefaultSummaryBullets = 5
	NoResultsSummary      = "No articles found."
)

// Summarizer turns a consolidated set into the final artifact
type Summarizer struct {
	gen     provider.Generator
	bullets int
	logger  *zap.Logger
	tel     *telemetry.Telemetry
	now     func() time.Time
}

func NewSummarizer(gen provider.Generator, bullets int, logger *zap.Logger, tel *telemetry.Telemetry) (*Summarizer, error) {
	if gen == nil {
		return nil, errors.New("summarizer requires a generator")
	}
	if bullets <= 0 {
		bullets = DefaultSummaryBullets
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{gen: gen, bullets: bullets, logger: logger.Named("summarizer"), tel: tel, now: time.Now}, nil
}

type summaryItem struct {
	Title       string `json:"title"`
	Source      string `json:"source,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Topic       string `json:"topic"`
}

// Summarize makes one generation call over set. An empty set yields the
// no-results artifact without calling the model. Any generation failure,
// including an empty answer, is returned as a *StageError.
func (s *Summarizer) Summarize(ctx context.Context, req models.Request, set models.ConsolidatedSet) (models.Artifact, error) {
	art := models.Artifact{
		RunID:     req.ID,
		Query:     req.Query,
		Stats:     set.Stats,
		CreatedAt: s.now().UTC(),
	}
	if len(set.Items) == 0 {
		art.Summary = NoResultsSummary
		art.NoResults = true
		s.tel.RecordSummary(telemetry.SummaryNoResults, 0, 0)
		return art, nil
	}

	payload := make([]summaryItem, len(set.Items))
	for i, it := range set.Items {
		payload[i] = summaryItem{Title: it.Title, Source: it.Source, URL: it.URL, Description: it.Description, Topic: string(it.Topic)}
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return models.Artifact{}, stageError(StateSummarizing, ErrSummarization, err)
	}

	start := time.Now()
	out, err := s.gen.Generate(ctx, provider.Prompt{
		Instructions: s.instructions(req),
		Input:        string(input),
	})
	took := time.Since(start)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		s.tel.RecordSummary(telemetry.SummaryFailed, len(set.Items), took)
		s.logger.Warn("summary generation failed", zap.String("run_id", req.ID), zap.Int("items", len(set.Items)), zap.Duration("took", took), zap.Error(err))
		return models.Artifact{}, stageError(StateSummarizing, ErrSummarization, err)
	}
	out = strings.TrimSpace(out)
	s.tel.RecordSummary(telemetry.SummaryGenerated, len(set.Items), took)

	art.Summary = out
	art.Sources = TopSources(set.Items)
	s.logger.Debug("summarized", zap.String("run_id", req.ID), zap.Int("items", len(set.Items)), zap.Int("chars", len(out)), zap.Duration("took", took))
	return art, nil
}

func (s *Summarizer) instructions(req models.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %d-bullet executive summary from the articles provided as JSON.\n", s.bullets)
	b.WriteString("Group related stories into themes. Include inline citations [Source](url) for every claim. Professional tone.\n")
	b.WriteString("Use only the articles given; do not invent facts or links.")
	if q := strings.TrimSpace(req.Query); q != "" {
		fmt.Fprintf(&b, "\nThe reader asked: %q", q)
	}
	return b.String()
}

// TopSources returns the sorted, distinct (source, host) pairs of items.
func TopSources(items []models.ResultItem) []models.SourceRef {
	refs := make([]models.SourceRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, models.SourceRef{Name: it.Source, Host: helpers.Host(it.URL)})
	}
	return models.SortSources(refs)
}
