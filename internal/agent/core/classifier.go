package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/helpers"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

const DefaultMaxTopics = 3

// Classifier routes a request to 1..K topics of a fixed vocabulary
type Classifier struct {
	gen       provider.Generator
	vocab     models.Vocabulary
	maxTopics int
	fallback  models.Topic
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

// NewClassifier creates a classifier. fallback must be part of vocab.
func NewClassifier(gen provider.Generator, vocab models.Vocabulary, maxTopics int, fallback models.Topic, logger *zap.Logger, tel *telemetry.Telemetry) (*Classifier, error) {
	if gen == nil {
		return nil, fmt.Errorf("classifier requires a generator")
	}
	if len(vocab) == 0 {
		vocab = models.DefaultVocabulary
	}
	if maxTopics <= 0 {
		maxTopics = DefaultMaxTopics
	}
	fallback = models.NormalizeTopic(string(fallback))
	if fallback == "" {
		fallback = models.TopicGeneral
	}
	if !vocab.Contains(fallback) {
		return nil, fmt.Errorf("fallback topic %q: %w", fallback, models.ErrTopicNotFound)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		gen:       gen,
		vocab:     vocab,
		maxTopics: maxTopics,
		fallback:  fallback,
		logger:    logger.Named("classifier"),
		telemetry: tel,
	}, nil
}

// Fallback is the single-topic selection used when classification is
// inconclusive.
func (c *Classifier) Fallback() []models.Topic {
	return []models.Topic{c.fallback}
}

// Classify makes one generation call. A failed call is returned as a
// *StageError; unusable output falls back to the default topic.
func (c *Classifier) Classify(ctx context.Context, req models.Request) ([]models.Topic, error) {
	out, err := c.gen.Generate(ctx, provider.Prompt{
		Instructions: c.instructions(),
		Input:        req.Query,
	})
	if err != nil {
		return nil, stageError(StateClassifying, ErrClassification, err)
	}

	topics, err := ParseTopics(out, c.vocab, c.maxTopics)
	if err != nil {
		c.logger.Warn("classifier output rejected, using fallback",
			zap.String("run_id", req.ID),
			zap.String("fallback", string(c.fallback)),
			zap.String("raw", truncate(out, 200)),
			zap.Error(err))
		c.telemetry.RecordClassifierFallback()
		return c.Fallback(), nil
	}
	c.logger.Debug("classified", zap.String("run_id", req.ID), zap.Any("topics", topics))
	return topics, nil
}

func (c *Classifier) instructions() string {
	var b strings.Builder
	b.WriteString("You route news requests to categories.\n")
	fmt.Fprintf(&b, "Allowed categories: %s.\n", strings.Join(c.vocab.Strings(), ", "))
	fmt.Fprintf(&b, "Pick between 1 and %d categories that best match the user's request, most relevant first.\n", c.maxTopics)
	fmt.Fprintf(&b, "Respond with ONLY a JSON array of category strings, for example [\"%s\"]. No prose, no code fences.\n", c.fallback)
	fmt.Fprintf(&b, "If nothing fits, respond [\"%s\"].", c.fallback)
	return b.String()
}

// ParseTopics extracts an ordered topic list from model output. It accepts a
// JSON array or an object holding the array under "targets", "topics" or
// "categories", optionally inside a code fence. Values are normalised,
// unknown values and duplicates dropped and the result truncated to k.
func ParseTopics(raw string, vocab models.Vocabulary, k int) ([]models.Topic, error) {
	js, err := helpers.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var decoded any
	if err := json.Unmarshal([]byte(js), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var list []any
	switch v := decoded.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"targets", "topics", "categories"} {
			if arr, ok := v[key].([]any); ok {
				list = arr
				break
			}
		}
	}
	if list == nil {
		return nil, fmt.Errorf("%w: expected a JSON array of topics", ErrParse)
	}

	seen := make(map[models.Topic]struct{}, len(list))
	out := make([]models.Topic, 0, k)
	for _, el := range list {
		s, ok := el.(string)
		if !ok {
			continue
		}
		t := models.NormalizeTopic(s)
		if !vocab.Contains(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == k {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no known topics in %s", ErrParse, truncate(js, 120))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
