package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/internal/helpers"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/news"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

const DefaultFetchLimit = 6

// NewsWorker asks the model to gather headlines for one topic through the
// fetch tool and parses the JSON list it returns.
type NewsWorker struct {
	gen     provider.Generator
	fetcher news.Fetcher
	limit   int
	logger  *zap.Logger
}

// NewNewsWorker creates a worker. A nil fetcher runs the model without tools.
func NewNewsWorker(gen provider.Generator, fetcher news.Fetcher, limit int, logger *zap.Logger) *NewsWorker {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsWorker{gen: gen, fetcher: fetcher, limit: limit, logger: logger.Named("worker")}
}

func (w *NewsWorker) Run(ctx context.Context, req models.Request, topic models.Topic, hint string) ([]models.ResultItem, error) {
	p := provider.Prompt{
		Instructions: workerInstructions(topic, w.limit, hint),
		Input:        req.Query,
	}
	if w.fetcher != nil {
		p.Tools = []provider.Tool{news.NewFetchTool(w.fetcher, topic, w.limit)}
	}

	out, err := w.gen.Generate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: generate %s: %w", ErrWorker, topic, err)
	}
	items, err := ParseItems(out, topic)
	if err != nil {
		w.logger.Warn("worker output rejected",
			zap.String("run_id", req.ID),
			zap.String("topic", string(topic)),
			zap.String("raw", truncate(out, 200)),
			zap.Error(err))
		return nil, err
	}
	if len(items) > w.limit {
		items = items[:w.limit]
	}
	return items, nil
}

func workerInstructions(topic models.Topic, limit int, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You gather news for the '%s' category.\n", topic)
	fmt.Fprintf(&b, "Call the %s tool with category='%s' and limit=%d.\n", news.ToolName, topic, limit)
	b.WriteString("Return the tool result as a JSON array of objects with title, author, source, url and description. ")
	b.WriteString("Do not summarise, rename fields or add prose. Return [] when nothing was found.")
	if hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

// ParseItems decodes a worker's JSON answer into items tagged with topic.
// Accepted shapes are a bare array or an object carrying the array under
// "articles" or "items". An object with an "error" field is a worker failure.
// A non-empty array without a single object in it is a parse failure; an
// empty array is a valid answer with no items.
func ParseItems(raw string, topic models.Topic) ([]models.ResultItem, error) {
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
		if msg, ok := v["error"].(string); ok && msg != "" {
			return nil, fmt.Errorf("%w: tool reported: %s", ErrWorker, msg)
		}
		for _, key := range []string{"articles", "items"} {
			if arr, ok := v[key].([]any); ok {
				list = arr
				break
			}
		}
		if list == nil {
			return nil, fmt.Errorf("%w: expected a JSON array of articles", ErrParse)
		}
	default:
		return nil, fmt.Errorf("%w: expected a JSON array of articles", ErrParse)
	}

	items := make([]models.ResultItem, 0, len(list))
	objects := 0
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		objects++
		item := models.ResultItem{
			Title:       stringField(obj, "title"),
			Source:      sourceField(obj["source"]),
			URL:         stringField(obj, "url"),
			Author:      stringField(obj, "author"),
			Description: stringField(obj, "description"),
			Topic:       topic,
		}
		if item.Title == "" && item.URL == "" {
			continue
		}
		items = append(items, item)
	}
	if len(list) > 0 && objects == 0 {
		return nil, fmt.Errorf("%w: no article objects in %d elements", ErrParse, len(list))
	}
	return items, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// sourceField accepts "source": "Name" and "source": {"name": "Name"}.
func sourceField(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case map[string]any:
		return stringField(s, "name")
	}
	return ""
}
