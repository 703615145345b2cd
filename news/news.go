package news

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

// ToolName is the name workers know the fetch tool by.
const ToolName = "fetch_top_headlines"

// Record is the compact article form handed to the model
type Record struct {
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Source      string `json:"source,omitempty"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Fetcher retrieves current headlines for one topic.
type Fetcher interface {
	Fetch(ctx context.Context, topic models.Topic, limit int) ([]Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, topic models.Topic, limit int) ([]Record, error)

func (f FetcherFunc) Fetch(ctx context.Context, topic models.Topic, limit int) ([]Record, error) {
	return f(ctx, topic, limit)
}

type fetchArgs struct {
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

// NewFetchTool binds f to topic as a tool the model can call. The tool
// always fetches topic regardless of the category argument and never
// returns more than limit records.
func NewFetchTool(f Fetcher, topic models.Topic, limit int) provider.Tool {
	if limit <= 0 {
		limit = 6
	}
	return provider.Tool{
		Name:        ToolName,
		Description: "Fetch top headlines from NewsAPI for a news category. Returns a JSON array of articles with title, author, source, url and description.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type":        "string",
					"description": "News category",
					"enum":        []string{string(topic)},
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of articles to return (1-%d)", limit),
				},
			},
			"required": []string{"category"},
		},
		Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args fetchArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			n := args.Limit
			if n <= 0 || n > limit {
				n = limit
			}
			records, err := f.Fetch(ctx, topic, n)
			if err != nil {
				return "", fmt.Errorf("fetch %s headlines: %w", topic, err)
			}
			if len(records) > n {
				records = records[:n]
			}
			if records == nil {
				records = []Record{}
			}
			b, err := json.Marshal(records)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}
}
