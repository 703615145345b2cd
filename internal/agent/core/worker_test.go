package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/mohammad-safakhou/newsbrief/news"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

func TestParseItems(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		titles []string
	}{
		{"array", `[{"title":"A","url":"https://a.com/1","source":"AP"},{"title":"B","url":"https://b.com/2"}]`, []string{"A", "B"}},
		{"fenced", "```json\n[{\"title\":\"A\"}]\n```", []string{"A"}},
		{"articles object", `{"articles":[{"title":"A","source":{"name":"Reuters"}}]}`, []string{"A"}},
		{"empty array", `[]`, []string{}},
		{"drops items without title or url", `[{"author":"x"},{"url":"https://c.com"},"junk"]`, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseItems(tt.raw, models.TopicSports)
			require.NoError(t, err)
			titles := make([]string, len(got))
			for i, it := range got {
				titles[i] = it.Title
				assert.Equal(t, models.TopicSports, it.Topic)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestParseItemsSourceShapes(t *testing.T) {
	got, err := ParseItems(`[{"title":"A","source":"AP"},{"title":"B","source":{"name":" Reuters "}}]`, models.TopicBusiness)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AP", got[0].Source)
	assert.Equal(t, "Reuters", got[1].Source)
}

func TestParseItemsFailures(t *testing.T) {
	_, err := ParseItems("no articles today", models.TopicSports)
	assert.ErrorIs(t, err, ErrParse)

	_, err = ParseItems(`{"status":"ok"}`, models.TopicSports)
	assert.ErrorIs(t, err, ErrParse)

	_, err = ParseItems(`{"error":"NewsAPI error: 429"}`, models.TopicSports)
	assert.ErrorIs(t, err, ErrWorker)
	assert.Contains(t, err.Error(), "NewsAPI error: 429")

	for _, raw := range []string{`[1, 2, "x"]`, `[[{"title":"a"}]]`, `{"articles": [1]}`} {
		_, err = ParseItems(raw, models.TopicSports)
		assert.ErrorIs(t, err, ErrParse, raw)
	}

	got, err := ParseItems(`[]`, models.TopicSports)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewsWorkerCallsFetchToolAndAppendsHint(t *testing.T) {
	fetcher := news.FetcherFunc(func(_ context.Context, topic models.Topic, limit int) ([]news.Record, error) {
		assert.Equal(t, models.TopicScience, topic)
		assert.Equal(t, 2, limit)
		return []news.Record{{Title: "Comet", URL: "https://space.com/comet", Source: "Space"}}, nil
	})
	gen := &fakeGen{fn: func(_ int, p provider.Prompt) (string, error) {
		require.Len(t, p.Tools, 1)
		return p.Tools[0].Call(context.Background(), []byte(`{"category":"science","limit":2}`))
	}}
	w := NewNewsWorker(gen, fetcher, 2, nil)

	hint := `This topic recently covered: "old story". Avoid repeating these.`
	got, err := w.Run(context.Background(), models.Request{Query: "space news"}, models.TopicScience, hint)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Comet", got[0].Title)
	assert.Equal(t, models.TopicScience, got[0].Topic)

	p := gen.Prompt(0)
	assert.Contains(t, p.Instructions, "'science'")
	assert.Contains(t, p.Instructions, news.ToolName)
	assert.Contains(t, p.Instructions, hint)
	assert.Equal(t, "space news", p.Input)
	assert.Equal(t, news.ToolName, p.Tools[0].Name)
}

func TestNewsWorkerWithoutHintOrFetcher(t *testing.T) {
	gen := replies(reply{out: `[{"title":"A"},{"title":"B"},{"title":"C"}]`})
	w := NewNewsWorker(gen, nil, 2, nil)

	got, err := w.Run(context.Background(), models.Request{}, models.TopicHealth, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	p := gen.Prompt(0)
	assert.Empty(t, p.Tools)
	assert.NotContains(t, p.Instructions, "recently covered")
}

func TestNewsWorkerWrapsGenerationFailure(t *testing.T) {
	w := NewNewsWorker(replies(reply{err: errors.New("boom")}), nil, 6, nil)
	_, err := w.Run(context.Background(), models.Request{}, models.TopicHealth, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorker)
	assert.Contains(t, err.Error(), "health")
}
