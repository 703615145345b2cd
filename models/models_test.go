package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVocabulary(t *testing.T) {
	v, err := ParseVocabulary([]string{" Technology", "sports", "", "SPORTS", "general "})
	require.NoError(t, err)
	assert.Equal(t, Vocabulary{TopicTechnology, TopicSports, TopicGeneral}, v)
	assert.True(t, v.Contains(TopicSports))
	assert.False(t, v.Contains(TopicHealth))
	assert.Equal(t, []string{"technology", "sports", "general"}, v.Strings())

	_, err = ParseVocabulary([]string{" ", ""})
	require.Error(t, err)
}

func TestBatchesFailures(t *testing.T) {
	bs := Batches{
		{Topic: TopicSports, Status: BatchSucceeded},
		FailedBatch(TopicBusiness, errors.New("timed out after 45s")),
		FailedBatch(TopicHealth, nil),
	}
	assert.Equal(t, map[Topic]string{
		TopicBusiness: "timed out after 45s",
		TopicHealth:   "unknown failure",
	}, bs.Failures())

	b, ok := bs.ByTopic(TopicBusiness)
	require.True(t, ok)
	assert.True(t, b.Failed())
	_, ok = bs.ByTopic(TopicScience)
	assert.False(t, ok)
}

func TestRenderSingleTopic(t *testing.T) {
	a := Artifact{
		Topics:  []Topic{TopicTechnology},
		Summary: "- chips",
		Stats:   Stats{RawCount: 4, UniqueCount: 3, Topics: []Topic{TopicTechnology}},
		Sources: []SourceRef{{Name: "Wire", Host: "wire.example.com"}, {Host: "blog.example.com"}},
	}
	want := "**Category:** technology\n" +
		"*Statistics: 4 articles gathered, 3 unique, 1 categories*\n\n" +
		"- chips\n\n" +
		"Top sources:\n" +
		"- Wire (wire.example.com)\n" +
		"- blog.example.com"
	assert.Equal(t, want, a.Render())
}

func TestRenderSeveralTopics(t *testing.T) {
	a := Artifact{
		Topics:    []Topic{TopicSports, TopicBusiness},
		Summary:   "No articles found.",
		NoResults: true,
		Stats:     Stats{Topics: []Topic{TopicSports}},
	}
	out := a.Render()
	assert.Contains(t, out, "**Categories analyzed:** sports, business\n")
	assert.Contains(t, out, "*Statistics: 0 articles gathered, 0 unique, 1 categories*")
	assert.NotContains(t, out, "Top sources")
}

func TestSortSources(t *testing.T) {
	refs := []SourceRef{
		{Name: "Wire", Host: "b.example.com"},
		{},
		{Name: "Daily", Host: "d.example.com"},
		{Name: "Wire", Host: "a.example.com"},
		{Name: "Daily", Host: "d.example.com"},
	}
	assert.Equal(t, []SourceRef{
		{Name: "Daily", Host: "d.example.com"},
		{Name: "Wire", Host: "a.example.com"},
		{Name: "Wire", Host: "b.example.com"},
	}, SortSources(refs))
}
