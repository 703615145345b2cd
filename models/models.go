package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrTopicNotFound is returned when a topic is not part of the vocabulary
var ErrTopicNotFound = errors.New("topic not found")

// Topic is a category label from the fixed vocabulary
type Topic string

const (
	TopicTechnology    Topic = "technology"
	TopicSports        Topic = "sports"
	TopicBusiness      Topic = "business"
	TopicScience       Topic = "science"
	TopicHealth        Topic = "health"
	TopicEntertainment Topic = "entertainment"
	TopicGeneral       Topic = "general"
)

// DefaultVocabulary mirrors the NewsAPI top-headlines categories.
var DefaultVocabulary = Vocabulary{
	TopicTechnology,
	TopicSports,
	TopicBusiness,
	TopicScience,
	TopicHealth,
	TopicEntertainment,
	TopicGeneral,
}

// NormalizeTopic lower-cases and trims a raw label.
func NormalizeTopic(raw string) Topic {
	return Topic(strings.ToLower(strings.TrimSpace(raw)))
}

// Vocabulary is the ordered set of supported topics
type Vocabulary []Topic

// Contains reports whether t is part of the vocabulary.
func (v Vocabulary) Contains(t Topic) bool {
	for _, known := range v {
		if known == t {
			return true
		}
	}
	return false
}

// Strings returns the vocabulary as plain strings, in order.
func (v Vocabulary) Strings() []string {
	out := make([]string, len(v))
	for i, t := range v {
		out[i] = string(t)
	}
	return out
}

// ParseVocabulary builds a vocabulary from raw labels, dropping blanks and duplicates.
func ParseVocabulary(raw []string) (Vocabulary, error) {
	seen := make(map[Topic]struct{}, len(raw))
	var out Vocabulary
	for _, r := range raw {
		t := NormalizeTopic(r)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return out, nil
}

// Request is the immutable input of one orchestration run
type Request struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	ReceivedAt time.Time `json:"received_at"`
}

// ResultItem is one article produced by a worker
type ResultItem struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	Topic       Topic  `json:"topic"`
}

type BatchStatus string

const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// WorkerBatch is the output of one worker invocation
type WorkerBatch struct {
	Topic    Topic         `json:"topic"`
	Items    []ResultItem  `json:"items"`
	Status   BatchStatus   `json:"status"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the worker for this batch failed.
func (b WorkerBatch) Failed() bool { return b.Status != BatchSucceeded }

// FailedBatch builds an empty failed batch carrying the failure reason.
func FailedBatch(topic Topic, err error) WorkerBatch {
	reason := "unknown failure"
	if err != nil {
		reason = err.Error()
	}
	return WorkerBatch{Topic: topic, Status: BatchFailed, Err: reason}
}

// Batches holds one batch per dispatched topic, in dispatch order.
type Batches []WorkerBatch

// ByTopic returns the batch for topic t.
func (bs Batches) ByTopic(t Topic) (WorkerBatch, bool) {
	for _, b := range bs {
		if b.Topic == t {
			return b, true
		}
	}
	return WorkerBatch{}, false
}

// Failures maps each failed topic to its failure reason.
func (bs Batches) Failures() map[Topic]string {
	out := map[Topic]string{}
	for _, b := range bs {
		if b.Failed() {
			out[b.Topic] = b.Err
		}
	}
	return out
}

// Stats summarises one consolidation
type Stats struct {
	RawCount    int     `json:"raw_count"`
	UniqueCount int     `json:"unique_count"`
	Topics      []Topic `json:"topics"`
}

// ConsolidatedSet is the deduplicated item list of one run
type ConsolidatedSet struct {
	Items []ResultItem `json:"items"`
	Stats Stats        `json:"stats"`
}

// SourceRef names a publisher and the host it was seen on
type SourceRef struct {
	Name string `json:"name"`
	Host string `json:"host"`
}

// Artifact is the final output of one orchestration run
type Artifact struct {
	RunID     string           `json:"run_id"`
	Query     string           `json:"query"`
	Topics    []Topic          `json:"topics"`
	Summary   string           `json:"summary"`
	NoResults bool             `json:"no_results"`
	Stats     Stats            `json:"stats"`
	Failures  map[Topic]string `json:"failures,omitempty"`
	Sources   []SourceRef      `json:"sources,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Render formats the artifact as markdown with a header and statistics line.
func (a Artifact) Render() string {
	var b strings.Builder
	names := make([]string, len(a.Topics))
	for i, t := range a.Topics {
		names[i] = string(t)
	}
	if len(names) == 1 {
		fmt.Fprintf(&b, "**Category:** %s\n", names[0])
	} else {
		fmt.Fprintf(&b, "**Categories analyzed:** %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "*Statistics: %d articles gathered, %d unique, %d categories*\n\n",
		a.Stats.RawCount, a.Stats.UniqueCount, len(a.Stats.Topics))
	b.WriteString(a.Summary)
	if len(a.Sources) > 0 {
		b.WriteString("\n\nTop sources:\n")
		for _, s := range a.Sources {
			switch {
			case s.Name != "" && s.Host != "":
				fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Host)
			case s.Name != "":
				fmt.Fprintf(&b, "- %s\n", s.Name)
			default:
				fmt.Fprintf(&b, "- %s\n", s.Host)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SortSources orders refs by name then host and removes duplicates.
func SortSources(refs []SourceRef) []SourceRef {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name == refs[j].Name {
			return refs[i].Host < refs[j].Host
		}
		return refs[i].Name < refs[j].Name
	})
	out := refs[:0]
	for i, r := range refs {
		if r.Name == "" && r.Host == "" {
			continue
		}
		if i > 0 && len(out) > 0 && out[len(out)-1] == r {
			continue
		}
		out = append(out, r)
	}
	return out
}
