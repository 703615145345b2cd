package core

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/helpers"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
)

// DedupKey is the normalised identity of an item. Two items are the same
// when either their title keys or their link keys match.
type DedupKey struct {
	Title string
	Link  string
}

// Primary is the key remembered in memory: the title key when present,
// otherwise the link key.
func (k DedupKey) Primary() string {
	if k.Title != "" {
		return k.Title
	}
	return k.Link
}

// KeyOf computes the dedup key of item.
func KeyOf(item models.ResultItem) DedupKey {
	k := DedupKey{Title: NormalizeTitle(item.Title)}
	if item.URL != "" {
		if link, err := helpers.LinkKey(item.URL); err == nil {
			k.Link = link
		}
	}
	return k
}

// NormalizeTitle lower-cases, collapses whitespace and trims trailing
// punctuation.
func NormalizeTitle(title string) string {
	t := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	return strings.TrimRight(t, ".-!?$ ")
}

// TopicKeys lists the primary keys that survived dedup for one topic, in
// item order.
type TopicKeys struct {
	Topic models.Topic
	Keys  []string
}

// Deduplicate merges batches in order, keeping the first occurrence of every
// key. Failed batches contribute nothing.
func Deduplicate(batches models.Batches) (models.ConsolidatedSet, []TopicKeys) {
	seenTitle := map[string]struct{}{}
	seenLink := map[string]struct{}{}
	set := models.ConsolidatedSet{Items: []models.ResultItem{}, Stats: models.Stats{Topics: []models.Topic{}}}
	var remembered []TopicKeys

	for _, b := range batches {
		if b.Failed() {
			continue
		}
		set.Stats.Topics = append(set.Stats.Topics, b.Topic)
		set.Stats.RawCount += len(b.Items)

		tk := TopicKeys{Topic: b.Topic}
		for _, item := range b.Items {
			k := KeyOf(item)
			if k.Title == "" && k.Link == "" {
				continue
			}
			if _, dup := seenTitle[k.Title]; dup && k.Title != "" {
				continue
			}
			if _, dup := seenLink[k.Link]; dup && k.Link != "" {
				continue
			}
			if k.Title != "" {
				seenTitle[k.Title] = struct{}{}
			}
			if k.Link != "" {
				seenLink[k.Link] = struct{}{}
			}
			if item.Topic == "" {
				item.Topic = b.Topic
			}
			set.Items = append(set.Items, item)
			tk.Keys = append(tk.Keys, k.Primary())
		}
		if len(tk.Keys) > 0 {
			remembered = append(remembered, tk)
		}
	}
	set.Stats.UniqueCount = len(set.Items)
	return set, remembered
}

// Consolidator merges worker batches and records what survived in memory
type Consolidator struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

func NewConsolidator(logger *zap.Logger, tel *telemetry.Telemetry) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{logger: logger.Named("consolidator"), telemetry: tel}
}

// Consolidate deduplicates batches and then writes each topic's surviving
// keys to mem, once. A memory write failure is logged and does not fail the
// run.
func (c *Consolidator) Consolidate(ctx context.Context, batches models.Batches, mem *memory.Memory) (models.ConsolidatedSet, error) {
	if err := ctx.Err(); err != nil {
		return models.ConsolidatedSet{}, err
	}
	set, remembered := Deduplicate(batches)

	if mem != nil {
		for _, tk := range remembered {
			if err := mem.Remember(ctx, tk.Topic, tk.Keys...); err != nil {
				c.logger.Warn("memory update failed", zap.String("topic", string(tk.Topic)), zap.Error(err))
			}
		}
	}

	c.telemetry.RecordConsolidation(set.Stats.RawCount, set.Stats.UniqueCount)
	c.logger.Debug("consolidated",
		zap.Int("raw", set.Stats.RawCount),
		zap.Int("unique", set.Stats.UniqueCount),
		zap.Any("topics", set.Stats.Topics))
	return set, nil
}
