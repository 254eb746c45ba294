package tagstats

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/mkurosawa/thisorthat/internal/store"
)

// MaxSharedTags bounds the shared-tag list kept per tag.
const MaxSharedTags = 10

// DefaultIgnoreTags lists near-universal tags that carry no signal for
// co-occurrence. "tagme" is on almost every untagged upload.
var DefaultIgnoreTags = []string{"tagme"}

// Aggregator recomputes global tag statistics from the image cache.
type Aggregator struct {
	store  store.Store
	ignore map[string]bool
}

// New creates an aggregator. A nil ignore list falls back to
// DefaultIgnoreTags.
func New(s store.Store, ignoreTags []string) *Aggregator {
	if ignoreTags == nil {
		ignoreTags = DefaultIgnoreTags
	}
	ignore := make(map[string]bool, len(ignoreTags))
	for _, t := range ignoreTags {
		ignore[t] = true
	}
	return &Aggregator{store: s, ignore: ignore}
}

// Recompute scans the full cache and rebuilds every tag's count, score
// and shared-tag list from scratch. An empty cache is a no-op.
//
// Count and score accumulate over every image's full tag set, ignore
// list included. Co-occurrence only considers images that still have at
// least two tags after ignore filtering, but then pairs over the
// unfiltered list. The asymmetry is inherited behavior and kept on
// purpose; see DESIGN.md.
func (a *Aggregator) Recompute(ctx context.Context) error {
	images, err := a.store.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("list cached images: %w", err)
	}
	if len(images) == 0 {
		return nil
	}

	counts := make(map[string]int)
	scores := make(map[string]int)
	cooc := make(map[string]map[string]int)

	for _, img := range images {
		tags := uniqueTags(img.Tags)

		for _, tag := range tags {
			counts[tag]++
			scores[tag] += img.Score
		}

		if a.significantTagCount(tags) < 2 {
			continue
		}
		for _, tag := range tags {
			for _, other := range tags {
				if other == tag {
					continue
				}
				if cooc[tag] == nil {
					cooc[tag] = make(map[string]int)
				}
				cooc[tag][other]++
			}
		}
	}

	existing, err := a.store.ListTagStats(ctx)
	if err != nil {
		return fmt.Errorf("list tag stats: %w", err)
	}
	prev := make(map[string]store.TagStat, len(existing))
	for _, ts := range existing {
		prev[ts.Tag] = ts
	}

	for tag, count := range counts {
		stat := store.TagStat{
			Tag:        tag,
			Count:      count,
			Score:      scores[tag],
			SharedTags: a.topShared(cooc[tag]),
		}

		if old, ok := prev[tag]; ok &&
			old.Count == stat.Count &&
			old.Score == stat.Score &&
			slices.Equal(old.SharedTags, stat.SharedTags) {
			continue
		}

		if err := a.store.UpsertTagStat(ctx, &stat); err != nil {
			return fmt.Errorf("upsert tag stat %q: %w", tag, err)
		}
	}

	return nil
}

// significantTagCount counts the tags left after ignore filtering.
func (a *Aggregator) significantTagCount(tags []string) int {
	n := 0
	for _, t := range tags {
		if !a.ignore[t] {
			n++
		}
	}
	return n
}

// topShared picks the most frequent co-occurring tags, ignore-list
// members excluded, sorted by count descending with ties broken by tag
// string ascending.
func (a *Aggregator) topShared(counts map[string]int) []string {
	if len(counts) == 0 {
		return nil
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		if a.ignore[tag] {
			continue
		}
		tags = append(tags, tag)
	}

	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	if len(tags) > MaxSharedTags {
		tags = tags[:MaxSharedTags]
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// uniqueTags deduplicates a tag list while keeping first-seen order.
// An image that lists the same tag twice still counts once toward that
// tag's statistics.
func uniqueTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
