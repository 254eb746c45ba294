package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mkurosawa/thisorthat/internal/store"
)

// ErrInsufficientContent means fewer than two images were available to
// build a pair. The cache is expected to always hold at least two.
var ErrInsufficientContent = errors.New("fewer than two images available")

// Pair is the next two images to show a session.
type Pair struct {
	First  store.CachedImage `json:"image1"`
	Second store.CachedImage `json:"image2"`
}

// Engine ranks unseen cached images against a session's accumulated
// tag weights.
type Engine struct {
	store store.Store
}

// New creates an engine over the given store.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Recommend returns the two top-ranked unseen images for the session.
// A session with no recorded preferences gets a uniform random pair
// from the full cache. A session that has seen every cached image falls
// back to the same random sample, so previously seen images can
// resurface there.
func (e *Engine) Recommend(ctx context.Context, sessionID string) (*Pair, error) {
	weights, err := e.store.SessionTags(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session preferences: %w", err)
	}
	if len(weights) == 0 {
		return e.randomPair(ctx)
	}

	candidates, err := e.store.ListUnseenImages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list unseen images: %w", err)
	}
	if len(candidates) == 0 {
		return e.randomPair(ctx)
	}
	if len(candidates) < 2 {
		return nil, ErrInsufficientContent
	}

	// Duplicate tags on an image contribute their weight once per
	// occurrence; missing tags contribute nothing.
	scores := make([]int, len(candidates))
	for i, img := range candidates {
		for _, tag := range img.Tags {
			scores[i] += weights[tag]
		}
	}

	// Stable sort keeps ascending-id store order for equal scores.
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	return &Pair{First: candidates[idx[0]], Second: candidates[idx[1]]}, nil
}

func (e *Engine) randomPair(ctx context.Context) (*Pair, error) {
	images, err := e.store.SampleImages(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("sample images: %w", err)
	}
	if len(images) < 2 {
		return nil, ErrInsufficientContent
	}
	return &Pair{First: images[0], Second: images[1]}, nil
}
