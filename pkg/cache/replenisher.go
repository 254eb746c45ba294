package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkurosawa/thisorthat/internal/store"
	"github.com/mkurosawa/thisorthat/pkg/booru"
)

// DefaultMaxImages caps the number of distinct cached images.
const DefaultMaxImages = 1000

// DefaultPageDelay paces page fetches against the source API.
const DefaultPageDelay = 500 * time.Millisecond

// PageFetcher is the slice of the booru client the replenisher needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]booru.Post, error)
}

// Replenisher fills the image cache from the external source up to a
// fixed cap, refreshing mutable metadata on entries it already holds.
type Replenisher struct {
	store   store.Store
	fetcher PageFetcher
	max     int
	limiter *rate.Limiter
}

// New creates a replenisher. A zero max falls back to DefaultMaxImages,
// a zero delay to DefaultPageDelay.
func New(s store.Store, fetcher PageFetcher, max int, delay time.Duration) *Replenisher {
	if max <= 0 {
		max = DefaultMaxImages
	}
	if delay <= 0 {
		delay = DefaultPageDelay
	}
	return &Replenisher{
		store:   s,
		fetcher: fetcher,
		max:     max,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Replenish pages through the source until the cache is full or the
// source runs out of posts. Existing entries get their score, comment
// count and rating refreshed; new entries are inserted only while the
// cache is below the cap. Any fetch or store error abandons the run;
// the next scheduled tick retries it wholesale.
func (r *Replenisher) Replenish(ctx context.Context) error {
	count, err := r.store.CountImages(ctx)
	if err != nil {
		return fmt.Errorf("count cached images: %w", err)
	}

	for page := 0; count < r.max; page++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		posts, err := r.fetcher.FetchPage(ctx, page)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(posts) == 0 {
			// End of upstream content.
			return nil
		}

		for _, post := range posts {
			inserted, err := r.upsert(ctx, post, count)
			if err != nil {
				return err
			}
			if inserted {
				count++
			}
		}
	}

	return nil
}

// upsert refreshes an existing entry or inserts a new one while below
// the cap. Inserts past the cap are skipped, not deferred.
func (r *Replenisher) upsert(ctx context.Context, post booru.Post, count int) (bool, error) {
	existing, err := r.store.GetImage(ctx, post.ID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		if existing.Score == post.Score &&
			existing.CommentCount == post.CommentCount &&
			existing.Rating == post.Rating {
			return false, nil
		}
		if err := r.store.UpdateImageStats(ctx, post.ID, post.Score, post.CommentCount, post.Rating); err != nil {
			return false, err
		}
		return false, nil
	}

	if count >= r.max {
		return false, nil
	}

	img := &store.CachedImage{
		ID:           post.ID,
		PreviewURL:   post.PreviewURL,
		SampleURL:    post.SampleURL,
		Tags:         post.TagList(),
		Score:        post.Score,
		CommentCount: post.CommentCount,
		Rating:       post.Rating,
	}
	if err := r.store.InsertImage(ctx, img); err != nil {
		return false, err
	}
	return true, nil
}
