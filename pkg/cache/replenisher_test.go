package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkurosawa/thisorthat/internal/store"
	"github.com/mkurosawa/thisorthat/pkg/booru"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeFetcher serves fixed pages and records how many were requested.
type fakeFetcher struct {
	pages   [][]booru.Post
	fetched int
	err     error
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page int) ([]booru.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.fetched++
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

func makePosts(startID int64, n int) []booru.Post {
	posts := make([]booru.Post, n)
	for i := range posts {
		posts[i] = booru.Post{
			ID:     startID + int64(i),
			Tags:   fmt.Sprintf("tag%d common", i),
			Score:  100 - i,
			Rating: "safe",
		}
	}
	return posts
}

func TestReplenish_FillsToCapAndStops(t *testing.T) {
	s := newTestStore(t)
	fetcher := &fakeFetcher{pages: [][]booru.Post{
		makePosts(1, 3),
		makePosts(4, 3),
		makePosts(7, 3),
	}}

	r := New(s, fetcher, 5, time.Millisecond)
	require.NoError(t, r.Replenish(context.Background()))

	count, err := s.CountImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// The cap landed mid-page, so the third page was never requested.
	assert.Equal(t, 2, fetcher.fetched)
}

func TestReplenish_CapNeverExceededAcrossRuns(t *testing.T) {
	s := newTestStore(t)
	fetcher := &fakeFetcher{pages: [][]booru.Post{
		makePosts(1, 4),
		makePosts(5, 4),
	}}

	r := New(s, fetcher, 6, time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Replenish(context.Background()))

		count, err := s.CountImages(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, count, 6)
	}
}

func TestReplenish_IdempotentWithUnchangedUpstream(t *testing.T) {
	s := newTestStore(t)
	fetcher := &fakeFetcher{pages: [][]booru.Post{makePosts(1, 3)}}
	ctx := context.Background()

	r := New(s, fetcher, 10, time.Millisecond)
	require.NoError(t, r.Replenish(ctx))

	before, err := s.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, before, 3)

	require.NoError(t, r.Replenish(ctx))

	after, err := s.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, after, 3)
	for i := range after {
		assert.Equal(t, before[i].Score, after[i].Score)
		assert.True(t, after[i].UpdatedAt.Equal(before[i].UpdatedAt),
			"image %d should not be rewritten", after[i].ID)
	}
}

func TestReplenish_RefreshesMutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertImage(ctx, &store.CachedImage{
		ID: 1, Tags: []string{"original"}, Score: 10, CommentCount: 1, Rating: "safe",
	}))

	fetcher := &fakeFetcher{pages: [][]booru.Post{{
		{ID: 1, Tags: "changed upstream", Score: 50, CommentCount: 9, Rating: "questionable"},
	}}}

	r := New(s, fetcher, 10, time.Millisecond)
	require.NoError(t, r.Replenish(ctx))

	got, err := s.GetImage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Score)
	assert.Equal(t, 9, got.CommentCount)
	assert.Equal(t, "questionable", got.Rating)
	// Tags are frozen at insert time.
	assert.Equal(t, []string{"original"}, got.Tags)
}

func TestReplenish_StopsOnEmptyPage(t *testing.T) {
	s := newTestStore(t)
	fetcher := &fakeFetcher{pages: [][]booru.Post{makePosts(1, 2)}}

	r := New(s, fetcher, 100, time.Millisecond)
	require.NoError(t, r.Replenish(context.Background()))

	count, err := s.CountImages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, fetcher.fetched)
}

func TestReplenish_FetchErrorAbortsRun(t *testing.T) {
	s := newTestStore(t)
	fetchErr := errors.New("connection reset")
	fetcher := &fakeFetcher{err: fetchErr}

	r := New(s, fetcher, 10, time.Millisecond)
	err := r.Replenish(context.Background())
	require.ErrorIs(t, err, fetchErr)

	count, cErr := s.CountImages(context.Background())
	require.NoError(t, cErr)
	assert.Zero(t, count)
}

func TestReplenish_RefreshContinuesPastCapMidPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertImage(ctx, &store.CachedImage{ID: 1, Score: 1, Rating: "safe"}))

	// The cap is hit after the first post; the rest of the page is
	// still scanned, refreshing entry 1 but skipping the insert of 3.
	fetcher := &fakeFetcher{pages: [][]booru.Post{{
		{ID: 2, Score: 50, Rating: "safe"},
		{ID: 1, Score: 99, Rating: "safe"},
		{ID: 3, Score: 10, Rating: "safe"},
	}}}

	r := New(s, fetcher, 2, time.Millisecond)
	require.NoError(t, r.Replenish(ctx))

	count, err := s.CountImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	refreshed, err := s.GetImage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 99, refreshed.Score)

	skipped, err := s.GetImage(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, skipped)
}
