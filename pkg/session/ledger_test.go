package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkurosawa/thisorthat/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyChoice_LazyCreateAndWeights(t *testing.T) {
	s := newTestStore(t)
	l := New(s)
	ctx := context.Background()

	res, err := l.ApplyChoice(ctx, "sess", []string{"scenery", "sunset"}, []string{"portrait"}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"scenery", "sunset", "portrait"}, res.Applied)
	assert.Empty(t, res.Failed)

	weights, err := s.SessionTags(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"scenery": 1, "sunset": 1, "portrait": -1}, weights)

	seen, err := s.SeenImageIDs(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, seen[10])
}

func TestApplyChoice_RepeatedTagCountsTwice(t *testing.T) {
	s := newTestStore(t)
	l := New(s)
	ctx := context.Background()

	_, err := l.ApplyChoice(ctx, "sess", []string{"a", "a"}, nil, 1)
	require.NoError(t, err)

	weights, err := s.SessionTags(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, weights["a"])
}

func TestApplyChoice_WeightsGoNegative(t *testing.T) {
	s := newTestStore(t)
	l := New(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.ApplyChoice(ctx, "sess", nil, []string{"b"}, int64(i+1))
		require.NoError(t, err)
	}

	weights, err := s.SessionTags(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, -3, weights["b"])
}

func TestApplyChoice_SeenSetIdempotent(t *testing.T) {
	s := newTestStore(t)
	l := New(s)
	ctx := context.Background()

	_, err := l.ApplyChoice(ctx, "sess", []string{"a"}, nil, 5)
	require.NoError(t, err)
	_, err = l.ApplyChoice(ctx, "sess", []string{"a"}, nil, 5)
	require.NoError(t, err)

	seen, err := s.SeenImageIDs(ctx, "sess")
	require.NoError(t, err)
	assert.Len(t, seen, 1)

	// The tag weight still accumulated on both calls.
	weights, err := s.SessionTags(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, weights["a"])
}

func TestApplyChoice_SessionsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	l := New(s)
	ctx := context.Background()

	_, err := l.ApplyChoice(ctx, "alpha", []string{"a"}, nil, 1)
	require.NoError(t, err)
	_, err = l.ApplyChoice(ctx, "beta", nil, []string{"a"}, 2)
	require.NoError(t, err)

	alpha, err := s.SessionTags(ctx, "alpha")
	require.NoError(t, err)
	beta, err := s.SessionTags(ctx, "beta")
	require.NoError(t, err)

	assert.Equal(t, 1, alpha["a"])
	assert.Equal(t, -1, beta["a"])
}

// failingStore wraps a real store and fails weight updates for one tag,
// to exercise the best-effort path.
type failingStore struct {
	store.Store
	failTag string
}

func (f *failingStore) IncrTagWeight(ctx context.Context, sessionID, tag string, delta int) error {
	if tag == f.failTag {
		return assert.AnError
	}
	return f.Store.IncrTagWeight(ctx, sessionID, tag, delta)
}

func TestApplyChoice_PartialFailureContinues(t *testing.T) {
	s := newTestStore(t)
	l := New(&failingStore{Store: s, failTag: "broken"})
	ctx := context.Background()

	res, err := l.ApplyChoice(ctx, "sess", []string{"a", "broken", "b"}, nil, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, res.Applied)
	assert.Equal(t, []string{"broken"}, res.Failed)

	weights, err := s.SessionTags(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, weights)

	// The shown image is still marked seen despite the tag failure.
	seen, err := s.SeenImageIDs(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, seen[1])
}
