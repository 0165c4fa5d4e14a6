package articles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerlab/kepler/pkg/errors"
)

func testStoreClock() func() time.Time {
	return func() time.Time {
		return time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:", WithClock(testStoreClock()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertsNewArticle", func(t *testing.T) {
		store := newTestStore(t)

		id, created, err := store.Add(ctx, Article{
			Title:          "Gravitational Wave Echoes",
			URL:            "https://example.org/gw-echoes",
			Source:         "arxiv",
			Keywords:       []string{"gravity", "waves"},
			ContentSnippet: "Echoes observed in the ringdown phase.",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Greater(t, id, int64(0))

		articles, err := store.Unprocessed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, articles, 1)
		assert.Equal(t, id, articles[0].ID)
		assert.Equal(t, "Gravitational Wave Echoes", articles[0].Title)
		assert.Equal(t, []string{"gravity", "waves"}, articles[0].Keywords)
		assert.Equal(t, "2025-03-01T10:30:00Z", articles[0].DiscoveryDate)
		assert.False(t, articles[0].Processed)
	})

	t.Run("DeduplicatesByURL", func(t *testing.T) {
		store := newTestStore(t)

		first, created, err := store.Add(ctx, Article{Title: "One", URL: "https://example.org/a"})
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := store.Add(ctx, Article{Title: "One Again", URL: "https://example.org/a"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second)

		articles, err := store.Unprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, articles, 1)
	})

	t.Run("KeepsExplicitDiscoveryDate", func(t *testing.T) {
		store := newTestStore(t)

		_, _, err := store.Add(ctx, Article{
			Title:         "Dated",
			URL:           "https://example.org/dated",
			DiscoveryDate: "2025-02-14T08:00:00Z",
		})
		require.NoError(t, err)

		articles, err := store.Unprocessed(ctx, 10)
		require.NoError(t, err)
		require.Len(t, articles, 1)
		assert.Equal(t, "2025-02-14T08:00:00Z", articles[0].DiscoveryDate)
	})
}

func TestStoreMarkProcessed(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordsCurationResult", func(t *testing.T) {
		store := newTestStore(t)

		id, _, err := store.Add(ctx, Article{Title: "Raw", URL: "https://example.org/raw"})
		require.NoError(t, err)

		err = store.MarkProcessed(ctx, id, "A promising anomaly.", 0.85, []string{"anomaly"})
		require.NoError(t, err)

		unprocessed, err := store.Unprocessed(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, unprocessed)

		recent, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.True(t, recent[0].Processed)
		assert.Equal(t, "A promising anomaly.", recent[0].Summary)
		assert.InDelta(t, 0.85, recent[0].RelevanceScore, 1e-9)
		assert.Equal(t, []string{"anomaly"}, recent[0].Keywords)
	})

	t.Run("MissingArticleErrors", func(t *testing.T) {
		store := newTestStore(t)

		err := store.MarkProcessed(ctx, 404, "s", 0.1, nil)
		require.Error(t, err)
		assert.Equal(t, errors.ResourceNotFound, errors.Code(err))
	})
}

func TestStoreRecent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, a := range []Article{
		{Title: "Older", URL: "https://example.org/1", DiscoveryDate: "2025-03-01T08:00:00Z", Processed: true},
		{Title: "Newest", URL: "https://example.org/2", DiscoveryDate: "2025-03-01T11:00:00Z", Processed: true},
		{Title: "Middle", URL: "https://example.org/3", DiscoveryDate: "2025-03-01T09:30:00Z", Processed: true},
		{Title: "NotYet", URL: "https://example.org/4", DiscoveryDate: "2025-03-01T12:00:00Z"},
	} {
		_, _, err := store.Add(ctx, a)
		require.NoError(t, err)
	}

	t.Run("NewestProcessedFirst", func(t *testing.T) {
		recent, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "Newest", recent[0].Title)
		assert.Equal(t, "Middle", recent[1].Title)
		assert.Equal(t, "Older", recent[2].Title)
	})

	t.Run("AppliesLimit", func(t *testing.T) {
		recent, err := store.Recent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "Newest", recent[0].Title)
	})
}

func TestStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := []struct {
		article Article
		score   float64
		summary string
	}{
		{Article{Title: "Quantum Resonance in Stellar Cores", URL: "https://example.org/q1"}, 0.9, "Spectral lines shift."},
		{Article{Title: "Dark Matter Survey", URL: "https://example.org/q2"}, 0.6, "Resonance patterns in halo data."},
		{Article{Title: "Unrelated Biology Paper", URL: "https://example.org/q3"}, 0.99, "Cell membranes."},
	}
	for _, s := range seed {
		id, _, err := store.Add(ctx, s.article)
		require.NoError(t, err)
		require.NoError(t, store.MarkProcessed(ctx, id, s.summary, s.score, nil))
	}
	_, _, err := store.Add(ctx, Article{Title: "Resonance But Unprocessed", URL: "https://example.org/q4"})
	require.NoError(t, err)

	t.Run("MatchesTitleAndSummaryBestScoreFirst", func(t *testing.T) {
		hits, err := store.Search(ctx, "resonance", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "Quantum Resonance in Stellar Cores", hits[0].Title)
		assert.Equal(t, "Dark Matter Survey", hits[1].Title)
	})

	t.Run("IgnoresUnprocessed", func(t *testing.T) {
		hits, err := store.Search(ctx, "Unprocessed", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("NoMatches", func(t *testing.T) {
		hits, err := store.Search(ctx, "plate tectonics", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestStoreUpdateDailyStats(t *testing.T) {
	ctx := context.Background()

	t.Run("AggregatesTodaysArticles", func(t *testing.T) {
		store := newTestStore(t)

		id1, _, err := store.Add(ctx, Article{Title: "A", URL: "https://example.org/s1"})
		require.NoError(t, err)
		id2, _, err := store.Add(ctx, Article{Title: "B", URL: "https://example.org/s2"})
		require.NoError(t, err)
		_, _, err = store.Add(ctx, Article{Title: "C", URL: "https://example.org/s3"})
		require.NoError(t, err)

		require.NoError(t, store.MarkProcessed(ctx, id1, "s", 0.8, []string{"gravity", "cosmology"}))
		require.NoError(t, store.MarkProcessed(ctx, id2, "s", 0.6, []string{"gravity", "waves"}))

		require.NoError(t, store.UpdateDailyStats(ctx))

		stats, err := store.Stats(ctx, 7)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, "2025-03-01", stats[0].Date)
		assert.Equal(t, 3, stats[0].ArticlesFound)
		assert.Equal(t, 2, stats[0].ArticlesProcessed)
		assert.InDelta(t, 0.7, stats[0].AvgScore, 1e-9)
		assert.Equal(t, []string{"gravity", "cosmology", "waves"}, stats[0].TopKeywords)
	})

	t.Run("SecondRunUpdatesInPlace", func(t *testing.T) {
		store := newTestStore(t)

		_, _, err := store.Add(ctx, Article{Title: "A", URL: "https://example.org/u1"})
		require.NoError(t, err)
		require.NoError(t, store.UpdateDailyStats(ctx))

		_, _, err = store.Add(ctx, Article{Title: "B", URL: "https://example.org/u2"})
		require.NoError(t, err)
		require.NoError(t, store.UpdateDailyStats(ctx))

		stats, err := store.Stats(ctx, 7)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 2, stats[0].ArticlesFound)
	})

	t.Run("EmptyDayWritesZeroRow", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.UpdateDailyStats(ctx))

		stats, err := store.Stats(ctx, 7)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 0, stats[0].ArticlesFound)
		assert.Equal(t, 0, stats[0].ArticlesProcessed)
		assert.Empty(t, stats[0].TopKeywords)
	})
}

func TestStoreCounts(t *testing.T) {
	ctx := context.Background()

	t.Run("TracksTotalAndProcessed", func(t *testing.T) {
		store := newTestStore(t)

		id1, _, err := store.Add(ctx, Article{Title: "A", URL: "https://example.org/c1"})
		require.NoError(t, err)
		_, _, err = store.Add(ctx, Article{Title: "B", URL: "https://example.org/c2"})
		require.NoError(t, err)
		require.NoError(t, store.MarkProcessed(ctx, id1, "summary", 0.9, nil))

		total, processed, err := store.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, 1, processed)
	})

	t.Run("ZeroOnEmptyStore", func(t *testing.T) {
		store := newTestStore(t)

		total, processed, err := store.Counts(ctx)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Zero(t, processed)
	})
}
