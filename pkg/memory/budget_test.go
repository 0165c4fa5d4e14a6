package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforceBudget(t *testing.T) {
	t.Run("NoOpUnderBudget", func(t *testing.T) {
		store := newTestStore(t, WithBudget(100000, 20))
		require.NoError(t, store.Initialize("Kepler", "Goal."))

		before := store.Read()
		require.NoError(t, store.EnforceBudget())
		assert.Equal(t, before, store.Read())
	})

	t.Run("ZeroBudgetDisablesCompaction", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.Initialize("Kepler", "Goal."))
		require.NoError(t, store.FoldResponse(strings.Repeat("long response\n", 500)))

		before := store.Read()
		require.NoError(t, store.EnforceBudget())
		assert.Equal(t, before, store.Read())
	})

	t.Run("ProtectedSectionsSurviveVerbatim", func(t *testing.T) {
		store := newTestStore(t, WithBudget(2500, 5))
		require.NoError(t, store.Initialize("Kepler", "Discover a new physical law."))

		var insights strings.Builder
		for i := 0; i < 120; i++ {
			fmt.Fprintf(&insights, "Insight number %d about anomalous dispersion.\n", i)
		}
		require.NoError(t, store.ReplaceSection(SectionInsights, insights.String()))
		require.NoError(t, store.FoldResponse("### Progress Assessment\nShort and sweet.\n"))

		identity := store.ExtractSection(SectionIdentity)
		progress := store.ExtractSection(SectionProgress)
		nextSteps := store.ExtractSection(SectionNextSteps)
		require.Greater(t, len(store.Read()), 2500)

		require.NoError(t, store.EnforceBudget())

		assert.Equal(t, identity, store.ExtractSection(SectionIdentity))
		assert.Equal(t, progress, store.ExtractSection(SectionProgress))
		assert.Equal(t, nextSteps, store.ExtractSection(SectionNextSteps))
		assert.Less(t, len(store.Read()), 2600)
	})

	t.Run("UnprotectedSectionsKeepRecentLines", func(t *testing.T) {
		store := newTestStore(t, WithBudget(1800, 4))
		require.NoError(t, store.Initialize("Kepler", "Goal."))

		var insights strings.Builder
		for i := 0; i < 150; i++ {
			fmt.Fprintf(&insights, "Insight %03d of the anomalous dispersion survey.\n", i)
		}
		require.NoError(t, store.ReplaceSection(SectionInsights, insights.String()))
		require.Greater(t, len(store.Read()), 1800)
		require.NoError(t, store.EnforceBudget())

		body := store.ExtractSection(SectionInsights)
		assert.Contains(t, body, compactedNotice)
		assert.Contains(t, body, "Insight 149")
		assert.NotContains(t, body, "Insight 000")
	})

	t.Run("OnlyNewestReflectionSurvives", func(t *testing.T) {
		store := newTestStore(t, WithBudget(1000, 5))
		clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		store.clock = func() time.Time {
			clock = clock.Add(time.Hour)
			return clock
		}

		require.NoError(t, store.Initialize("Kepler", "Goal."))
		require.NoError(t, store.AppendReflection("First reflection: "+strings.Repeat("alpha ", 60)))
		require.NoError(t, store.AppendReflection("Second reflection: "+strings.Repeat("beta ", 60)))

		require.NoError(t, store.EnforceBudget())

		content := store.Read()
		assert.NotContains(t, content, "First reflection:")
		assert.Contains(t, content, "Second reflection:")
		assert.Equal(t, 1, strings.Count(content, "## "+reflectionPrefix))
	})

	t.Run("RawResponseEntryIsCapped", func(t *testing.T) {
		store := newTestStore(t, WithBudget(4000, 10))
		require.NoError(t, store.Initialize("Kepler", "Goal."))
		require.NoError(t, store.FoldResponse(strings.Repeat("verbose model output line\n", 400)))

		require.NoError(t, store.EnforceBudget())

		content := store.Read()
		assert.LessOrEqual(t, len(content), 4000)
		assert.Equal(t, 1, strings.Count(content, "## Action Taken at "))
		assert.Contains(t, content, truncatedNotice)
	})

	t.Run("UnreachableBudgetStillKeepsProtected", func(t *testing.T) {
		store := newTestStore(t, WithBudget(40, 2))
		require.NoError(t, store.Initialize("Kepler", "A goal far longer than forty characters in total."))
		require.NoError(t, store.EnforceBudget())

		content := store.Read()
		assert.Contains(t, store.ExtractSection(SectionIdentity), "A goal far longer")
		assert.Contains(t, content, minimalBodyStub)
		assert.NotContains(t, content, "## Action Taken at ")
	})

	t.Run("NeverErrorsOnRepeatedEnforcement", func(t *testing.T) {
		store := newTestStore(t, WithBudget(1200, 3))
		require.NoError(t, store.Initialize("Kepler", "Goal."))
		require.NoError(t, store.FoldResponse(strings.Repeat("chatter\n", 300)))

		for i := 0; i < 3; i++ {
			require.NoError(t, store.EnforceBudget())
		}
	})
}

func TestTruncateTail(t *testing.T) {
	t.Run("ShortBodyUntouched", func(t *testing.T) {
		assert.Equal(t, "a\nb", truncateTail("a\nb", 5))
	})

	t.Run("LongBodyKeepsTail", func(t *testing.T) {
		got := truncateTail("1\n2\n3\n4\n5", 2)
		assert.Equal(t, compactedNotice+"\n4\n5", got)
	})
}

func TestCapText(t *testing.T) {
	t.Run("ShortTextUntouched", func(t *testing.T) {
		assert.Equal(t, "abc", capText("abc", 10))
	})

	t.Run("CutsAtRuneBoundary", func(t *testing.T) {
		text := "abécd" // é is two bytes
		got := capText(text, 3)
		assert.True(t, strings.HasPrefix(got, "ab"))
		assert.Contains(t, got, truncatedNotice)
	})
}
