package dashboard

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func advancingClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(step)
		return t
	}
}

func testStart() time.Time {
	return time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
}

func TestStateInteractionFlow(t *testing.T) {
	t.Run("PromptOpensPendingInteraction", func(t *testing.T) {
		state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))

		state.PromptSent("What do the residuals show?")

		logs := state.Logs(0)
		require.Len(t, logs, 1)
		assert.Equal(t, "prompt", logs[0].Kind)
		assert.Equal(t, "What do the residuals show?", logs[0].Message)
		assert.NotEmpty(t, logs[0].ID)

		prompt, response := state.Latest()
		require.NotNil(t, prompt)
		assert.Equal(t, "What do the residuals show?", prompt.Content)
		assert.Nil(t, response)

		assert.Empty(t, state.Interactions(0))
	})

	t.Run("ResponseCompletesInteraction", func(t *testing.T) {
		state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))

		state.PromptSent("prompt one")
		state.ResponseReceived("response one")

		interactions := state.Interactions(0)
		require.Len(t, interactions, 1)
		require.NotNil(t, interactions[0].Prompt)
		require.NotNil(t, interactions[0].Response)
		assert.Equal(t, "prompt one", interactions[0].Prompt.Content)
		assert.Equal(t, "response one", interactions[0].Response.Content)

		prompt, response := state.Latest()
		assert.Equal(t, "prompt one", prompt.Content)
		assert.Equal(t, "response one", response.Content)
	})

	t.Run("ResponseWithoutPromptRecordsNoInteraction", func(t *testing.T) {
		state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))

		state.ResponseReceived("orphan response")

		assert.Empty(t, state.Interactions(0))
		_, response := state.Latest()
		require.NotNil(t, response)
		assert.Equal(t, "orphan response", response.Content)
	})

	t.Run("SecondResponseDoesNotDuplicateInteraction", func(t *testing.T) {
		state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))

		state.PromptSent("prompt")
		state.ResponseReceived("first")
		state.ResponseReceived("second")

		assert.Len(t, state.Interactions(0), 1)
	})
}

func TestStateShortening(t *testing.T) {
	state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))
	long := strings.Repeat("a", 250)

	state.PromptSent(long)

	logs := state.Logs(0)
	require.Len(t, logs, 1)
	assert.Len(t, []rune(logs[0].Message), shortenAt)
	assert.True(t, strings.HasSuffix(logs[0].Message, "..."))

	prompt, _ := state.Latest()
	assert.Equal(t, long, prompt.Content)
}

func TestStateLogRing(t *testing.T) {
	state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))

	for i := 0; i < maxLogEntries+10; i++ {
		state.Event("cycle", fmt.Sprintf("event %d", i))
	}

	logs := state.Logs(0)
	require.Len(t, logs, maxLogEntries)
	assert.Equal(t, fmt.Sprintf("event %d", maxLogEntries+9), logs[0].Message)
	assert.Equal(t, "event 10", logs[len(logs)-1].Message)
}

func TestStateLogsNewestFirst(t *testing.T) {
	state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))
	state.Event("cycle", "first")
	state.Event("cycle", "second")
	state.Event("cycle", "third")

	logs := state.Logs(2)
	require.Len(t, logs, 2)
	assert.Equal(t, "third", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
}

func TestStateLogsSince(t *testing.T) {
	start := testStart()
	state := NewState(WithStateClock(advancingClock(start, time.Second)))
	state.Event("cycle", "at t0")
	state.Event("cycle", "at t1")
	state.Event("cycle", "at t2")

	t.Run("StrictlyAfter", func(t *testing.T) {
		logs := state.LogsSince(start)
		require.Len(t, logs, 2)
		assert.Equal(t, "at t2", logs[0].Message)
		assert.Equal(t, "at t1", logs[1].Message)
	})

	t.Run("NothingNewer", func(t *testing.T) {
		logs := state.LogsSince(start.Add(time.Hour))
		assert.NotNil(t, logs)
		assert.Empty(t, logs)
	})
}

func TestStateInteractionRing(t *testing.T) {
	state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))

	for i := 0; i < maxInteractions+5; i++ {
		state.PromptSent(fmt.Sprintf("prompt %d", i))
		state.ResponseReceived(fmt.Sprintf("response %d", i))
	}

	interactions := state.Interactions(0)
	require.Len(t, interactions, maxInteractions)
	assert.Equal(t, fmt.Sprintf("prompt %d", maxInteractions+4), interactions[0].Prompt.Content)
}

func TestStateCounts(t *testing.T) {
	state := NewState(WithStateClock(advancingClock(testStart(), time.Second)))
	state.Event("cycle", "one")
	state.Event("cycle", "two")
	state.Event("reflection", "pause")

	counts := state.Counts()
	assert.Equal(t, map[string]int{"cycle": 2, "reflection": 1}, counts)

	counts["cycle"] = 99
	assert.Equal(t, 2, state.Counts()["cycle"])
}
