package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerlab/kepler/pkg/artifacts"
	"github.com/keplerlab/kepler/pkg/articles"
	"github.com/keplerlab/kepler/pkg/llm"
	"github.com/keplerlab/kepler/pkg/memory"
	"github.com/keplerlab/kepler/pkg/search"
)

func testClock() func() time.Time {
	return func() time.Time {
		return time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	}
}

type fakeClient struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeClient) Generate(_ context.Context, prompt string, _ ...llm.GenerateOption) (*llm.Response, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	text, err := f.reply(prompt)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: text}, nil
}

func (f *fakeClient) ModelID() string      { return "fake-model" }
func (f *fakeClient) ProviderName() string { return "fake" }

func (f *fakeClient) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func replyWith(text string) *fakeClient {
	return &fakeClient{reply: func(string) (string, error) { return text, nil }}
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	results map[string]*search.Results
	err     error
}

func (f *fakeSearch) Search(_ context.Context, query string) (*search.Results, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[query]; ok {
		return r, nil
	}
	return &search.Results{Query: query}, nil
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type recordingObserver struct {
	mu        sync.Mutex
	prompts   []string
	responses []string
	events    []string
}

func (o *recordingObserver) PromptSent(prompt string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, prompt)
}

func (o *recordingObserver) ResponseReceived(response string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, response)
}

func (o *recordingObserver) Event(kind, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, kind+": "+message)
}

type fakeArticleSink struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeArticleSink) Add(_ context.Context, a articles.Article) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.urls {
		if u == a.URL {
			return 0, false, nil
		}
	}
	f.urls = append(f.urls, a.URL)
	return int64(len(f.urls)), true, nil
}

func (f *fakeArticleSink) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeExampleSink struct {
	mu    sync.Mutex
	pairs [][2]string
}

func (f *fakeExampleSink) Record(prompt, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, [2]string{prompt, response})
	return nil
}

func (f *fakeExampleSink) recorded() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.pairs...)
}

func newTestCoordinator(t *testing.T, client llm.Client, opts ...Option) (*Coordinator, *memory.Store, Artifacts) {
	t.Helper()
	dir := t.TempDir()

	mem := memory.New(filepath.Join(dir, "memory.md"), memory.WithClock(testClock()))
	art := Artifacts{
		Findings:    artifacts.NewRecorder(filepath.Join(dir, "artifacts"), artifacts.Findings, artifacts.WithClock(testClock())),
		Connections: artifacts.NewRecorder(filepath.Join(dir, "artifacts"), artifacts.Connections, artifacts.WithClock(testClock())),
		Discovery:   artifacts.NewDiscovery(filepath.Join(dir, "artifacts", "discovery.md"), artifacts.WithClock(testClock())),
	}

	opts = append(opts, WithClock(testClock()))
	return NewCoordinator(testAgentConfig(), mem, client, art, opts...), mem, art
}

const actionResponse = `### Progress Assessment
Mapped the boundary conditions linking quantum field theory to curved spacetime.

### Outcome and Learning Report
Compared semiclassical approximations against recent holography results.

### Research Topics
Holographic duality in de Sitter space.

### Next Steps
Formalize the candidate correspondence.

### Learnings
Renormalization cutoffs behave differently near horizons.
`

const searchingResponse = actionResponse + `
### SEARCH_REQUESTS
- tensor networks emergent spacetime
2. loop quantum gravity observational tests
`

func TestRunActionCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("InitializesMemoryOnFirstCycle", func(t *testing.T) {
		client := replyWith(actionResponse)
		coord, mem, _ := newTestCoordinator(t, client)

		require.False(t, mem.Exists())
		coord.RunActionCycle(ctx)

		require.True(t, mem.Exists())
		assert.Contains(t, mem.Read(), "# Kepler - Autonomous Agent Memory")
	})

	t.Run("PromptCarriesIdentityMemoryAndTime", func(t *testing.T) {
		client := replyWith(actionResponse)
		coord, mem, _ := newTestCoordinator(t, client)
		require.NoError(t, mem.Initialize("Kepler", "Unify quantum mechanics and general relativity."))

		coord.RunActionCycle(ctx)

		prompts := client.seen()
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], "# Kepler - Action Cycle")
		assert.Contains(t, prompts[0], "## Your Memory")
		assert.Contains(t, prompts[0], "# Kepler - Autonomous Agent Memory")
		assert.Contains(t, prompts[0], "The current time is 2025-03-01 10:30:00")
	})

	t.Run("FoldsResponseIntoMemory", func(t *testing.T) {
		client := replyWith(actionResponse)
		coord, mem, _ := newTestCoordinator(t, client)

		coord.RunActionCycle(ctx)

		assert.Contains(t, mem.ExtractSection(memory.SectionProgress),
			"Mapped the boundary conditions linking quantum field theory to curved spacetime.")
		assert.Contains(t, mem.ExtractSection(memory.SectionNextSteps),
			"Formalize the candidate correspondence.")
		assert.Contains(t, mem.Read(), "## Action Taken at 2025-03-01 10:30:00")
	})

	t.Run("QueryErrorBecomesErrorResponse", func(t *testing.T) {
		client := &fakeClient{reply: func(string) (string, error) {
			return "", errors.New("model unreachable")
		}}
		coord, mem, _ := newTestCoordinator(t, client)

		got := coord.RunActionCycle(ctx)

		assert.Equal(t, "Error: unable to get a response from the model: model unreachable", got)
		assert.Contains(t, mem.Read(), "Error: unable to get a response from the model: model unreachable")
	})

	t.Run("EnforcesMemoryBudget", func(t *testing.T) {
		long := actionResponse + strings.Repeat("Expanding notes on the candidate correspondence.\n", 200)
		client := replyWith(long)

		dir := t.TempDir()
		mem := memory.New(filepath.Join(dir, "memory.md"),
			memory.WithClock(testClock()), memory.WithBudget(2000, 5))
		coord := NewCoordinator(testAgentConfig(), mem, client, Artifacts{}, WithClock(testClock()))

		coord.RunActionCycle(ctx)

		assert.LessOrEqual(t, len(mem.Read()), 2000)
	})

	t.Run("EmitsActionEvent", func(t *testing.T) {
		client := replyWith(actionResponse)
		obs := &recordingObserver{}
		coord, _, _ := newTestCoordinator(t, client, WithObserver(obs))

		coord.RunActionCycle(ctx)

		assert.Contains(t, obs.events, "action: Action cycle completed and memory updated")
	})
}

func TestActionCycleSearchEnrichment(t *testing.T) {
	ctx := context.Background()

	analysisReply := func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "- Search Analysis") && strings.Contains(prompt, "tensor networks"):
			return "Tensor network toy models reproduce geodesic structure.", nil
		case strings.Contains(prompt, "- Search Analysis") && strings.Contains(prompt, "loop quantum"):
			return "Observational bounds remain far too weak to discriminate.", nil
		default:
			return searchingResponse, nil
		}
	}

	t.Run("AppendsAnalysisSectionsInRequestOrder", func(t *testing.T) {
		client := &fakeClient{reply: analysisReply}
		provider := &fakeSearch{}
		coord, mem, _ := newTestCoordinator(t, client, WithSearch(provider))

		got := coord.RunActionCycle(ctx)

		assert.Equal(t, searchingResponse, got)
		assert.NotContains(t, got, "Search Analysis")

		doc := mem.Read()
		first := strings.Index(doc, "### Search Analysis: tensor networks emergent spacetime")
		second := strings.Index(doc, "### Search Analysis: loop quantum gravity observational tests")
		require.Positive(t, first)
		require.Positive(t, second)
		assert.Less(t, first, second)
		assert.Contains(t, doc, "Tensor network toy models reproduce geodesic structure.")
		assert.Contains(t, doc, "Observational bounds remain far too weak to discriminate.")
	})

	t.Run("CapsQueriesAtConfiguredLimit", func(t *testing.T) {
		client := &fakeClient{reply: analysisReply}
		provider := &fakeSearch{}

		dir := t.TempDir()
		mem := memory.New(filepath.Join(dir, "memory.md"), memory.WithClock(testClock()))
		cfg := testAgentConfig()
		cfg.MaxSearchRequests = 1
		coord := NewCoordinator(cfg, mem, client, Artifacts{},
			WithSearch(provider), WithClock(testClock()))

		coord.RunActionCycle(ctx)

		assert.Equal(t, []string{"tensor networks emergent spacetime"}, provider.seen())
	})

	t.Run("SearchErrorYieldsErrorAnalysis", func(t *testing.T) {
		client := &fakeClient{reply: analysisReply}
		provider := &fakeSearch{err: errors.New("search backend down")}
		coord, mem, _ := newTestCoordinator(t, client, WithSearch(provider))

		coord.RunActionCycle(ctx)

		doc := mem.Read()
		assert.Contains(t, doc, "### Search Analysis: tensor networks emergent spacetime")
		assert.Contains(t, doc, "Error: search failed: search backend down")
	})

	t.Run("AnalysisErrorYieldsErrorAnalysis", func(t *testing.T) {
		client := &fakeClient{reply: func(prompt string) (string, error) {
			if strings.Contains(prompt, "- Search Analysis") {
				return "", errors.New("rate limited")
			}
			return searchingResponse, nil
		}}
		provider := &fakeSearch{}
		coord, mem, _ := newTestCoordinator(t, client, WithSearch(provider))

		coord.RunActionCycle(ctx)

		assert.Contains(t, mem.Read(), "Error: unable to get a response from the model: rate limited")
	})

	t.Run("OffersHitsToArticleStore", func(t *testing.T) {
		client := &fakeClient{reply: analysisReply}
		provider := &fakeSearch{results: map[string]*search.Results{
			"tensor networks emergent spacetime": {
				Query: "tensor networks emergent spacetime",
				Items: []search.Result{
					{Title: "Emergent geometry", URL: "https://arxiv.org/abs/2501.00001"},
					{Title: "No URL item"},
					{Title: "Holography review", URL: "https://arxiv.org/abs/2501.00002"},
				},
			},
		}}
		sink := &fakeArticleSink{}
		coord, _, _ := newTestCoordinator(t, client, WithSearch(provider), WithArticles(sink))

		coord.RunActionCycle(ctx)

		assert.ElementsMatch(t,
			[]string{"https://arxiv.org/abs/2501.00001", "https://arxiv.org/abs/2501.00002"},
			sink.seen())
	})

	t.Run("NoProviderMeansNoEnrichment", func(t *testing.T) {
		client := replyWith(searchingResponse)
		coord, mem, _ := newTestCoordinator(t, client)

		coord.RunActionCycle(ctx)

		assert.Len(t, client.seen(), 1)
		assert.NotContains(t, mem.Read(), "Search Analysis")
	})
}

func TestActionCycleArtifacts(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordsTaggedFindingsAndConnections", func(t *testing.T) {
		response := actionResponse + `
### FINDING
Horizon cutoff asymmetry
The cutoff scale shifts by a factor of two across the horizon.

### CONNECTION
Entropy bounds and error correction
Both constrain information density the same way.
`
		client := replyWith(response)
		coord, _, art := newTestCoordinator(t, client)

		coord.RunActionCycle(ctx)

		assert.Equal(t, 1, art.Findings.Count())
		assert.Contains(t, art.Findings.ReadLog(), "Horizon cutoff asymmetry")
		assert.Equal(t, 1, art.Connections.Count())
		assert.Contains(t, art.Connections.ReadLog(), "Entropy bounds and error correction")
	})

	t.Run("ExtractsFromEnrichedText", func(t *testing.T) {
		client := &fakeClient{reply: func(prompt string) (string, error) {
			if strings.Contains(prompt, "- Search Analysis") {
				return "### FINDING\nEmergent metric order\nTensor models reproduce geodesics.\n", nil
			}
			return searchingResponse, nil
		}}
		provider := &fakeSearch{}
		coord, _, art := newTestCoordinator(t, client, WithSearch(provider))

		coord.RunActionCycle(ctx)

		assert.Positive(t, art.Findings.Count())
		assert.Contains(t, art.Findings.ReadLog(), "Emergent metric order")
	})

	t.Run("HeuristicFallbackWhenNoTags", func(t *testing.T) {
		response := actionResponse + "\nFinding: strange correlation in the vacuum data\nIt persists across renormalization schemes.\n"
		client := replyWith(response)
		coord, _, art := newTestCoordinator(t, client)

		coord.RunActionCycle(ctx)

		assert.Equal(t, 1, art.Findings.Count())
		assert.Contains(t, art.Findings.ReadLog(), "strange correlation in the vacuum data")
	})

	t.Run("DeclaresDiscovery", func(t *testing.T) {
		response := actionResponse + `
### DISCOVERY_DECLARATION
A consistent mapping between entanglement entropy and spacetime curvature.
`
		client := replyWith(response)
		obs := &recordingObserver{}
		coord, _, art := newTestCoordinator(t, client, WithObserver(obs))

		coord.RunActionCycle(ctx)

		content, ok := art.Discovery.Read()
		require.True(t, ok)
		assert.Contains(t, content, "entanglement entropy and spacetime curvature")
		assert.Contains(t, obs.events, "discovery: Discovery declaration recorded")
	})

	t.Run("IgnoresEmptyDiscoverySection", func(t *testing.T) {
		response := actionResponse + "\n### DISCOVERY_DECLARATION\n\n"
		client := replyWith(response)
		coord, _, art := newTestCoordinator(t, client)

		coord.RunActionCycle(ctx)

		_, ok := art.Discovery.Read()
		assert.False(t, ok)
	})
}

func TestRunReflectionCycle(t *testing.T) {
	ctx := context.Background()
	reflection := "My strategy needs to shift toward testable predictions."

	t.Run("AppendsReflectionToMemory", func(t *testing.T) {
		client := replyWith(reflection)
		coord, mem, _ := newTestCoordinator(t, client)

		got := coord.RunReflectionCycle(ctx)

		assert.Equal(t, reflection, got)
		doc := mem.Read()
		assert.Contains(t, doc, "## Reflection at 2025-03-01 10:30:00")
		assert.Contains(t, doc, reflection)
	})

	t.Run("PromptNamesReflectionSession", func(t *testing.T) {
		client := replyWith(reflection)
		coord, _, _ := newTestCoordinator(t, client)

		coord.RunReflectionCycle(ctx)

		prompts := client.seen()
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], "# Kepler - Reflection Session")
		assert.Contains(t, prompts[0], "## Reflection Task")
	})

	t.Run("QueryErrorBecomesErrorResponse", func(t *testing.T) {
		client := &fakeClient{reply: func(string) (string, error) {
			return "", errors.New("model unreachable")
		}}
		coord, mem, _ := newTestCoordinator(t, client)

		got := coord.RunReflectionCycle(ctx)

		assert.Equal(t, "Error: unable to get a response from the model: model unreachable", got)
		assert.Contains(t, mem.Read(), "Error: unable to get a response from the model: model unreachable")
	})

	t.Run("EmitsReflectionEvent", func(t *testing.T) {
		client := replyWith(reflection)
		obs := &recordingObserver{}
		coord, _, _ := newTestCoordinator(t, client, WithObserver(obs))

		coord.RunReflectionCycle(ctx)

		assert.Contains(t, obs.events, "reflection: Reflection cycle completed and memory updated")
	})
}

func TestObserverNotifications(t *testing.T) {
	ctx := context.Background()

	t.Run("ForwardsPromptAndResponse", func(t *testing.T) {
		client := replyWith(actionResponse)
		obs := &recordingObserver{}
		coord, _, _ := newTestCoordinator(t, client, WithObserver(obs))

		coord.RunActionCycle(ctx)

		require.Len(t, obs.prompts, 1)
		assert.Contains(t, obs.prompts[0], "# Kepler - Action Cycle")
		require.Len(t, obs.responses, 1)
		assert.Equal(t, actionResponse, obs.responses[0])
	})

	t.Run("AnalysisQueriesStayInternal", func(t *testing.T) {
		client := &fakeClient{reply: func(prompt string) (string, error) {
			if strings.Contains(prompt, "- Search Analysis") {
				return "Analysis body.", nil
			}
			return searchingResponse, nil
		}}
		provider := &fakeSearch{}
		obs := &recordingObserver{}
		coord, _, _ := newTestCoordinator(t, client, WithSearch(provider), WithObserver(obs))

		coord.RunActionCycle(ctx)

		assert.Len(t, client.seen(), 3)
		assert.Len(t, obs.prompts, 1)
		assert.Len(t, obs.responses, 1)
	})
}

func TestExampleRecording(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordsSuccessfulInteraction", func(t *testing.T) {
		client := replyWith(actionResponse)
		sink := &fakeExampleSink{}
		coord, _, _ := newTestCoordinator(t, client, WithExampleSink(sink))

		coord.RunActionCycle(ctx)

		pairs := sink.recorded()
		require.Len(t, pairs, 1)
		assert.Contains(t, pairs[0][0], "# Kepler - Action Cycle")
		assert.Equal(t, actionResponse, pairs[0][1])
	})

	t.Run("SkipsFailedQueries", func(t *testing.T) {
		client := &fakeClient{reply: func(string) (string, error) {
			return "", errors.New("model unreachable")
		}}
		sink := &fakeExampleSink{}
		coord, _, _ := newTestCoordinator(t, client, WithExampleSink(sink))

		coord.RunActionCycle(ctx)

		assert.Empty(t, sink.recorded())
	})

	t.Run("AnalysisQueriesAreNotRecorded", func(t *testing.T) {
		client := &fakeClient{reply: func(prompt string) (string, error) {
			if strings.Contains(prompt, "- Search Analysis") {
				return "Analysis body.", nil
			}
			return searchingResponse, nil
		}}
		provider := &fakeSearch{}
		sink := &fakeExampleSink{}
		coord, _, _ := newTestCoordinator(t, client, WithSearch(provider), WithExampleSink(sink))

		coord.RunActionCycle(ctx)

		require.Len(t, sink.recorded(), 1)
	})
}
