// Package agent coordinates the action and reflection cycles: build the
// prompt, query the model, enrich the response with search results, record
// artifacts, and fold everything back into memory.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/keplerlab/kepler/pkg/artifacts"
	"github.com/keplerlab/kepler/pkg/articles"
	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/llm"
	"github.com/keplerlab/kepler/pkg/logging"
	"github.com/keplerlab/kepler/pkg/memory"
	"github.com/keplerlab/kepler/pkg/search"
)

// Concurrent search requests within one cycle.
const maxSearchWorkers = 3

// ArticleSink receives search hits for later curation.
type ArticleSink interface {
	Add(ctx context.Context, article articles.Article) (int64, bool, error)
}

// ExampleSink accumulates successful prompt/response pairs for fine-tuning.
type ExampleSink interface {
	Record(prompt, response string) error
}

// Artifacts groups the stores a cycle records findings, connections, and
// discovery declarations to. A nil field disables that kind of recording.
type Artifacts struct {
	Findings    *artifacts.Recorder
	Connections *artifacts.Recorder
	Discovery   *artifacts.Discovery
}

// Coordinator owns the agent's cycles. Cycles are strictly sequential; a
// cycle started while another runs blocks until the first finishes.
type Coordinator struct {
	cfg      config.AgentConfig
	memory   *memory.Store
	client   llm.Client
	art      Artifacts
	search   search.Provider
	articles ArticleSink
	examples ExampleSink
	observer Observer
	logger   *logging.Logger
	clock    func() time.Time

	mu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSearch enables search enrichment.
func WithSearch(p search.Provider) Option {
	return func(c *Coordinator) { c.search = p }
}

// WithArticles routes search hits into an article store.
func WithArticles(sink ArticleSink) Option {
	return func(c *Coordinator) { c.articles = sink }
}

// WithExampleSink records successful model interactions for fine-tuning.
func WithExampleSink(sink ExampleSink) Option {
	return func(c *Coordinator) { c.examples = sink }
}

// WithObserver attaches a cycle observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock overrides the time source used in prompts and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator wires an agent from its parts.
func NewCoordinator(cfg config.AgentConfig, mem *memory.Store, client llm.Client, art Artifacts, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		memory:   mem,
		client:   client,
		art:      art,
		observer: NopObserver{},
		logger:   logging.GetLogger(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunActionCycle runs one full action cycle and returns the model's raw
// response text. Errors never escape: a failed query yields an error
// response that is folded into memory like any other, and every later step
// degrades to a logged warning.
func (c *Coordinator) RunActionCycle(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx = logging.WithModelID(ctx, c.client.ModelID())
	c.logger.Info(ctx, "running action cycle")

	c.ensureMemory(ctx)
	prompt := buildActionPrompt(c.cfg, c.memory.Read(), c.clock())

	response := c.query(ctx, prompt)
	enriched := c.enrichWithSearch(ctx, response)

	c.recordKind(c.art.Findings, enriched, artifacts.TagFinding, artifacts.FindingPatterns)
	c.recordKind(c.art.Connections, enriched, artifacts.TagConnection, artifacts.ConnectionPatterns)
	c.recordDiscovery(enriched)

	if err := c.memory.FoldResponse(enriched); err != nil {
		c.logger.Error(ctx, "failed to update memory with action response: %v", err)
	}
	if err := c.memory.EnforceBudget(); err != nil {
		c.logger.Error(ctx, "failed to enforce memory budget: %v", err)
	}

	c.logger.Info(ctx, "action completed, memory updated")
	c.observer.Event("action", "Action cycle completed and memory updated")
	return response
}

// RunReflectionCycle runs one reflection cycle and returns the reflection
// text. Same error policy as RunActionCycle.
func (c *Coordinator) RunReflectionCycle(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx = logging.WithModelID(ctx, c.client.ModelID())
	c.logger.Info(ctx, "running reflection cycle")

	c.ensureMemory(ctx)
	prompt := buildReflectionPrompt(c.cfg, c.memory.Read())

	response := c.query(ctx, prompt)

	if err := c.memory.AppendReflection(response); err != nil {
		c.logger.Error(ctx, "failed to update memory with reflection: %v", err)
	}
	if err := c.memory.EnforceBudget(); err != nil {
		c.logger.Error(ctx, "failed to enforce memory budget: %v", err)
	}

	c.logger.Info(ctx, "reflection completed and memory updated")
	c.observer.Event("reflection", "Reflection cycle completed and memory updated")
	return response
}

func (c *Coordinator) ensureMemory(ctx context.Context) {
	if c.memory.Exists() {
		return
	}
	if err := c.memory.Initialize(c.cfg.Name, c.cfg.Goal); err != nil {
		c.logger.Error(ctx, "failed to initialize memory: %v", err)
	}
}

// query sends one prompt to the model and notifies the observer on both
// sides. A generation error is converted into the error response text.
func (c *Coordinator) query(ctx context.Context, prompt string) string {
	c.observer.PromptSent(prompt)

	var text string
	resp, err := c.client.Generate(ctx, prompt)
	if err != nil {
		c.logger.Error(ctx, "model query failed: %v", err)
		text = fmt.Sprintf("Error: unable to get a response from the model: %v", err)
	} else {
		text = resp.Content
		c.recordExample(ctx, prompt, text)
	}

	c.observer.ResponseReceived(text)
	return text
}

func (c *Coordinator) recordExample(ctx context.Context, prompt, response string) {
	if c.examples == nil {
		return
	}
	if err := c.examples.Record(prompt, response); err != nil {
		c.logger.Warn(ctx, "failed to record fine-tuning example: %v", err)
	}
}

// enrichWithSearch appends a Search Analysis section per requested query.
// Queries run concurrently but the appended sections follow request order.
func (c *Coordinator) enrichWithSearch(ctx context.Context, response string) string {
	if c.search == nil {
		return response
	}
	queries := parseSearchRequests(response, c.cfg.MaxSearchRequests)
	if len(queries) == 0 {
		return response
	}

	c.logger.Info(ctx, "running %d search request(s)", len(queries))

	analyses := make([]string, len(queries))
	p := pool.New().WithMaxGoroutines(maxSearchWorkers)
	for i, query := range queries {
		i, query := i, query
		p.Go(func() {
			analyses[i] = c.searchAndAnalyze(ctx, query)
		})
	}
	p.Wait()

	var b strings.Builder
	b.WriteString(strings.TrimRight(response, "\n"))
	for i, query := range queries {
		b.WriteString("\n\n### Search Analysis: ")
		b.WriteString(query)
		b.WriteString("\n")
		b.WriteString(analyses[i])
	}
	b.WriteString("\n")
	return b.String()
}

// searchAndAnalyze runs one query and has the model analyze the results.
// Failures come back as an "Error: ..." analysis body so the cycle's output
// always carries one section per requested query.
func (c *Coordinator) searchAndAnalyze(ctx context.Context, query string) string {
	results, err := c.search.Search(ctx, query)
	if err != nil {
		c.logger.Error(ctx, "search for %q failed: %v", query, err)
		return fmt.Sprintf("Error: search failed: %v", err)
	}

	c.offerArticles(ctx, results)

	prompt := buildAnalysisPrompt(c.cfg, query, search.FormatResults(results))
	resp, err := c.client.Generate(ctx, prompt)
	if err != nil {
		c.logger.Error(ctx, "analysis of search %q failed: %v", query, err)
		return fmt.Sprintf("Error: unable to get a response from the model: %v", err)
	}
	return strings.TrimSpace(resp.Content)
}

func (c *Coordinator) offerArticles(ctx context.Context, results *search.Results) {
	if c.articles == nil || results == nil {
		return
	}
	for _, item := range results.Items {
		if item.URL == "" {
			continue
		}
		article := articles.Article{
			Title:           item.Title,
			URL:             item.URL,
			Source:          item.Source,
			PublicationDate: item.Published,
			ContentSnippet:  item.Snippet,
		}
		if _, _, err := c.articles.Add(ctx, article); err != nil {
			c.logger.Warn(ctx, "failed to store article %q: %v", item.URL, err)
		}
	}
}

func (c *Coordinator) recordKind(rec *artifacts.Recorder, text, tag string, patterns []*regexp.Regexp) {
	if rec == nil {
		return
	}
	candidates := artifacts.ExtractWith(text,
		artifacts.TagStrategy(tag),
		artifacts.HeuristicStrategy(patterns))
	for _, cand := range candidates {
		rec.Record(cand.Title, cand.Body)
	}
}

func (c *Coordinator) recordDiscovery(text string) {
	if c.art.Discovery == nil {
		return
	}
	content, ok := artifacts.DiscoveryContent(text)
	if !ok {
		return
	}
	if c.art.Discovery.Declare(content) {
		c.observer.Event("discovery", "Discovery declaration recorded")
	}
}
