// Package search provides the web search providers the agent uses to enrich
// its action cycles. A provider is optional; a nil Provider means search is
// disabled.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
)

// Result is one search hit.
type Result struct {
	Title     string
	URL       string
	Source    string
	Snippet   string
	Published string
}

// Results is the outcome of one query.
type Results struct {
	Query string
	Items []Result
}

// Provider runs web searches.
type Provider interface {
	Search(ctx context.Context, query string) (*Results, error)
	Name() string
}

// FormatResults renders results as a numbered block suitable for an
// analysis prompt.
func FormatResults(r *Results) string {
	if r == nil || len(r.Items) == 0 {
		return "No results."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", r.Query)
	for i, item := range r.Items {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, item.Title)
		if item.URL != "" {
			fmt.Fprintf(&b, "   URL: %s\n", item.URL)
		}
		if item.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", item.Snippet)
		}
	}
	return b.String()
}

// New creates the configured Provider. Provider "none" (or empty) returns a
// nil Provider, meaning search is disabled.
func New(cfg config.SearchConfig) (Provider, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPProvider(cfg)
	case "mcp":
		return NewMCPProvider(cfg)
	case "", "none":
		return nil, nil
	default:
		return nil, errors.WithFields(
			errors.New(errors.ValidationFailed, "unsupported search provider"),
			errors.Fields{"provider": cfg.Provider})
	}
}
