package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
)

const defaultMaxResults = 5

// HTTPProvider queries a SearXNG-style JSON search gateway:
// GET <base>/search?q=<query>&format=json.
type HTTPProvider struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	maxResults   int
	httpClient   *http.Client
}

// NewHTTPProvider creates the HTTP search provider from configuration.
func NewHTTPProvider(cfg config.SearchConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.InvalidInput, "search base URL is required")
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	return &HTTPProvider{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		maxResults:   maxResults,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return "http"
}

// Search gateway wire format.
type searchHit struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	Engine        string `json:"engine"`
	PublishedDate string `json:"publishedDate"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

// Search implements Provider.
func (p *HTTPProvider) Search(ctx context.Context, query string) (*Results, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to create request")
	}
	if p.apiKey != "" {
		header := p.apiKeyHeader
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.SearchFailed, "search request failed"),
			errors.Fields{"query": query})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.SearchFailed, "failed to read search response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithFields(
			errors.New(errors.SearchFailed, "search gateway returned an error"),
			errors.Fields{"status": resp.StatusCode, "query": query})
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to parse search response")
	}

	return p.collect(query, payload.Results), nil
}

func (p *HTTPProvider) collect(query string, hits []searchHit) *Results {
	results := &Results{Query: query}
	for _, hit := range hits {
		if len(results.Items) >= p.maxResults {
			break
		}
		results.Items = append(results.Items, Result{
			Title:     hit.Title,
			URL:       hit.URL,
			Source:    hit.Engine,
			Snippet:   hit.Content,
			Published: hit.PublishedDate,
		})
	}
	return results
}
