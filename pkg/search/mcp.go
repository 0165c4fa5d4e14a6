package search

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/XiaoConstantine/mcp-go/pkg/client"
	mcpLogging "github.com/XiaoConstantine/mcp-go/pkg/logging"
	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/mcp-go/pkg/transport"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/errors"
	"github.com/keplerlab/kepler/pkg/logging"
)

const (
	mcpClientName    = "kepler"
	mcpClientVersion = "0.1.0"
	mcpInitTimeout   = 10 * time.Second
	defaultMCPTool   = "search"
)

// MCPProvider spawns a configured MCP server subprocess and searches through
// one of its tools over stdio.
type MCPProvider struct {
	client     *client.Client
	cmd        *exec.Cmd
	tool       string
	maxResults int
}

// loggerAdapter bridges the process logger to the mcp-go logging interface.
type loggerAdapter struct {
	logger *logging.Logger
	ctx    context.Context
}

func newLoggerAdapter(logger *logging.Logger) mcpLogging.Logger {
	return &loggerAdapter{logger: logger, ctx: context.Background()}
}

func (a *loggerAdapter) Debug(msg string, args ...interface{}) {
	a.logger.Debug(a.ctx, msg, args...)
}

func (a *loggerAdapter) Info(msg string, args ...interface{}) {
	a.logger.Info(a.ctx, msg, args...)
}

func (a *loggerAdapter) Warn(msg string, args ...interface{}) {
	a.logger.Warn(a.ctx, msg, args...)
}

func (a *loggerAdapter) Error(msg string, args ...interface{}) {
	a.logger.Error(a.ctx, msg, args...)
}

// NewMCPProvider starts the configured MCP server subprocess and performs
// the initialize handshake.
func NewMCPProvider(cfg config.SearchConfig) (*MCPProvider, error) {
	if cfg.Command == "" {
		return nil, errors.New(errors.InvalidInput, "MCP search provider requires a command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stderr = os.Stderr

	serverIn, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.SearchFailed, "failed to create stdin pipe")
	}
	serverOut, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.SearchFailed, "failed to create stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.SearchFailed, "failed to start MCP server"),
			errors.Fields{"command": cfg.Command})
	}

	mcpLogger := newLoggerAdapter(logging.GetLogger())
	t := transport.NewStdioTransport(serverOut, serverIn, mcpLogger)
	mcpClient := client.NewClient(t,
		client.WithLogger(mcpLogger),
		client.WithClientInfo(mcpClientName, mcpClientVersion),
	)

	ctx, cancel := context.WithTimeout(context.Background(), mcpInitTimeout)
	defer cancel()

	if _, err := mcpClient.Initialize(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, errors.WithFields(
			errors.Wrap(err, errors.SearchFailed, "MCP initialize handshake failed"),
			errors.Fields{"command": cfg.Command})
	}

	tool := cfg.Tool
	if tool == "" {
		tool = defaultMCPTool
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	return &MCPProvider{
		client:     mcpClient,
		cmd:        cmd,
		tool:       tool,
		maxResults: maxResults,
	}, nil
}

// Name implements Provider.
func (p *MCPProvider) Name() string {
	return "mcp"
}

// Search implements Provider.
func (p *MCPProvider) Search(ctx context.Context, query string) (*Results, error) {
	result, err := p.client.CallTool(ctx, p.tool, map[string]interface{}{"query": query})
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.SearchFailed, "MCP tool call failed"),
			errors.Fields{"tool": p.tool, "query": query})
	}

	text := contentText(result.Content)
	if result.IsError {
		return nil, errors.WithFields(
			errors.New(errors.SearchFailed, "MCP tool reported an error"),
			errors.Fields{"tool": p.tool, "detail": text})
	}

	return p.parse(query, text), nil
}

// Close stops the MCP server subprocess.
func (p *MCPProvider) Close() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	_ = p.cmd.Wait()
	return nil
}

// parse interprets the tool output as the JSON results shape when possible,
// falling back to a single snippet-only result.
func (p *MCPProvider) parse(query, text string) *Results {
	trimmed := strings.TrimSpace(text)
	results := &Results{Query: query}
	if trimmed == "" {
		return results
	}

	var payload searchResponse
	if err := json.Unmarshal([]byte(trimmed), &payload); err == nil && len(payload.Results) > 0 {
		return p.collectHits(query, payload.Results)
	}

	var hits []searchHit
	if err := json.Unmarshal([]byte(trimmed), &hits); err == nil && len(hits) > 0 {
		return p.collectHits(query, hits)
	}

	results.Items = append(results.Items, Result{Snippet: trimmed})
	return results
}

func (p *MCPProvider) collectHits(query string, hits []searchHit) *Results {
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

func contentText(content []models.Content) string {
	var b strings.Builder
	for _, item := range content {
		if text, ok := item.(models.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text.Text)
		}
	}
	return b.String()
}
