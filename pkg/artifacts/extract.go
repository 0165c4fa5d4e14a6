package artifacts

import (
	"regexp"
	"strings"

	"github.com/keplerlab/kepler/pkg/sections"
)

// Tags the model is instructed to use for structured artifact blocks.
const (
	TagFinding    = "FINDING"
	TagConnection = "CONNECTION"
	TagDiscovery  = "DISCOVERY_DECLARATION"
)

const maxTitleLen = 80

// Candidate is one artifact extracted from response text.
type Candidate struct {
	Title string
	Body  string
}

// Strategy extracts artifact candidates from a model response.
type Strategy interface {
	Extract(response string) []Candidate
}

// ExtractWith runs the strategies in order and returns the first non-empty
// result. Later strategies act as fallbacks only; when a tagged block
// exists, heuristics never run.
func ExtractWith(response string, strategies ...Strategy) []Candidate {
	for _, s := range strategies {
		if out := s.Extract(response); len(out) > 0 {
			return out
		}
	}
	return nil
}

// TagStrategy extracts every minor section named tag. The first non-empty
// line of the section body is the title, the remainder the body. Sections
// with no content are skipped.
func TagStrategy(tag string) Strategy {
	return tagStrategy{tag: tag}
}

type tagStrategy struct {
	tag string
}

func (s tagStrategy) Extract(response string) []Candidate {
	var out []Candidate
	for _, sec := range sections.All(response, sections.Minor) {
		if sec.Name != s.tag {
			continue
		}
		title, body, ok := splitTitle(sec.Body)
		if !ok {
			continue
		}
		out = append(out, Candidate{Title: capTitle(title), Body: body})
	}
	return out
}

func splitTitle(body string) (title, rest string, ok bool) {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		return t, strings.TrimSpace(strings.Join(lines[i+1:], "\n")), true
	}
	return "", "", false
}

// FindingPatterns and ConnectionPatterns are the default prose markers used
// when the model ignores the tagged format.
var (
	FindingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^finding[:\s]`),
		regexp.MustCompile(`(?i)^i (?:have )?discovered`),
		regexp.MustCompile(`(?i)^significant (?:result|anomaly)`),
	}
	ConnectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^connection[:\s]`),
		regexp.MustCompile(`(?i)^link between`),
		regexp.MustCompile(`(?i)^this connects`),
	}
)

// HeuristicStrategy scans the response line by line. A line matching any
// pattern opens a candidate: the title is the matched line minus the pattern
// prefix, the body runs from that line until a blank line or the next match.
func HeuristicStrategy(patterns []*regexp.Regexp) Strategy {
	return heuristicStrategy{patterns: patterns}
}

type heuristicStrategy struct {
	patterns []*regexp.Regexp
}

func (s heuristicStrategy) Extract(response string) []Candidate {
	var out []Candidate
	lines := strings.Split(response, "\n")

	for i := 0; i < len(lines); {
		prefixEnd := s.match(lines[i])
		if prefixEnd < 0 {
			i++
			continue
		}

		title := strings.TrimSpace(lines[i][prefixEnd:])
		if title == "" {
			title = strings.TrimSpace(lines[i])
		}

		body := []string{lines[i]}
		j := i + 1
		for j < len(lines) {
			if strings.TrimSpace(lines[j]) == "" || s.match(lines[j]) >= 0 {
				break
			}
			body = append(body, lines[j])
			j++
		}

		out = append(out, Candidate{
			Title: capTitle(title),
			Body:  strings.Join(body, "\n"),
		})
		i = j
	}
	return out
}

// match returns the end offset of the matched prefix, or -1.
func (s heuristicStrategy) match(line string) int {
	for _, p := range s.patterns {
		if loc := p.FindStringIndex(line); loc != nil {
			return loc[1]
		}
	}
	return -1
}

func capTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleLen {
		return title
	}
	return strings.TrimSpace(string(runes[:maxTitleLen]))
}

// DiscoveryContent returns the body of the discovery declaration section
// when one is present and non-empty.
func DiscoveryContent(response string) (string, bool) {
	body := strings.TrimSpace(sections.ExtractAt(response, TagDiscovery, sections.Minor))
	if body == "" {
		return "", false
	}
	return body, true
}
