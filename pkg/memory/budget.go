package memory

import (
	"strings"
	"unicode/utf8"

	"github.com/keplerlab/kepler/pkg/sections"
)

const (
	compactedNotice  = "[earlier content compacted]"
	truncatedNotice  = "[response truncated]"
	minimalBodyStub  = "[compacted]"
	entryBudgetShare = 4 // raw-response entry keeps at most maxChars/4
)

// protectedSections survive compaction verbatim.
var protectedSections = map[string]bool{
	SectionIdentity:  true,
	SectionProgress:  true,
	SectionNextSteps: true,
}

// EnforceBudget rebuilds the document when it exceeds the character budget.
// Protected sections are kept verbatim; other sections lose all but their
// most recent lines; only the newest reflection survives; the raw-response
// entry is capped. Compaction itself cannot fail. When even the hardest
// pass cannot reach the budget the smallest document with protected
// sections intact is written.
func (s *Store) EnforceBudget() error {
	if s.maxChars <= 0 {
		return nil
	}

	content := s.Read()
	if len(content) <= s.maxChars {
		return nil
	}

	compacted := s.compact(content, s.keepLines, true)
	if len(compacted) > s.maxChars {
		compacted = s.compact(content, 3, false)
	}
	if len(compacted) > s.maxChars {
		compacted = s.compactMinimal(content)
	}

	s.logger.Info(nil, "memory compacted from %d to %d chars (budget %d)",
		len(content), len(compacted), s.maxChars)
	return s.Write(compacted)
}

// compact is the standard pass: unprotected sections keep their last keep
// lines, old reflections are dropped, the raw-response entry is kept capped
// when keepEntry is set.
func (s *Store) compact(content string, keep int, keepEntry bool) string {
	body, entry := splitActionEntry(content)
	preamble := strings.TrimSpace(sections.Preamble(body, sections.Major))
	secs := sections.All(body, sections.Major)

	lastReflection := ""
	for _, sec := range secs {
		if strings.HasPrefix(sec.Name, reflectionPrefix) {
			lastReflection = sec.Name
		}
	}

	var b strings.Builder
	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	for _, sec := range secs {
		if strings.HasPrefix(sec.Name, reflectionPrefix) && sec.Name != lastReflection {
			continue
		}
		secBody := sec.Body
		if !protectedSections[sec.Name] {
			secBody = truncateTail(secBody, keep)
		}
		b.WriteString("\n## " + sec.Name + "\n" + secBody + "\n")
	}
	if entry != "" && keepEntry {
		b.WriteString("\n" + capText(strings.TrimRight(entry, "\n"), s.maxChars/entryBudgetShare) + "\n")
	}
	return b.String()
}

// compactMinimal is the last resort: protected sections verbatim, every
// other section reduced to a stub, reflections and the raw-response entry
// dropped.
func (s *Store) compactMinimal(content string) string {
	body, _ := splitActionEntry(content)
	preamble := strings.TrimSpace(sections.Preamble(body, sections.Major))

	var b strings.Builder
	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	for _, sec := range sections.All(body, sections.Major) {
		if strings.HasPrefix(sec.Name, reflectionPrefix) {
			continue
		}
		secBody := sec.Body
		if !protectedSections[sec.Name] {
			secBody = minimalBodyStub
		}
		b.WriteString("\n## " + sec.Name + "\n" + secBody + "\n")
	}
	return b.String()
}

// truncateTail keeps the last keep lines of a body, marking the cut.
func truncateTail(body string, keep int) string {
	lines := strings.Split(body, "\n")
	if len(lines) <= keep {
		return body
	}
	kept := strings.TrimSpace(strings.Join(lines[len(lines)-keep:], "\n"))
	if kept == "" {
		return compactedNotice
	}
	return compactedNotice + "\n" + kept
}

// capText cuts text at a UTF-8 boundary at or below max and marks the cut.
func capText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max] + "\n" + truncatedNotice
}
