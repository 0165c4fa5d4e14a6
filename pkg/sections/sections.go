// Package sections parses and rewrites marker-delimited text documents.
//
// Documents are markdown-like: a line beginning "## " opens a major section,
// a line beginning "### " opens a minor one. The agent's memory document uses
// major sections; model responses use minor sections. All functions are pure
// and never fail on malformed input.
package sections

import "strings"

// Level selects the marker depth to parse at.
type Level int

const (
	Major Level = iota
	Minor
)

func (l Level) prefix() string {
	if l == Minor {
		return "### "
	}
	return "## "
}

// Heading renders the marker line for a section name at this level.
func (l Level) Heading(name string) string {
	return l.prefix() + name
}

// Section is one parsed block. Body is trimmed of surrounding whitespace.
type Section struct {
	Name string
	Body string
}

// markerName reports whether the line is a marker at the given level and, if
// so, the section name it declares. The space after the hashes is required,
// which also keeps deeper markers from matching a shallower level.
func markerName(line string, level Level) (string, bool) {
	prefix := level.prefix()
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	name := strings.TrimSpace(line[len(prefix):])
	if name == "" {
		return "", false
	}
	return name, true
}

// Preamble returns the text before the first marker line at the given
// level, or the whole text when no marker exists.
func Preamble(text string, level Level) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if _, ok := markerName(line, level); ok {
			return strings.Join(lines[:i], "\n")
		}
	}
	return text
}

// All tokenizes the text and returns every section at the given level in
// document order, duplicates preserved.
func All(text string, level Level) []Section {
	var out []Section
	var current *Section
	var body []string

	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(strings.Join(body, "\n"))
			out = append(out, *current)
		}
		current = nil
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if name, ok := markerName(line, level); ok {
			flush()
			current = &Section{Name: name}
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()

	return out
}

// ByName returns a map view of All. When a name repeats, the last occurrence
// wins.
func ByName(text string, level Level) map[string]string {
	out := make(map[string]string)
	for _, s := range All(text, level) {
		out[s.Name] = s.Body
	}
	return out
}

func lookup(text, name string, level Level) (string, bool) {
	body, found := "", false
	for _, s := range All(text, level) {
		if s.Name == name {
			body, found = s.Body, true
		}
	}
	return body, found
}

// ExtractAt returns the body of the named section at the given level, or ""
// when absent.
func ExtractAt(text, name string, level Level) string {
	body, _ := lookup(text, name, level)
	return body
}

// Extract returns the body of the named section, trying the major marker
// first and falling back to the minor one. Missing sections yield "".
func Extract(text, name string) string {
	if body, found := lookup(text, name, Major); found {
		return body
	}
	return ExtractAt(text, name, Minor)
}

// Replace rewrites the body of the named section at the given level, leaving
// every other line of the document untouched. When the section is absent it
// is appended at the end. Applying the same replacement twice is a no-op.
func Replace(text, name, body string, level Level) string {
	lines := strings.Split(text, "\n")

	// Locate the last occurrence of the section heading.
	start := -1
	for i, line := range lines {
		if n, ok := markerName(line, level); ok && n == name {
			start = i
		}
	}

	if start == -1 {
		return appendSection(text, name, body, level)
	}

	// Body span runs until the next marker at the same level.
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if _, ok := markerName(lines[i], level); ok {
			end = i
			break
		}
	}

	replacement := strings.Split(body, "\n")
	if end < len(lines) {
		// Keep a blank separator line before the next section.
		replacement = append(replacement, "")
	} else if strings.HasSuffix(text, "\n") {
		// Preserve the document's trailing newline.
		replacement = append(replacement, "")
	}

	out := make([]string, 0, len(lines)-(end-start-1)+len(replacement))
	out = append(out, lines[:start+1]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}

func appendSection(text, name, body string, level Level) string {
	if strings.TrimSpace(text) == "" {
		return level.Heading(name) + "\n" + body + "\n"
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + "\n" + level.Heading(name) + "\n" + body + "\n"
}

// Delete removes the named section (heading and body) at the given level.
// Absent sections leave the text unchanged.
func Delete(text, name string, level Level) string {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if n, ok := markerName(line, level); ok && n == name {
			start = i
			break
		}
	}
	if start == -1 {
		return text
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if _, ok := markerName(lines[i], level); ok {
			end = i
			break
		}
	}

	out := append([]string{}, lines[:start]...)
	out = append(out, lines[end:]...)
	result := strings.Join(out, "\n")

	// A deleted section may leave the same name further down; drop them all.
	if _, still := lookup(result, name, level); still {
		return Delete(result, name, level)
	}
	return result
}

// DeletePrefix removes every section at the given level whose name begins
// with the prefix. Used for timestamped entries where the full name varies.
func DeletePrefix(text, prefix string, level Level) string {
	for {
		found := ""
		for _, s := range All(text, level) {
			if strings.HasPrefix(s.Name, prefix) {
				found = s.Name
				break
			}
		}
		if found == "" {
			return text
		}
		text = Delete(text, found, level)
	}
}
