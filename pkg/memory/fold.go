package memory

import (
	"strings"

	"github.com/keplerlab/kepler/pkg/sections"
)

// FoldResponse integrates a model response into the document:
//
//  1. The response's minor sections are parsed (last occurrence of a name
//     wins).
//  2. For each route, the first accepted subsection present in the response
//     replaces the target persistent section, adding it when the document
//     lacks it. Sections the response does not address are untouched.
//  3. The previous raw-response entry is dropped and a fresh timestamped one
//     holding the entire response is appended, so the document always
//     retains exactly one, the most recent.
func (s *Store) FoldResponse(response string) error {
	body, _ := splitActionEntry(s.Read())

	minor := sections.ByName(response, sections.Minor)
	for _, route := range s.routes {
		for _, accept := range route.Accept {
			text, ok := minor[accept]
			if !ok || strings.TrimSpace(text) == "" {
				continue
			}
			body = sections.Replace(body, route.Target, text, sections.Major)
			break
		}
	}

	timestamp := s.clock().Format(timestampLayout)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	doc := body + "\n## " + actionEntryPrefix + timestamp + "\n" + response + "\n"

	if err := s.Write(doc); err != nil {
		return err
	}
	s.logger.Debug(nil, "memory updated with action response (%d chars)", len(response))
	return nil
}

// AppendReflection appends a timestamped reflection entry. The raw-response
// entry, when present, stays the final block.
func (s *Store) AppendReflection(reflection string) error {
	body, entry := splitActionEntry(s.Read())

	timestamp := s.clock().Format(timestampLayout)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	doc := body + "\n## " + reflectionPrefix + timestamp + "\n" + reflection + "\n"
	if entry != "" {
		doc += "\n" + entry
	}

	if err := s.Write(doc); err != nil {
		return err
	}
	s.logger.Debug(nil, "memory updated with reflection (%d chars)", len(reflection))
	return nil
}
