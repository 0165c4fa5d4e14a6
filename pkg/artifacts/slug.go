package artifacts

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLen caps the slug fragment inside artifact file names.
const maxSlugLen = 40

// deaccent strips combining marks so accented titles slug cleanly.
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug converts an artifact title into a file-name-safe fragment: lowercase
// ASCII with non-alphanumeric runs collapsed to single underscores.
func Slug(title string) string {
	stripped, _, err := transform.String(deaccent, title)
	if err != nil {
		stripped = title
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(stripped) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	s := b.String()
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "_")
	}
	if s == "" {
		return "untitled"
	}
	return s
}
