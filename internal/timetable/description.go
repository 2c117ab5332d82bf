package timetable

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Placeholder describes the short tokens that mark an intentionally blank
// timetable cell. A token is a placeholder when its lowercase form contains
// Substring and it is shorter than MaxLen characters.
type Placeholder struct {
	Substring string
	MaxLen    int
}

// DefaultPlaceholder matches the German "leer" (blank) markers.
func DefaultPlaceholder() Placeholder {
	return Placeholder{Substring: "leer", MaxLen: 10}
}

// Match reports whether token is a blank-cell marker.
func (p Placeholder) Match(token string) bool {
	if p.Substring == "" {
		return false
	}
	if utf8.RuneCountInString(token) >= p.MaxLen {
		return false
	}
	// A Caser keeps state between calls, so each match gets its own.
	lower := cases.Lower(language.German)
	return strings.Contains(lower.String(token), lower.String(p.Substring))
}

// describe joins the given description parts one per line, dropping empty
// parts and placeholders. The result is empty when nothing is left.
func (p Placeholder) describe(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || p.Match(part) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "\n")
}
