package timetable

import (
	"fmt"
	"strings"
)

// patternFields maps date pattern letters (as written in config, e.g.
// "dd.MM.yy HH:mm") to Go reference layout fields. Longer fields first.
var patternFields = []struct {
	pattern string
	layout  string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MM", "01"},
	{"dd", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// Layout converts a date pattern such as "dd.MM.yy HH:mm" into the Go
// layout "02.01.06 15:04". Letters other than the supported fields are
// rejected; punctuation and spaces are copied through.
func Layout(pattern string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDatePattern)
	}
	var b strings.Builder
	rest := pattern
	for len(rest) > 0 {
		matched := false
		for _, f := range patternFields {
			if strings.HasPrefix(rest, f.pattern) {
				b.WriteString(f.layout)
				rest = rest[len(f.pattern):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		c := rest[0]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return "", fmt.Errorf("%w: unsupported field at %q in %q", ErrInvalidDatePattern, rest, pattern)
		}
		b.WriteByte(c)
		rest = rest[1:]
	}
	return b.String(), nil
}
