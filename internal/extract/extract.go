// Package extract reads a timetable document and reduces every visual line
// to a model.TaggedLine: the x-coordinate where the first text run ends and
// the trimmed text runs in left-to-right order.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tsawler/tabula/text"
	"golang.org/x/text/unicode/norm"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

// Backend names accepted by New.
const (
	BackendTabula = "tabula"
	BackendPDF    = "pdf"
	BackendLines  = "lines"
)

// DefaultRunGap is the horizontal gap (in PDF units) above which two
// fragments of a line belong to different runs.
const DefaultRunGap = 3.0

// Source produces tagged lines for a document, pages in order and lines top
// to bottom.
type Source interface {
	Lines(ctx context.Context, path string) ([]model.TaggedLine, error)
}

// Options configures a Source.
type Options struct {
	RunGap float64
	Logger *appLog.Logger
}

// Backends lists the names accepted by New.
func Backends() []string {
	return []string{BackendTabula, BackendPDF, BackendLines}
}

// New returns the Source registered under name.
func New(name string, opts Options) (Source, error) {
	if opts.RunGap <= 0 {
		opts.RunGap = DefaultRunGap
	}
	if opts.Logger == nil {
		opts.Logger = appLog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendTabula:
		return &tabulaSource{opts: opts}, nil
	case BackendPDF:
		return &pdfSource{opts: opts}, nil
	case BackendLines:
		return &linesSource{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown extractor %q (want one of %s)", name, strings.Join(Backends(), ", "))
	}
}

// run is a horizontally contiguous group of fragments.
type run struct {
	text  strings.Builder
	start float64
	end   float64
}

// tagLine merges the fragments of one visual line into runs and returns the
// tagged line. ok is false when the line has no visible text.
func tagLine(frags []text.TextFragment, gap float64, page int) (line model.TaggedLine, ok bool) {
	if len(frags) == 0 {
		return model.TaggedLine{}, false
	}

	sorted := append([]text.TextFragment(nil), frags...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var runs []*run
	var cur *run
	for _, f := range sorted {
		if f.Text == "" {
			continue
		}
		if cur == nil || f.X-cur.end > gap {
			cur = &run{start: f.X, end: f.X + f.Width}
			runs = append(runs, cur)
			cur.text.WriteString(f.Text)
			continue
		}
		if needsSpace(cur, f) {
			cur.text.WriteByte(' ')
		}
		cur.text.WriteString(f.Text)
		if e := f.X + f.Width; e > cur.end {
			cur.end = e
		}
	}

	var firstEnd float64
	tokens := make([]string, 0, len(runs))
	for _, r := range runs {
		tok := strings.TrimSpace(norm.NFC.String(r.text.String()))
		if tok == "" {
			continue
		}
		if len(tokens) == 0 {
			firstEnd = r.end
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return model.TaggedLine{}, false
	}

	return model.TaggedLine{StartX: firstEnd, Tokens: tokens, Page: page}, true
}

// needsSpace reports whether a word gap sits between the run and f. Glyph
// level fragments touch; word level fragments are separated by roughly a
// quarter of the font size.
func needsSpace(r *run, f text.TextFragment) bool {
	s := r.text.String()
	if strings.HasSuffix(s, " ") || strings.HasPrefix(f.Text, " ") {
		return false
	}
	threshold := 0.15 * f.FontSize
	if threshold <= 0 {
		threshold = 1
	}
	return f.X-r.end > threshold
}
