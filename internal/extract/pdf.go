package extract

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/tsawler/tabula/layout"
	"github.com/tsawler/tabula/text"

	"ttcal/internal/model"
)

// Page size used when a page has no readable MediaBox (A4 portrait).
const (
	fallbackPageWidth  = 595.0
	fallbackPageHeight = 842.0
)

// pdfSource reads glyph runs with ledongthuc/pdf and groups them into
// lines with tabula's line detector.
type pdfSource struct {
	opts Options
}

func (s *pdfSource) Lines(ctx context.Context, path string) ([]model.TaggedLine, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	detector := layout.NewLineDetector()

	var out []model.TaggedLine
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}

		frags := fragments(p.Content().Text)
		width, height := pageSize(p)
		lineLayout := detector.Detect(frags, width, height)

		kept := 0
		for _, l := range lineLayout.Lines {
			tl, ok := tagLine(l.Fragments, s.opts.RunGap, i)
			if !ok {
				continue
			}
			out = append(out, tl)
			kept++
		}
		s.opts.Logger.Debug("extract page", "backend", BackendPDF, "page", i, "glyphs", len(frags), "lines", kept)
	}

	s.opts.Logger.Info("extract completed", "backend", BackendPDF, "pages", numPages, "lines", len(out))
	return out, nil
}

// fragments converts ledongthuc glyph runs into tabula fragments.
func fragments(texts []pdf.Text) []text.TextFragment {
	out := make([]text.TextFragment, 0, len(texts))
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		out = append(out, text.TextFragment{
			Text:      t.S,
			X:         t.X,
			Y:         t.Y,
			Width:     t.W,
			Height:    t.FontSize,
			FontName:  t.Font,
			FontSize:  t.FontSize,
			Direction: text.LTR,
		})
	}
	return out
}

func pageSize(p pdf.Page) (float64, float64) {
	box := p.V.Key("MediaBox")
	if box.Len() < 4 {
		return fallbackPageWidth, fallbackPageHeight
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return fallbackPageWidth, fallbackPageHeight
	}
	return w, h
}
