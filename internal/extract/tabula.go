package extract

import (
	"context"
	"fmt"

	"github.com/tsawler/tabula"
	"github.com/tsawler/tabula/reader"

	"ttcal/internal/model"
)

// tabulaSource uses tabula's line detection, page by page.
type tabulaSource struct {
	opts Options
}

func (s *tabulaSource) Lines(ctx context.Context, path string) ([]model.TaggedLine, error) {
	r, err := reader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer r.Close()

	count, err := r.PageCount()
	if err != nil {
		return nil, fmt.Errorf("page count %s: %w", path, err)
	}

	var out []model.TaggedLine
	for page := 1; page <= count; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// FromReader leaves the reader open, so it can be reused per page.
		lines, err := tabula.FromReader(r).Pages(page).Lines()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		kept := 0
		for _, l := range lines {
			tl, ok := tagLine(l.Fragments, s.opts.RunGap, page)
			if !ok {
				continue
			}
			out = append(out, tl)
			kept++
		}
		s.opts.Logger.Debug("extract page", "backend", BackendTabula, "page", page, "lines", kept)
	}

	s.opts.Logger.Info("extract completed", "backend", BackendTabula, "pages", count, "lines", len(out))
	return out, nil
}
