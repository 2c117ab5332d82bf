package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ttcal/internal/model"
)

// linesSource reads pre-extracted lines from a text file:
//
//	# comment
//	55	Montag 01.09.24
//	90	08:00	09:30	Vorlesung	Analysis	Raum 101
//	\f
//
// The first tab-separated field is the x-position, the rest are tokens. A
// line holding only a form feed starts a new page.
type linesSource struct {
	opts Options
}

func (s *linesSource) Lines(ctx context.Context, path string) ([]model.TaggedLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := ReadLines(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.opts.Logger.Info("extract completed", "backend", BackendLines, "lines", len(out))
	return out, nil
}

// ReadLines parses the tab-separated fixture format.
func ReadLines(ctx context.Context, r io.Reader) ([]model.TaggedLine, error) {
	var out []model.TaggedLine
	page := 1
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "" && strings.Contains(raw, "\f"):
			page++
			continue
		case trimmed == "", strings.HasPrefix(trimmed, "#"):
			continue
		}

		fields := strings.Split(raw, "\t")
		x, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad x-position %q: %w", n, fields[0], err)
		}

		tokens := make([]string, 0, len(fields)-1)
		for _, tok := range fields[1:] {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		out = append(out, model.TaggedLine{StartX: x, Tokens: tokens, Page: page})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteLines renders lines in the format ReadLines accepts.
func WriteLines(w io.Writer, lines []model.TaggedLine) error {
	bw := bufio.NewWriter(w)
	page := 0
	for _, l := range lines {
		if page != 0 && l.Page != page {
			if _, err := bw.WriteString("\f\n"); err != nil {
				return err
			}
		}
		page = l.Page

		fields := append([]string{strconv.FormatFloat(l.StartX, 'f', -1, 64)}, l.Tokens...)
		if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
