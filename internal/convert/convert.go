// Package convert runs one timetable conversion end to end: resolve the
// source (downloading it when remote), extract tagged lines, run the
// timetable pass, optionally fold weekly repeats and write the calendar.
package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ttcal/internal/config"
	"ttcal/internal/extract"
	"ttcal/internal/fetch"
	"ttcal/internal/ics"
	appLog "ttcal/internal/log"
	"ttcal/internal/model"
	"ttcal/internal/timetable"
)

// ErrSourceNotFound is returned when a local source file does not exist.
var ErrSourceNotFound = errors.New("source file not found")

// Result describes a finished (or skipped) conversion.
type Result struct {
	// Source is the configured source; Path the local file that was read.
	Source string
	Path   string
	// SourceHash is the hex SHA-256 of the document.
	SourceHash string
	FromCache  bool

	Lines  int
	Events []model.Event
	Output string

	// Skipped is set by RunIfChanged when the document did not change
	// since the last successful run.
	Skipped    bool
	FinishedAt time.Time
}

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	Logger *appLog.Logger
	// Client is used for remote sources.
	Client *http.Client
	// NewUID overrides UID generation (tests).
	NewUID func() string
	Now    func() time.Time
}

// Pipeline converts the configured source. It remembers the hash of the
// last successfully converted document for RunIfChanged and is safe for
// concurrent use; runs are serialized.
type Pipeline struct {
	cfg     *config.Config
	logger  *appLog.Logger
	fetcher *fetch.Fetcher
	newUID  func() string
	now     func() time.Time

	mu       sync.Mutex
	lastHash string
}

// NewPipeline validates cfg and returns a Pipeline for it.
func NewPipeline(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = appLog.Default()
	}
	if opts.NewUID == nil {
		opts.NewUID = timetable.UIDGenerator(cfg.Calendar.UIDDomain)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		cfg:     cfg,
		logger:  opts.Logger,
		fetcher: fetch.NewFetcher(filepath.Join(cfg.CacheDir, "documents"), opts.Client, opts.Logger),
		newUID:  opts.NewUID,
		now:     opts.Now,
	}, nil
}

// Run converts the source and writes the calendar. A fatal timetable error
// leaves the previous output untouched.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, false)
}

// RunIfChanged is Run, except that it returns a Result with Skipped set
// when the document hash equals the last successful run.
func (p *Pipeline) RunIfChanged(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, true)
}

// Lines resolves the source and returns its tagged lines without running
// the timetable pass.
func (p *Pipeline) Lines(ctx context.Context) ([]model.TaggedLine, error) {
	res, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return p.extract(ctx, res.Path)
}

func (p *Pipeline) run(ctx context.Context, skipUnchanged bool) (Result, error) {
	started := p.now()

	res, err := p.resolve(ctx)
	if err != nil {
		return res, err
	}

	res.SourceHash, err = hashFile(res.Path)
	if err != nil {
		return res, fmt.Errorf("hash source: %w", err)
	}
	if skipUnchanged && res.SourceHash == p.lastHash {
		res.Skipped = true
		res.Output = p.cfg.Output
		res.FinishedAt = p.now()
		p.logger.Info("source unchanged; skipping conversion", "sha256", shortHash(res.SourceHash))
		return res, nil
	}

	lines, err := p.extract(ctx, res.Path)
	if err != nil {
		return res, err
	}
	res.Lines = len(lines)

	events, err := p.parse(lines)
	if err != nil {
		return res, err
	}

	if p.cfg.CompactWeekly {
		before := len(events)
		events, err = ics.CompactWeekly(events)
		if err != nil {
			return res, fmt.Errorf("compact weekly: %w", err)
		}
		p.logger.Info("weekly compaction", "events_in", before, "events_out", len(events))
	}
	res.Events = events

	loc, err := p.cfg.Location()
	if err != nil {
		return res, err
	}
	err = ics.WriteFile(p.cfg.Output, events, ics.EncodeOptions{
		ProductID: p.cfg.Calendar.ProductID,
		Name:      p.cfg.Calendar.Name,
		Location:  loc,
		Now:       p.now,
	})
	if err != nil {
		return res, fmt.Errorf("write calendar: %w", err)
	}
	res.Output = p.cfg.Output
	res.FinishedAt = p.now()
	p.lastHash = res.SourceHash

	p.logger.Info("conversion completed",
		"source", res.Source,
		"lines", res.Lines,
		"events", len(events),
		"output", res.Output,
		"sha256", shortHash(res.SourceHash),
		"took", res.FinishedAt.Sub(started).String(),
	)
	return res, nil
}

func (p *Pipeline) resolve(ctx context.Context) (Result, error) {
	res := Result{Source: p.cfg.Source}

	if fetch.IsRemote(p.cfg.Source) {
		fr, err := p.fetcher.Fetch(ctx, p.cfg.Source)
		if err != nil {
			return res, fmt.Errorf("fetch source: %w", err)
		}
		res.Path = fr.Path
		res.FromCache = fr.FromCache
		return res, nil
	}

	st, err := os.Stat(p.cfg.Source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("%w: %s", ErrSourceNotFound, p.cfg.Source)
		}
		return res, err
	}
	if st.IsDir() {
		return res, fmt.Errorf("source %s is a directory", p.cfg.Source)
	}
	res.Path = p.cfg.Source
	return res, nil
}

func (p *Pipeline) extract(ctx context.Context, path string) ([]model.TaggedLine, error) {
	src, err := extract.New(p.cfg.Extractor, extract.Options{
		RunGap: p.cfg.RunGap,
		Logger: p.logger,
	})
	if err != nil {
		return nil, err
	}
	lines, err := src.Lines(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", p.cfg.Extractor, err)
	}
	return lines, nil
}

func (p *Pipeline) parse(lines []model.TaggedLine) ([]model.Event, error) {
	bands, err := p.cfg.TimetableBands()
	if err != nil {
		return nil, err
	}
	loc, err := p.cfg.Location()
	if err != nil {
		return nil, err
	}

	parser, err := timetable.NewParser(timetable.Options{
		Bands:       bands,
		Location:    loc,
		DatePattern: p.cfg.DatePattern,
		Placeholder: p.cfg.TimetablePlaceholder(),
		NewUID:      p.newUID,
		Logger:      p.logger,
	})
	if err != nil {
		return nil, err
	}
	return parser.Parse(lines)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
