package timetable

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

const (
	DefaultTimezone    = "Europe/Berlin"
	DefaultDatePattern = "dd.MM.yy HH:mm"
)

// State is the accumulator carried from line to line. Empty fields are
// absent. Date comes from the last date header; the other fields from the
// last time-slot line and are reused by continuation lines.
type State struct {
	Date  string
	Start string
	End   string
	Kind  string
	Title string
	Topic string
}

// Options configures a Parser. Zero values select the defaults.
type Options struct {
	Bands       Bands
	Location    *time.Location
	DatePattern string
	Placeholder Placeholder
	// NewUID generates event UIDs. Defaults to UIDGenerator("").
	NewUID func() string
	Logger *appLog.Logger
}

// Parser runs the classification pass over tagged lines and collects the
// resulting events. A Parser is used for one document and is not safe for
// concurrent use.
type Parser struct {
	bands       Bands
	loc         *time.Location
	layout      string
	placeholder Placeholder
	newUID      func() string
	logger      *appLog.Logger

	state  State
	events []model.Event
}

// NewParser validates opts and returns a Parser with empty state.
func NewParser(opts Options) (*Parser, error) {
	if opts.Bands == (Bands{}) {
		opts.Bands = DefaultBands()
	}
	if err := opts.Bands.Validate(); err != nil {
		return nil, err
	}
	if opts.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", DefaultTimezone, err)
		}
		opts.Location = loc
	}
	if opts.DatePattern == "" {
		opts.DatePattern = DefaultDatePattern
	}
	layout, err := Layout(opts.DatePattern)
	if err != nil {
		return nil, err
	}
	if opts.Placeholder == (Placeholder{}) {
		opts.Placeholder = DefaultPlaceholder()
	}
	if opts.NewUID == nil {
		opts.NewUID = UIDGenerator("")
	}
	if opts.Logger == nil {
		opts.Logger = appLog.Default()
	}

	return &Parser{
		bands:       opts.Bands,
		loc:         opts.Location,
		layout:      layout,
		placeholder: opts.Placeholder,
		newUID:      opts.NewUID,
		logger:      opts.Logger,
	}, nil
}

// UIDGenerator returns a generator of random UIDs, suffixed with
// "@domain" when domain is not empty.
func UIDGenerator(domain string) func() string {
	return func() string {
		id := uuid.NewString()
		if domain != "" {
			id += "@" + domain
		}
		return id
	}
}

// Parse feeds every line in order. It stops at the first fatal error and
// returns the events collected up to that point together with the error.
func (p *Parser) Parse(lines []model.TaggedLine) ([]model.Event, error) {
	for i, line := range lines {
		if err := p.Feed(line); err != nil {
			p.logger.Error("timetable pass aborted", err,
				"role", p.bands.Classify(line.StartX),
				"x", line.StartX,
				"tokens", len(line.Tokens),
				"line", i,
				"page", line.Page,
				"events", len(p.events),
				"action", "abort",
			)
			return p.Events(), err
		}
	}
	p.logger.Info("timetable pass completed", "lines", len(lines), "events", len(p.events))
	return p.Events(), nil
}

// Feed classifies a single line and applies it to the state. Only fatal
// errors are returned; skipped lines are reported to the logger.
func (p *Parser) Feed(line model.TaggedLine) error {
	role := p.bands.Classify(line.StartX)
	p.logger.Debug("line classified",
		"role", role,
		"x", line.StartX,
		"page", line.Page,
		"tokens", len(line.Tokens),
		"action", "dispatch",
	)

	switch role {
	case DateHeader:
		return p.dateHeader(line.StartX, line.Tokens)
	case TimeSlot:
		return p.timeSlot(line.StartX, line.Tokens)
	case Continuation:
		return p.continuation(line.StartX, line.Tokens)
	default:
		p.skip(ErrUnclassifiedLine, role, line.StartX, line.Tokens)
		return nil
	}
}

// State returns a copy of the current accumulator.
func (p *Parser) State() State {
	return p.state
}

// Events returns a copy of the events emitted so far, in encounter order.
func (p *Parser) Events() []model.Event {
	return append([]model.Event(nil), p.events...)
}

// dateHeader takes the date from the first token ("Montag 01.09.24") and
// hands the rest of the line to timeSlot; a date row always carries the
// first slot of the day.
func (p *Parser) dateHeader(x float64, tokens []string) error {
	if len(tokens) == 0 {
		p.skip(ErrInvalidDateHeader, DateHeader, x, tokens)
		return nil
	}

	parts := splitDateHeader(tokens[0])
	if len(parts) == 2 {
		next := p.state
		next.Date = parts[1]
		p.state = next
		p.logger.Debug("date header",
			"role", DateHeader,
			"x", x,
			"tokens", len(tokens),
			"date", next.Date,
			"action", "set_date",
		)
	} else {
		p.logger.Warn("invalid date header; keeping previous date",
			"reason", ErrInvalidDateHeader,
			"role", DateHeader,
			"x", x,
			"tokens", len(tokens),
			"token", tokens[0],
			"parts", len(parts),
			"date", p.state.Date,
			"action", "keep_date",
		)
	}

	return p.timeSlot(x, tokens[1:])
}

// timeSlot handles "start | end | kind | title | topic | extra..." rows.
func (p *Parser) timeSlot(x float64, tokens []string) error {
	if len(tokens) < 2 {
		p.skip(ErrMalformedTimeSlot, TimeSlot, x, tokens)
		return nil
	}

	next := p.state
	next.Start = tokens[0]
	next.End = tokens[1]
	next.Kind = tokenAt(tokens, 2)
	next.Title = tokenAt(tokens, 3)
	next.Topic = tokenAt(tokens, 4)

	start, end, err := p.slotTimes(next, x, tokens)
	if err != nil {
		return err
	}

	if len(tokens) < 4 {
		p.logger.Warn("time slot without title; using empty title",
			"role", TimeSlot,
			"x", x,
			"tokens", len(tokens),
			"line", oneLine(tokens),
			"action", "empty_title",
		)
	}

	parts := []string{next.Kind}
	if len(tokens) > 4 {
		parts = append(parts, tokens[4:]...)
	}

	p.state = next
	p.emit(TimeSlot, x, len(tokens), start, end, next.Title, p.placeholder.describe(parts...))
	return nil
}

// continuation handles a second lecturer or session in the slot of the most
// recent time-slot row. It does not check that such a row exists: with an
// empty state the time parse fails like any other bad date.
func (p *Parser) continuation(x float64, tokens []string) error {
	st := p.state

	start, end, err := p.slotTimes(st, x, tokens)
	if err != nil {
		return err
	}

	parts := append([]string{st.Kind, st.Topic}, tokens...)
	p.emit(Continuation, x, len(tokens), start, end, st.Title, p.placeholder.describe(parts...))
	return nil
}

func (p *Parser) slotTimes(st State, x float64, tokens []string) (time.Time, time.Time, error) {
	start, err := p.parseTime(st.Date, st.Start, x, tokens)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := p.parseTime(st.Date, st.End, x, tokens)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func (p *Parser) parseTime(date, clock string, x float64, tokens []string) (time.Time, error) {
	value := date + " " + clock
	t, err := time.ParseInLocation(p.layout, value, p.loc)
	if err != nil {
		return time.Time{}, &DateParseError{
			Value:  value,
			X:      x,
			Tokens: append([]string(nil), tokens...),
			Err:    err,
		}
	}
	return t, nil
}

func (p *Parser) emit(role Role, x float64, ntokens int, start, end time.Time, title, description string) {
	ev := model.Event{
		UID:         p.newUID(),
		Title:       title,
		Description: description,
		Start:       start,
		End:         end,
	}
	p.events = append(p.events, ev)
	p.logger.Debug("event emitted",
		"role", role,
		"x", x,
		"tokens", ntokens,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
		"title", title,
		"action", "emit",
	)
}

// skip reports a line that could not be interpreted. The state is left as is.
func (p *Parser) skip(reason error, role Role, x float64, tokens []string) {
	p.logger.Info("line skipped",
		"reason", reason,
		"role", role,
		"x", x,
		"tokens", len(tokens),
		"line", oneLine(tokens),
		"action", "skip",
	)
}

// splitDateHeader splits on every single space or no-break space, so
// adjacent separators yield empty parts. Trailing empty parts are dropped.
func splitDateHeader(s string) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if r == ' ' || r == '\u00a0' {
			parts = append(parts, s[start:i])
			start = i + utf8.RuneLen(r)
		}
	}
	parts = append(parts, s[start:])
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func tokenAt(tokens []string, i int) string {
	if i < len(tokens) {
		return tokens[i]
	}
	return ""
}

func oneLine(tokens []string) string {
	return strings.Join(tokens, " ")
}
