package timetable

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. ErrDateParse is fatal for a conversion pass; the others
// describe lines that were skipped and are only reported to the diagnostics
// sink.
var (
	ErrDateParse          = errors.New("date parse failed")
	ErrUnclassifiedLine   = errors.New("unclassified line")
	ErrMalformedTimeSlot  = errors.New("malformed time slot line")
	ErrInvalidDateHeader  = errors.New("invalid date header")
	ErrInvalidDatePattern = errors.New("invalid date pattern")
)

// DateParseError reports a date+time string that did not match the
// configured pattern. It aborts the whole pass.
type DateParseError struct {
	// Value is the combined "date time" string that was parsed.
	Value  string
	X      float64
	Tokens []string
	Err    error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("parse date %q (x=%g, tokens=[%s]): %v",
		e.Value, e.X, strings.Join(e.Tokens, " | "), e.Err)
}

func (e *DateParseError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDateParse) match any DateParseError.
func (e *DateParseError) Is(target error) bool {
	return target == ErrDateParse
}
