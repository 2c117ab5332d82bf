package model

import (
	"strings"
	"time"
)

// TaggedLine is one visual row of the timetable as produced by the
// extractor: the x-coordinate where the row's first text run ends, and the
// trimmed text runs in left-to-right order.
type TaggedLine struct {
	StartX float64
	Tokens []string

	// Page is the 1-based page the line was found on. Diagnostics only.
	Page int
}

// String renders the line in the same one-line form used by diagnostics.
func (l TaggedLine) String() string {
	return strings.Join(l.Tokens, " ")
}

// Event is a single calendar entry assembled from the timetable.
type Event struct {
	UID string

	Title string
	// Description is empty when the event has none.
	Description string

	Start time.Time
	End   time.Time

	// RRule is the recurrence rule body (without the "RRULE:" prefix) for
	// events folded by weekly compaction. Empty for single events.
	RRule string
}

// Occurrence is a single concrete instance of an Event after recurrence
// expansion, converted into the display timezone.
type Occurrence struct {
	UID string

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	Title       string
	Description string

	Start time.Time
	End   time.Time
}
