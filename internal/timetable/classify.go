// Package timetable turns position-tagged timetable lines into calendar
// events. Each line is classified by the x-position where its first text run
// ends, and the role decides how the line updates the running State.
package timetable

import "fmt"

// Role is the semantic role of a line, derived from its x-position.
type Role int

const (
	Unclassified Role = iota
	DateHeader
	TimeSlot
	Continuation
)

func (r Role) String() string {
	switch r {
	case DateHeader:
		return "date_header"
	case TimeSlot:
		return "time_slot"
	case Continuation:
		return "continuation"
	default:
		return "unclassified"
	}
}

// Band is a half-open range [Lo, Hi) on the horizontal axis.
type Band struct {
	Lo float64
	Hi float64
}

// Contains reports whether x lies in [Lo, Hi).
func (b Band) Contains(x float64) bool {
	return b.Lo <= x && x < b.Hi
}

func (b Band) overlaps(o Band) bool {
	return b.Lo < o.Hi && o.Lo < b.Hi
}

func (b Band) String() string {
	return fmt.Sprintf("[%g, %g)", b.Lo, b.Hi)
}

// Bands maps x-positions to line roles. The defaults match the column layout
// of the reference timetable export.
type Bands struct {
	Date         Band
	Time         Band
	Continuation Band
}

// DefaultBands returns the empirically measured bands of the reference layout.
func DefaultBands() Bands {
	return Bands{
		Date:         Band{Lo: 51, Hi: 61},
		Time:         Band{Lo: 84, Hi: 94},
		Continuation: Band{Lo: 120, Hi: 400},
	}
}

// Validate checks that every band is non-empty and that no two bands overlap.
func (b Bands) Validate() error {
	named := []struct {
		name string
		band Band
	}{
		{"date", b.Date},
		{"time", b.Time},
		{"continuation", b.Continuation},
	}
	for _, n := range named {
		if !(n.band.Lo < n.band.Hi) {
			return fmt.Errorf("band %s %s is empty", n.name, n.band)
		}
	}
	for i := 0; i < len(named); i++ {
		for j := i + 1; j < len(named); j++ {
			if named[i].band.overlaps(named[j].band) {
				return fmt.Errorf("band %s %s overlaps band %s %s",
					named[i].name, named[i].band, named[j].name, named[j].band)
			}
		}
	}
	return nil
}

// Classify returns the role for a line whose first run ends at x.
func (b Bands) Classify(x float64) Role {
	switch {
	case b.Date.Contains(x):
		return DateHeader
	case b.Time.Contains(x):
		return TimeSlot
	case b.Continuation.Contains(x):
		return Continuation
	default:
		return Unclassified
	}
}
