package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid extremely large
	// expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences turns events (single or weekly-compacted) into concrete
// occurrences within the given window, sorted by start time. Recurrences
// are stepped in the display timezone so wall clock times survive DST.
func ExpandOccurrences(events []model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	allOccurrences := make([]model.Occurrence, 0)
	for _, ev := range events {
		if ev.RRule == "" {
			if timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
				allOccurrences = append(allOccurrences, makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation))
			}
			continue
		}

		occ, hitCap := expandRecurringEvent(ev, cfg)
		allOccurrences = append(allOccurrences, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	sort.SliceStable(allOccurrences, func(i, j int) bool {
		return allOccurrences[i].Start.Before(allOccurrences[j].Start)
	})

	result.Occurrences = allOccurrences
	return result, nil
}

func expandRecurringEvent(ev model.Event, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RRule)
		return out, false
	}

	start := ev.Start.In(cfg.DisplayLocation)
	r.DTStart(start)
	dur := ev.End.Sub(ev.Start)

	// Widen the window by the duration so events already running at
	// RangeStart are kept, like single events.
	occTimes := r.Between(cfg.RangeStart.Add(-dur).In(cfg.DisplayLocation), cfg.RangeEnd.In(cfg.DisplayLocation), true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		out = append(out, makeOccurrence(ev, occStart, occStart.Add(dur), cfg.DisplayLocation))
	}
	return out, hitCap
}

// makeOccurrence converts an event + specific start/end time into a
// model.Occurrence normalized into displayLoc.
func makeOccurrence(ev model.Event, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	startLocal := start.In(displayLoc)
	endLocal := end.In(displayLoc)

	return model.Occurrence{
		UID:         ev.UID,
		InstanceKey: ev.UID + "/" + startLocal.Format(time.RFC3339),
		Title:       ev.Title,
		Description: ev.Description,
		Start:       startLocal,
		End:         endLocal,
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
