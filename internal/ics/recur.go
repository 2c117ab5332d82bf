package ics

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"ttcal/internal/model"
)

// seriesKey identifies events that may repeat weekly: same content, same
// weekday, same wall clock start, same duration.
type seriesKey struct {
	title       string
	description string
	weekday     time.Weekday
	clock       string
	duration    time.Duration
}

type series struct {
	firstIndex int
	events     []model.Event
}

// CompactWeekly folds events that repeat every seven days (same title,
// description, weekday, start time and duration) into one event with a
// weekly RRULE. Runs of a single event stay as they are. The result is
// ordered by the position of each run's first event in the input.
func CompactWeekly(events []model.Event) ([]model.Event, error) {
	groups := make(map[seriesKey][]int)
	var keys []seriesKey
	for i, ev := range events {
		k := seriesKey{
			title:       ev.Title,
			description: ev.Description,
			weekday:     ev.Start.Weekday(),
			clock:       ev.Start.Format("15:04:05"),
			duration:    ev.End.Sub(ev.Start),
		}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}

	var runs []*series
	for _, k := range keys {
		idx := groups[k]
		sort.SliceStable(idx, func(a, b int) bool {
			return events[idx[a]].Start.Before(events[idx[b]].Start)
		})

		// Greedily extend an open run whose last event is exactly one week
		// earlier; otherwise start a new run.
		var open []*series
		for _, i := range idx {
			ev := events[i]
			var target *series
			for _, s := range open {
				last := s.events[len(s.events)-1]
				if last.Start.AddDate(0, 0, 7).Equal(ev.Start) {
					target = s
					break
				}
			}
			if target == nil {
				target = &series{firstIndex: i}
				open = append(open, target)
			}
			target.events = append(target.events, ev)
		}
		runs = append(runs, open...)
	}

	sort.SliceStable(runs, func(a, b int) bool { return runs[a].firstIndex < runs[b].firstIndex })

	out := make([]model.Event, 0, len(runs))
	for _, s := range runs {
		first := s.events[0]
		if len(s.events) == 1 {
			out = append(out, first)
			continue
		}
		rule, err := weeklyRule(first.Start, len(s.events))
		if err != nil {
			return nil, fmt.Errorf("weekly rule for %q: %w", first.Title, err)
		}
		first.RRule = rule
		out = append(out, first)
	}
	return out, nil
}

// weeklyRule returns the RRULE body for count weekly repeats from start.
func weeklyRule(start time.Time, count int) (string, error) {
	opt := rrule.ROption{
		Freq:    rrule.WEEKLY,
		Count:   count,
		Dtstart: start,
	}
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}
