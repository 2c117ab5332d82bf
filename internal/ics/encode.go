package ics

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"ttcal/internal/model"
)

const (
	DefaultProductID = "-//ttcal//timetable//DE"

	localLayout = "20060102T150405"
)

// EncodeOptions carries the calendar-level metadata.
type EncodeOptions struct {
	ProductID string
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Location is the timezone of the timetable. Recurring events are
	// written with a TZID in this zone so weekly repeats keep their wall
	// clock time across DST changes.
	Location *time.Location
	// Now stamps DTSTAMP. Defaults to time.Now.
	Now func() time.Time
}

// NewCalendar builds an iCalendar document with one VEVENT per event.
func NewCalendar(events []model.Event, opts EncodeOptions) *ical.Calendar {
	if opts.ProductID == "" {
		opts.ProductID = DefaultProductID
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProductID)
	cal.SetVersion("2.0")
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRTimezone(opts.Location.String())
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	if first, last, ok := recurringSpan(events); ok {
		addTimezone(cal, opts.Location, first, last)
	}

	stamp := opts.Now().UTC()
	for _, ev := range events {
		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(stamp)
		if ev.RRule != "" {
			tzid := &ical.KeyValues{Key: "TZID", Value: []string{opts.Location.String()}}
			ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.In(opts.Location).Format(localLayout), tzid)
			ve.SetProperty(ical.ComponentPropertyDtEnd, ev.End.In(opts.Location).Format(localLayout), tzid)
			ve.AddProperty(ical.ComponentPropertyRrule, ev.RRule)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
	}

	return cal
}

// Encode writes the events as an iCalendar document to w.
func Encode(w io.Writer, events []model.Event, opts EncodeOptions) error {
	return NewCalendar(events, opts).SerializeTo(w)
}

// WriteFile writes the calendar to path via a temp file + rename, so
// readers never see a half-written calendar.
func WriteFile(path string, events []model.Event, opts EncodeOptions) error {
	if path == "" {
		return errors.New("output path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttcal-*.ics.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if err := Encode(tmp, events, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// recurringSpan returns the first start and the last possible end of the
// events written with a TZID.
func recurringSpan(events []model.Event) (first, last time.Time, ok bool) {
	for _, ev := range events {
		if ev.RRule == "" {
			continue
		}
		end := ev.End
		if r, err := rrule.StrToRRule(ev.RRule); err == nil && (r.OrigOptions.Count > 0 || !r.OrigOptions.Until.IsZero()) {
			r.DTStart(ev.Start)
			if all := r.All(); len(all) > 0 {
				end = all[len(all)-1].Add(ev.End.Sub(ev.Start))
			}
		}
		if !ok || ev.Start.Before(first) {
			first = ev.Start
		}
		if !ok || end.After(last) {
			last = end
		}
		ok = true
	}
	return first, last, ok
}

// addTimezone writes a VTIMEZONE for loc with one STANDARD or DAYLIGHT
// observance per offset change between the start of the year before first
// and the end of last's year. A zone without changes gets a single
// STANDARD observance.
func addTimezone(cal *ical.Calendar, loc *time.Location, first, last time.Time) {
	tz := cal.AddTimezone(loc.String())

	from := time.Date(first.In(loc).Year()-1, time.January, 1, 0, 0, 0, 0, loc)
	until := time.Date(last.In(loc).Year()+1, time.January, 1, 0, 0, 0, 0, loc)

	added := 0
	for t := from; t.Before(until); {
		_, end := t.ZoneBounds()
		if end.IsZero() || !end.Before(until) {
			break
		}
		_, before := end.Add(-time.Second).Zone()
		tz.Components = append(tz.Components, observance(end, before))
		added++
		t = end
	}

	if added == 0 {
		_, offset := from.Zone()
		tz.Components = append(tz.Components, observance(time.Date(1970, time.January, 1, 0, 0, 0, 0, loc), offset))
	}
}

// observance describes the zone that takes effect at at, coming from
// offsetFrom (seconds east of UTC).
func observance(at time.Time, offsetFrom int) ical.Component {
	name, offsetTo := at.Zone()
	local := at.In(time.FixedZone("", offsetFrom)).Format(localLayout)

	base := ical.ComponentBase{}
	base.SetProperty(ical.ComponentPropertyDtStart, local)
	base.SetProperty(ical.ComponentProperty("TZOFFSETFROM"), formatOffset(offsetFrom))
	base.SetProperty(ical.ComponentProperty("TZOFFSETTO"), formatOffset(offsetTo))
	if name != "" {
		base.SetProperty(ical.ComponentProperty("TZNAME"), name)
	}

	if at.IsDST() {
		return &ical.Daylight{ComponentBase: base}
	}
	return &ical.Standard{ComponentBase: base}
}

// formatOffset renders seconds east of UTC as "+hhmm" (or "+hhmmss").
func formatOffset(sec int) string {
	sign := '+'
	if sec < 0 {
		sign = '-'
		sec = -sec
	}
	h, m, s := sec/3600, sec/60%60, sec%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
