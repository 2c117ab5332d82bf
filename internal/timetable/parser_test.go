package timetable

import (
	"errors"
	"fmt"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

func line(x float64, tokens ...string) model.TaggedLine {
	return model.TaggedLine{StartX: x, Tokens: tokens}
}

func newTestParser(t *testing.T) (*Parser, *appLog.Recorder) {
	t.Helper()
	rec := appLog.NewRecorder()
	n := 0
	p, err := NewParser(Options{
		Bands: Bands{
			Date:         Band{Lo: 51, Hi: 61},
			Time:         Band{Lo: 84, Hi: 94},
			Continuation: Band{Lo: 120, Hi: 400},
		},
		NewUID: func() string {
			n++
			return fmt.Sprintf("uid-%d", n)
		},
		Logger: appLog.New(rec, appLog.LevelDebug),
	})
	require.NoError(t, err)
	return p, rec
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestParseEndToEnd(t *testing.T) {
	p, rec := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Vorlesung", "Analysis", "Raum 101"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	loc := berlin(t)
	ev := events[0]
	assert.True(t, ev.Start.Equal(time.Date(2024, 9, 1, 8, 0, 0, 0, loc)), "start %s", ev.Start)
	assert.True(t, ev.End.Equal(time.Date(2024, 9, 1, 9, 30, 0, 0, loc)), "end %s", ev.End)
	assert.Equal(t, "Analysis", ev.Title)
	assert.Equal(t, "Vorlesung\nRaum 101", ev.Description)
	assert.Equal(t, "uid-1", ev.UID)

	// The date header carried no slot, so the embedded slot was skipped.
	skipped := rec.Find("line skipped")
	require.Len(t, skipped, 1)
	reason, _ := skipped[0].Value("reason")
	assert.ErrorIs(t, reason.(error), ErrMalformedTimeSlot)
}

func TestDateHeaderCarriesEmbeddedSlot(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(58, "Dienstag\u00a002.09.24", "10:00", "11:30", "Übung", "Lineare Algebra", "Raum 7"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "02.09.24", p.State().Date)
	assert.Equal(t, "Lineare Algebra", events[0].Title)
	assert.Equal(t, "Übung\nRaum 7", events[0].Description)
	assert.Equal(t, 10, events[0].Start.Hour())
}

func TestStateCarryOver(t *testing.T) {
	p, _ := newTestParser(t)

	lines := []model.TaggedLine{line(55, "Mittwoch 03.09.24")}
	for h := 8; h < 13; h++ {
		lines = append(lines, line(90,
			fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:45", h), "Vorlesung", fmt.Sprintf("Fach %d", h)))
	}

	events, err := p.Parse(lines)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for _, ev := range events {
		y, m, d := ev.Start.Date()
		assert.Equal(t, 2024, y)
		assert.Equal(t, time.September, m)
		assert.Equal(t, 3, d)
	}
}

func TestInvalidDateHeaderKeepsPreviousDate(t *testing.T) {
	p, rec := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(55, "Feiertag", "08:00", "09:00", "Info", "Sprechstunde"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Start.Day())
	assert.Equal(t, "01.09.24", p.State().Date)
	assert.Len(t, rec.Find("invalid date header; keeping previous date"), 1)
}

func TestContinuationReusesSlot(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Seminar", "Statistik", "Regression", "Raum 3"),
		line(150, "Dr. Müller", "Raum 4"),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	first, second := events[0], events[1]
	assert.True(t, first.Start.Equal(second.Start))
	assert.True(t, first.End.Equal(second.End))
	assert.Equal(t, first.Title, second.Title)
	assert.NotEqual(t, first.UID, second.UID)

	assert.Equal(t, "Seminar\nRegression\nRaum 3", first.Description)
	assert.Equal(t, "Seminar\nRegression\nDr. Müller\nRaum 4", second.Description)
}

func TestRepeatedContinuationsShareSlot(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Labor", "Physik"),
		line(150, "Gruppe A"),
		line(150, "Gruppe B"),
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, ev := range events[1:] {
		assert.True(t, ev.Start.Equal(events[0].Start))
		assert.Equal(t, "Physik", ev.Title)
	}
	assert.Equal(t, "Labor\nGruppe B", events[2].Description)
}

func TestPlaceholderFiltering(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Vorlesung", "BWL", "leer", "Leerstandsanalyse", "LEER"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Vorlesung\nLeerstandsanalyse", events[0].Description)
}

func TestDescriptionAbsentWhenEverythingFiltered(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "leer", "BWL", "(leer)"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Description)
}

func TestShortTimeSlotGetsEmptyTitle(t *testing.T) {
	p, rec := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Vorlesung"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Title)
	assert.Equal(t, "Vorlesung", events[0].Description)
	assert.Len(t, rec.Find("time slot without title; using empty title"), 1)
}

func TestFatalAbortOnMissingDate(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(90, "08:00", "09:30", "Vorlesung", "Analysis"),
		line(55, "Montag 01.09.24"),
		line(90, "10:00", "11:30", "Vorlesung", "Algebra"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDateParse)
	assert.Empty(t, events)

	var dpe *DateParseError
	require.True(t, errors.As(err, &dpe))
	assert.Equal(t, " 08:00", dpe.Value)
	assert.Equal(t, 90.0, dpe.X)
	assert.Equal(t, []string{"08:00", "09:30", "Vorlesung", "Analysis"}, dpe.Tokens)

	// Nothing after the failing line was applied.
	assert.Equal(t, "", p.State().Date)
}

func TestFatalAbortKeepsEarlierEvents(t *testing.T) {
	p, _ := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Vorlesung", "Analysis"),
		line(90, "8 Uhr", "09:30", "Vorlesung", "Analysis"),
	})
	require.ErrorIs(t, err, ErrDateParse)
	require.Len(t, events, 1)
}

func TestContinuationFirstFails(t *testing.T) {
	p, _ := newTestParser(t)

	err := p.Feed(line(150, "Dr. Müller"))
	assert.ErrorIs(t, err, ErrDateParse)
	assert.Empty(t, p.Events())
}

func TestUnclassifiedLinesAreSkipped(t *testing.T) {
	p, rec := newTestParser(t)

	require.NoError(t, p.Feed(line(55, "Montag 01.09.24")))
	before := p.State()

	require.NoError(t, p.Feed(line(10, "Stundenplan WS 24/25")))
	require.NoError(t, p.Feed(line(500, "Seite 1")))

	assert.Equal(t, before, p.State())
	assert.Empty(t, p.Events())

	var unclassified int
	for _, r := range rec.Find("line skipped") {
		reason, _ := r.Value("reason")
		if errors.Is(reason.(error), ErrUnclassifiedLine) {
			unclassified++
			rendered, _ := r.Value("line")
			assert.NotEmpty(t, rendered)
		}
	}
	assert.Equal(t, 2, unclassified)
}

func TestEmptyDateHeaderIsSkipped(t *testing.T) {
	p, rec := newTestParser(t)
	require.NoError(t, p.Feed(line(55)))
	assert.Len(t, rec.Find("line skipped"), 1)
}

func TestDefaultUIDsAreUnique(t *testing.T) {
	p, err := NewParser(Options{Logger: appLog.Discard()})
	require.NoError(t, err)

	_, err = p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(90, "08:00", "09:30", "Vorlesung", "Analysis"),
		line(150, "Gruppe 2"),
	})
	require.NoError(t, err)
	events := p.Events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].UID)
	assert.NotEqual(t, events[0].UID, events[1].UID)
}

func TestUIDGeneratorDomain(t *testing.T) {
	id := UIDGenerator("example.org")()
	assert.Regexp(t, `^[0-9a-f-]{36}@example\.org$`, id)
}

func TestCustomPatternAndTimezone(t *testing.T) {
	utc := time.UTC
	p, err := NewParser(Options{
		Location:    utc,
		DatePattern: "dd.MM.yyyy HH:mm",
		Logger:      appLog.Discard(),
	})
	require.NoError(t, err)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.2025"),
		line(90, "08:00", "09:30", "Vorlesung", "Analysis"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, time.Date(2025, 9, 1, 8, 0, 0, 0, utc).Equal(events[0].Start))
}

func TestNewParserRejectsBadOptions(t *testing.T) {
	_, err := NewParser(Options{DatePattern: "dd.MM.yy QQ"})
	assert.ErrorIs(t, err, ErrInvalidDatePattern)

	_, err = NewParser(Options{Bands: Bands{
		Date:         Band{Lo: 50, Hi: 90},
		Time:         Band{Lo: 84, Hi: 94},
		Continuation: Band{Lo: 120, Hi: 400},
	}})
	assert.Error(t, err)
}

func TestDateHeaderSplitsOnNoBreakSpace(t *testing.T) {
	p, rec := newTestParser(t)

	events, err := p.Parse([]model.TaggedLine{
		line(55, "Montag\u00a001.09.24", "08:00", "09:30", "Vorlesung", "Analysis"),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "01.09.24", p.State().Date)
	assert.Equal(t, 1, events[0].Start.Day())
	assert.Empty(t, rec.Find("invalid date header; keeping previous date"))
}

func TestDateHeaderAdjacentSeparatorsAreInvalid(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"double space", "Dienstag  02.09.24"},
		{"space and no-break space", "Dienstag \u00a002.09.24"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, rec := newTestParser(t)

			events, err := p.Parse([]model.TaggedLine{
				line(55, "Montag 01.09.24"),
				line(55, tc.header, "08:00", "09:00", "Info", "Sprechstunde"),
			})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, "01.09.24", p.State().Date)
			assert.Equal(t, 1, events[0].Start.Day())

			invalid := rec.Find("invalid date header; keeping previous date")
			require.Len(t, invalid, 1)
			parts, _ := invalid[0].Value("parts")
			assert.Equal(t, 3, parts)
		})
	}
}

func TestSplitDateHeader(t *testing.T) {
	assert.Equal(t, []string{"Montag", "01.09.24"}, splitDateHeader("Montag 01.09.24"))
	assert.Equal(t, []string{"Montag", "01.09.24"}, splitDateHeader("Montag\u00a001.09.24"))
	assert.Equal(t, []string{"Montag", "01.09.24"}, splitDateHeader("Montag 01.09.24 "))
	assert.Equal(t, []string{"Montag", "", "01.09.24"}, splitDateHeader("Montag  01.09.24"))
	assert.Equal(t, []string{"Feiertag"}, splitDateHeader("Feiertag"))
	assert.Empty(t, splitDateHeader(""))
}

func TestDecisionRecordsCarryRoleAndAction(t *testing.T) {
	p, rec := newTestParser(t)

	_, err := p.Parse([]model.TaggedLine{
		line(55, "Montag 01.09.24"),
		line(55, "Feiertag", "08:00", "09:00", "Info"),
		line(90, "10:00", "11:00", "Vorlesung", "Analysis"),
		line(130, "Dr. Weber"),
		line(20, "Fußzeile"),
	})
	require.NoError(t, err)

	decisions := []string{
		"line classified",
		"date header",
		"invalid date header; keeping previous date",
		"time slot without title; using empty title",
		"event emitted",
		"line skipped",
	}
	for _, msg := range decisions {
		records := rec.Find(msg)
		require.NotEmpty(t, records, msg)
		for _, r := range records {
			for _, key := range []string{"role", "x", "tokens", "action"} {
				_, ok := r.Value(key)
				assert.True(t, ok, "%q lacks %q", msg, key)
			}
		}
	}

	classified := rec.Find("line classified")
	require.Len(t, classified, 5)
	action, _ := classified[0].Value("action")
	assert.Equal(t, "dispatch", action)
	action, _ = rec.Find("date header")[0].Value("action")
	assert.Equal(t, "set_date", action)
}
