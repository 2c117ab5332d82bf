package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDefaults(t *testing.T) {
	b := DefaultBands()

	tests := []struct {
		x    float64
		want Role
	}{
		{0, Unclassified},
		{50.99, Unclassified},
		{51, DateHeader},
		{55.2, DateHeader},
		{61, Unclassified},
		{84, TimeSlot},
		{93.99, TimeSlot},
		{94, Unclassified},
		{120, Continuation},
		{399.9, Continuation},
		{400, Unclassified},
		{-3, Unclassified},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Classify(tt.x), "x=%v", tt.x)
	}
}

func TestClassifyIsStableAndExclusive(t *testing.T) {
	b := DefaultBands()
	for x := -10.0; x < 450; x += 0.25 {
		first := b.Classify(x)
		assert.Equal(t, first, b.Classify(x))

		hits := 0
		for _, band := range []Band{b.Date, b.Time, b.Continuation} {
			if band.Contains(x) {
				hits++
			}
		}
		assert.LessOrEqual(t, hits, 1, "x=%v", x)
		assert.Equal(t, hits == 1, first != Unclassified, "x=%v", x)
	}
}

func TestBandsValidate(t *testing.T) {
	assert.NoError(t, DefaultBands().Validate())

	overlap := DefaultBands()
	overlap.Time = Band{Lo: 60, Hi: 94}
	assert.ErrorContains(t, overlap.Validate(), "overlaps")

	empty := DefaultBands()
	empty.Continuation = Band{Lo: 200, Hi: 200}
	assert.ErrorContains(t, empty.Validate(), "empty")

	// Touching bands are fine because they are half-open.
	touching := Bands{
		Date:         Band{Lo: 0, Hi: 10},
		Time:         Band{Lo: 10, Hi: 20},
		Continuation: Band{Lo: 20, Hi: 30},
	}
	assert.NoError(t, touching.Validate())
	assert.Equal(t, TimeSlot, touching.Classify(10))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "date_header", DateHeader.String())
	assert.Equal(t, "time_slot", TimeSlot.String())
	assert.Equal(t, "continuation", Continuation.String())
	assert.Equal(t, "unclassified", Unclassified.String())
}
