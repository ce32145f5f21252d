package model

import (
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://dav.example.com/cal/work", NormalizeURL("https://dav.example.com/cal/work/"))
	assert.Equal(t, "https://dav.example.com/cal/work", NormalizeURL("https://dav.example.com/cal/work//"))
	assert.Equal(t, []string{"https://x/cal", "https://x/cal/"}, URLVariants("https://x/cal/"))
	assert.True(t, SameCalendar("https://x/cal/", "https://x/cal"))
}

func TestNormalizeColor(t *testing.T) {
	tests := map[string]string{
		"#ff0000":   "#FF0000",
		"00ff00":    "#00FF00",
		"#3A87ADFF": "#3A87AD",
		"red":       "",
		"":          "",
		"#12345g":   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeColor(in), in)
	}
}

func TestValidate(t *testing.T) {
	ok := Event{Date: "2024-01-29", Title: "x", Source: SourceManual}
	assert.NoError(t, ok.Validate())

	timed := ok
	timed.StartTime = mo.Some("10:00")
	timed.EndTime = mo.Some("11:00")
	assert.NoError(t, timed.Validate())

	endOnly := ok
	endOnly.EndTime = mo.Some("11:00")
	assert.Error(t, endOnly.Validate())

	badDate := ok
	badDate.Date = "2024-13-01"
	assert.Error(t, badDate.Validate())

	badSource := ok
	badSource.Source = "import"
	assert.Error(t, badSource.Validate())
}

func TestDiff(t *testing.T) {
	local := Event{Title: "Standup", Date: "2024-01-29", StartTime: mo.Some("09:00"), Color: "#FF0000"}

	same := local
	assert.Empty(t, Diff(local, same))

	remote := local
	remote.Title = "Daily"
	remote.EndTime = mo.Some("09:15")
	fields := Diff(local, remote)
	assert.Equal(t, []Field{FieldTitle, FieldEndTime}, fields)

	Apply(&local, remote, fields)
	assert.Equal(t, "Daily", local.Title)
	assert.Equal(t, mo.Some("09:15"), local.EndTime)

	noColor := local
	noColor.Color = ""
	assert.Empty(t, Diff(local, noColor), "an empty remote color never overwrites")
}

func TestDetailsMatches(t *testing.T) {
	e := Event{Title: "Gym", Date: "2024-02-01", StartTime: mo.Some("18:00"), CalendarURL: "https://x/cal/"}
	d := e.Details()
	assert.Equal(t, "https://x/cal", d.CalendarURL)
	assert.True(t, d.Matches(e))

	other := e
	other.StartTime = mo.None[string]()
	assert.False(t, d.Matches(other))
	assert.NotEqual(t, d.Key(), other.Details().Key())
}
