// Package model holds the records shared by the codec, the transport, the
// stores and the sync engine.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

const (
	// DateLayout is the day-granularity layout of Event.Date.
	DateLayout = "2006-01-02"
	// TimeLayout is the clock layout of Event.StartTime and Event.EndTime.
	TimeLayout = "15:04"
)

// Source tags where an event came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceCalDAV Source = "caldav"
)

// Event is a single synchronized calendar entry.
type Event struct {
	// ID is assigned by the store on creation and never reused.
	ID    int64  `json:"id,omitempty"`
	Date  string `json:"date"`
	Title string `json:"title"`
	Memo  string `json:"memo,omitempty"`
	// StartTime and EndTime are absent on all-day events.
	StartTime mo.Option[string] `json:"startTime"`
	EndTime   mo.Option[string] `json:"endTime"`
	// Color is a #RRGGBB value.
	Color string `json:"color,omitempty"`
	// CalendarURL is normalized; empty means a purely local event.
	CalendarURL string `json:"calendarUrl,omitempty"`
	// CaldavUID is empty until the event is confirmed to exist remotely.
	CaldavUID string `json:"caldavUid,omitempty"`
	Source    Source `json:"source"`
	// ETag is the last version marker seen for the remote resource.
	ETag string `json:"etag,omitempty"`
	// RRule is the raw recurrence rule, kept so local edits do not drop it.
	RRule string `json:"rrule,omitempty"`
}

// IsAllDay reports whether the event carries no clock times.
func (e Event) IsAllDay() bool {
	return e.StartTime.IsAbsent() && e.EndTime.IsAbsent()
}

// Day parses Date.
func (e Event) Day() (time.Time, error) {
	return time.Parse(DateLayout, e.Date)
}

// Validate checks the fields every store and the encoder rely on.
func (e Event) Validate() error {
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", e.Date, err)
	}
	if start, ok := e.StartTime.Get(); ok {
		if _, err := time.Parse(TimeLayout, start); err != nil {
			return fmt.Errorf("invalid start time %q: %w", start, err)
		}
	}
	if end, ok := e.EndTime.Get(); ok {
		if e.StartTime.IsAbsent() {
			return errors.New("end time without start time")
		}
		if _, err := time.Parse(TimeLayout, end); err != nil {
			return fmt.Errorf("invalid end time %q: %w", end, err)
		}
	}
	switch e.Source {
	case SourceManual, SourceCalDAV:
	default:
		return fmt.Errorf("invalid source %q", e.Source)
	}
	return nil
}

// Details identifies an event without a UID.
type Details struct {
	Title       string
	Date        string
	StartTime   mo.Option[string]
	EndTime     mo.Option[string]
	CalendarURL string
}

// Details returns the natural key of e.
func (e Event) Details() Details {
	return Details{
		Title:       e.Title,
		Date:        e.Date,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		CalendarURL: NormalizeURL(e.CalendarURL),
	}
}

// Key renders the (title, date, start, end) part of d, ignoring the calendar.
func (d Details) Key() string {
	return strings.Join([]string{d.Title, d.Date, d.StartTime.OrEmpty(), d.EndTime.OrEmpty()}, "\x1f")
}

// Matches reports whether e has the same natural key as d.
func (d Details) Matches(e Event) bool {
	return e.Title == d.Title &&
		e.Date == d.Date &&
		OptionEqual(e.StartTime, d.StartTime) &&
		OptionEqual(e.EndTime, d.EndTime) &&
		SameCalendar(e.CalendarURL, d.CalendarURL)
}

// OptionEqual compares presence and value.
func OptionEqual(a, b mo.Option[string]) bool {
	av, aok := a.Get()
	bv, bok := b.Get()
	return aok == bok && av == bv
}

// OptionalString maps "" to None.
func OptionalString(s string) mo.Option[string] {
	if s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}
