package ics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/emersion/go-ical"
)

const floatingLayout = "20060102T150405"

// Encode renders ev as a VCALENDAR holding one VEVENT. It returns the UID
// used, which is ev.CaldavUID when set and a fresh one otherwise.
func (c *Codec) Encode(ev model.Event) (uid string, data []byte, err error) {
	day, err := time.Parse(model.DateLayout, ev.Date)
	if err != nil {
		return "", nil, fmt.Errorf("invalid date %q: %w", ev.Date, err)
	}
	if ev.EndTime.IsPresent() && ev.StartTime.IsAbsent() {
		return "", nil, fmt.Errorf("end time without start time")
	}

	now := c.now()
	uid = ev.CaldavUID
	if uid == "" {
		uid = NewUID(now)
	}

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Memo != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Memo)
	}

	if start, ok := ev.StartTime.Get(); ok {
		startAt, err := clockOn(day, start)
		if err != nil {
			return "", nil, fmt.Errorf("invalid start time: %w", err)
		}
		setFloating(vevent.Component, ical.PropDateTimeStart, startAt)

		if end, ok := ev.EndTime.Get(); ok {
			endAt, err := clockOn(day, end)
			if err != nil {
				return "", nil, fmt.Errorf("invalid end time: %w", err)
			}
			if endAt.Before(startAt) {
				endAt = endAt.AddDate(0, 0, 1)
			}
			setFloating(vevent.Component, ical.PropDateTimeEnd, endAt)
		}
	} else {
		// DTEND is exclusive for all-day events.
		vevent.Props.SetDate(ical.PropDateTimeStart, day)
		vevent.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
	}

	if color := model.NormalizeColor(ev.Color); color != "" {
		vevent.Props.SetText("COLOR", color)
	}
	if ev.RRule != "" {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = ev.RRule
		vevent.Props.Set(prop)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Children = append(cal.Children, vevent.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return uid, buf.Bytes(), nil
}

func clockOn(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse(model.TimeLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

// setFloating writes a date-time without Z suffix or TZID parameter.
func setFloating(comp *ical.Component, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.Value = t.Format(floatingLayout)
	comp.Props.Set(prop)
}
