package ics

import (
	"fmt"
	"time"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/teambition/rrule-go"
)

// Occurrences lists the dates (model.DateLayout) on which ev occurs within
// [from, to], at most limit of them. Events without an RRULE occur once, on
// their own date. Only plain RRULE iteration is supported; EXDATE and
// RECURRENCE-ID overrides are not applied.
func Occurrences(ev model.Event, from, to time.Time, limit int) ([]string, error) {
	day, err := time.Parse(model.DateLayout, ev.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", ev.Date, err)
	}
	start := day
	if clock, ok := ev.StartTime.Get(); ok {
		if start, err = clockOn(day, clock); err != nil {
			return nil, fmt.Errorf("invalid start time: %w", err)
		}
	}

	if ev.RRule == "" {
		if start.Before(from) || start.After(to) {
			return nil, nil
		}
		return []string{ev.Date}, nil
	}

	opt, err := rrule.StrToROption(ev.RRule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", ev.RRule, err)
	}
	opt.Dtstart = start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE %q: %w", ev.RRule, err)
	}

	var dates []string
	next := rule.Iterator()
	for {
		t, ok := next()
		if !ok || t.After(to) || (limit > 0 && len(dates) >= limit) {
			break
		}
		if t.Before(from) {
			continue
		}
		dates = append(dates, t.Format(model.DateLayout))
	}
	return dates, nil
}
