package ics

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// colorProps are checked in order; the first non-empty one wins.
var colorProps = []string{"COLOR", "X-APPLE-CALENDAR-COLOR", "X-COLOR"}

// Decode returns a lazy sequence of the events found in data, which may be a
// whole VCALENDAR or the content of a calendar-data element. fallbackColor is
// used for events without a color property.
//
// Blocks without DTSTART yield nothing. A malformed block is logged and
// skipped; decoding continues with the next block. Overridden instances
// (RECURRENCE-ID) are dropped when their master is present; an orphan
// override yields once per UID, after the masters.
func (c *Codec) Decode(data string, fallbackColor string) iter.Seq[model.Event] {
	fallbackColor = model.NormalizeColor(fallbackColor)
	return func(yield func(model.Event) bool) {
		masters := make(map[string]bool)
		var overrides []model.Event
		for block := range eventBlocks(data) {
			ev, override, ok, err := decodeBlock(block, fallbackColor)
			if err != nil {
				c.logger.Warn("skipping malformed VEVENT", "error", err)
				continue
			}
			if !ok {
				continue
			}
			if override && ev.CaldavUID != "" {
				overrides = append(overrides, ev)
				continue
			}
			masters[ev.CaldavUID] = true
			if !yield(ev) {
				return
			}
		}
		for _, ev := range overrides {
			if masters[ev.CaldavUID] {
				continue
			}
			masters[ev.CaldavUID] = true
			if !yield(ev) {
				return
			}
		}
	}
}

// DecodeAll collects Decode into a slice.
func (c *Codec) DecodeAll(data string, fallbackColor string) []model.Event {
	var events []model.Event
	for ev := range c.Decode(data, fallbackColor) {
		events = append(events, ev)
	}
	return events
}

// unfold joins continuation lines (leading space or tab) onto the previous
// logical line.
func unfold(data string) []string {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")

	var lines []string
	for _, raw := range strings.Split(data, "\n") {
		if len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += raw[1:]
			continue
		}
		lines = append(lines, raw)
	}
	return lines
}

// eventBlocks yields the unfolded lines of every VEVENT, BEGIN and END
// included.
func eventBlocks(data string) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		var block []string
		inEvent := false
		for _, line := range unfold(data) {
			trimmed := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case trimmed == "BEGIN:VEVENT":
				inEvent = true
				block = []string{"BEGIN:VEVENT"}
			case inEvent && trimmed == "END:VEVENT":
				block = append(block, "END:VEVENT")
				inEvent = false
				if !yield(block) {
					return
				}
				block = nil
			case inEvent:
				if strings.TrimSpace(line) != "" {
					block = append(block, line)
				}
			}
		}
	}
}

func decodeBlock(lines []string, fallbackColor string) (ev model.Event, override, ok bool, err error) {
	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + ProductID + "\r\n")
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\r\n")
	}
	sb.WriteString("END:VCALENDAR\r\n")

	cal, err := ical.NewDecoder(strings.NewReader(sb.String())).Decode()
	if err != nil {
		return model.Event{}, false, false, fmt.Errorf("decode VEVENT: %w", err)
	}

	events := cal.Events()
	if len(events) == 0 {
		return model.Event{}, false, false, nil
	}
	comp := events[0].Component

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil || strings.TrimSpace(startProp.Value) == "" {
		return model.Event{}, false, false, nil
	}
	date, start, err := parseDateValue(startProp.Value)
	if err != nil {
		return model.Event{}, false, false, fmt.Errorf("DTSTART: %w", err)
	}

	ev = model.Event{
		Date:      date,
		StartTime: start,
		Source:    model.SourceCalDAV,
		CaldavUID: strings.TrimSpace(propText(comp, ical.PropUID)),
		Title:     propText(comp, ical.PropSummary),
		Memo:      propText(comp, ical.PropDescription),
		RRule:     propText(comp, ical.PropRecurrenceRule),
	}

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil && start.IsPresent() {
		_, end, err := parseDateValue(endProp.Value)
		if err != nil {
			return model.Event{}, false, false, fmt.Errorf("DTEND: %w", err)
		}
		ev.EndTime = end
	}

	for _, name := range colorProps {
		if color := model.NormalizeColor(propText(comp, name)); color != "" {
			ev.Color = color
			break
		}
	}
	if ev.Color == "" {
		ev.Color = fallbackColor
	}

	override = comp.Props.Get(ical.PropRecurrenceID) != nil
	return ev, override, true, nil
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

// parseDateValue reads an 8 character date or a date-time of at least 15
// characters. Timezone suffixes are ignored.
func parseDateValue(v string) (string, mo.Option[string], error) {
	v = strings.TrimSpace(v)
	switch {
	case len(v) == 8:
		d, err := time.Parse("20060102", v)
		if err != nil {
			return "", mo.None[string](), fmt.Errorf("invalid date %q", v)
		}
		return d.Format(model.DateLayout), mo.None[string](), nil
	case len(v) >= 15:
		if v[8] != 'T' && v[8] != 't' {
			return "", mo.None[string](), fmt.Errorf("invalid date-time %q", v)
		}
		t, err := time.Parse("20060102T1504", v[:13])
		if err != nil {
			return "", mo.None[string](), fmt.Errorf("invalid date-time %q", v)
		}
		return t.Format(model.DateLayout), mo.Some(t.Format(model.TimeLayout)), nil
	default:
		return "", mo.None[string](), fmt.Errorf("unsupported date value %q", v)
	}
}
