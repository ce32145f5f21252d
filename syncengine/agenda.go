package syncengine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cyp0633/caldora-sync/internal/ics"
	"github.com/cyp0633/caldora-sync/model"
)

const maxOccurrencesPerEvent = 500

// Occurrence is one day on which an event takes place.
type Occurrence struct {
	Date  string      `json:"date"`
	Event model.Event `json:"event"`
}

// Agenda lists the stored events of calendarURLs occurring within
// [from, to], recurring events expanded, ordered by date and start time.
func (e *Engine) Agenda(ctx context.Context, calendarURLs []string, from, to time.Time) ([]Occurrence, error) {
	var out []Occurrence
	for _, calURL := range calendarURLs {
		events, err := e.events.ListByCalendar(ctx, calURL, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list events of %s: %w", calURL, err)
		}
		for _, ev := range events {
			dates, err := ics.Occurrences(ev, from, to, maxOccurrencesPerEvent)
			if err != nil {
				e.logger.Warn("skipping event with unusable recurrence", "id", ev.ID, "error", err)
				continue
			}
			for _, d := range dates {
				out = append(out, Occurrence{Date: d, Event: ev})
			}
		}
	}

	slices.SortStableFunc(out, func(a, b Occurrence) int {
		return cmp.Or(
			cmp.Compare(a.Date, b.Date),
			cmp.Compare(a.Event.StartTime.OrEmpty(), b.Event.StartTime.OrEmpty()),
			cmp.Compare(a.Event.ID, b.Event.ID),
		)
	})
	return out, nil
}
