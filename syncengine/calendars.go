package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
)

// RefreshCalendars lists the remote calendars and records them in the
// calendar store. Known calendars keep their visibility; new ones start
// visible. Without a calendar store the remote list is returned as is.
func (e *Engine) RefreshCalendars(ctx context.Context) ([]model.CalendarMetadata, error) {
	remote, err := e.transport.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	out := make([]model.CalendarMetadata, 0, len(remote))
	for _, cal := range remote {
		meta := model.CalendarMetadata{
			URL:         model.NormalizeURL(cal.URL),
			DisplayName: cal.DisplayName,
			Color:       model.NormalizeColor(cal.Color),
			IsVisible:   true,
			Type:        model.CalendarCalDAV,
		}
		if e.calendars != nil {
			prev, err := e.calendars.GetCalendar(ctx, meta.URL)
			switch {
			case err == nil:
				meta.IsVisible = prev.IsVisible
			case !errors.Is(err, storage.ErrNotFound):
				return nil, fmt.Errorf("failed to read calendar %s: %w", meta.URL, err)
			}
			if err := e.calendars.UpsertCalendar(ctx, meta); err != nil {
				return nil, fmt.Errorf("failed to store calendar %s: %w", meta.URL, err)
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

// VisibleCalendars returns the URLs of stored remote calendars that are
// visible, which is the default set a scheduled pass syncs.
func (e *Engine) VisibleCalendars(ctx context.Context) ([]string, error) {
	if e.calendars == nil {
		return nil, errors.New("no calendar store configured")
	}
	cals, err := e.calendars.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored calendars: %w", err)
	}
	var urls []string
	for _, c := range cals {
		if c.IsVisible && !c.IsLocal && c.Type != model.CalendarSubscription {
			urls = append(urls, c.URL)
		}
	}
	return urls, nil
}
