package davclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/caldora-sync/internal/httpclient"
	"github.com/cyp0633/caldora-sync/internal/xml"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/samber/mo"
)

// FetchEvents returns the events of a calendar overlapping [start, end].
// A zero start or end defaults to DefaultWindow around now. Events without a
// color of their own take the calendar color.
func (c *Client) FetchEvents(ctx context.Context, calendarURL string, start, end time.Time) ([]model.Event, error) {
	now := c.now()
	if start.IsZero() {
		start = now.Add(-DefaultWindow)
	}
	if end.IsZero() {
		end = now.Add(DefaultWindow)
	}

	color, err := c.CalendarColor(ctx, calendarURL)
	if err != nil {
		c.logger.Debug("calendar color unavailable", "calendar", calendarURL, "error", err)
	}

	ms, err := c.http.DoREPORT(ctx, collectionURL(calendarURL), 1, xml.CalendarQueryRequest(start, end))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []model.Event
	for _, resp := range ms.Responses {
		data := resp.CalendarData()
		if data == "" {
			continue
		}
		events = append(events, c.decode(calendarURL, data, resp.ETag(), color)...)
	}
	c.logger.Debug("fetched events", "calendar", calendarURL, "responses", len(ms.Responses), "events", len(events))
	return events, nil
}

// GetSyncToken reads the sync-token property of a calendar.
func (c *Client) GetSyncToken(ctx context.Context, calendarURL string) (mo.Option[string], error) {
	ms, err := c.http.DoPROPFIND(ctx, collectionURL(calendarURL), 0, xml.PropSyncToken)
	if err != nil {
		return mo.None[string](), fmt.Errorf("failed to get sync token: %w", err)
	}
	for _, resp := range ms.Responses {
		if tok := resp.Text("sync-token"); tok != "" {
			return mo.Some(tok), nil
		}
	}
	return mo.None[string](), nil
}

// SyncCollection asks for the changes since token. Changed resources whose
// data is not inlined are fetched one by one. Any entry that cannot be
// fetched fails the whole call, and no new token is returned. Removed resources are listed in Deleted and flagged through
// HasDeletions. Events without a color of their own take the calendar color.
func (c *Client) SyncCollection(ctx context.Context, calendarURL, token string) (*SyncResult, error) {
	collection := collectionURL(calendarURL)
	ms, err := c.http.DoREPORT(ctx, collection, 0, xml.SyncCollectionRequest(token))
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Condition() == "valid-sync-token" {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSyncToken, err)
		}
		return nil, fmt.Errorf("sync-collection failed: %w", err)
	}

	color, err := c.CalendarColor(ctx, calendarURL)
	if err != nil {
		c.logger.Debug("calendar color unavailable", "calendar", calendarURL, "error", err)
	}

	result := &SyncResult{SyncToken: ms.SyncToken}
	for _, resp := range ms.Responses {
		if resp.Href == "" {
			continue
		}
		if resp.Gone() {
			result.Deleted = append(result.Deleted, resp.Href)
			result.HasDeletions = true
			continue
		}

		href, err := resolve(collection, resp.Href)
		if err != nil {
			return nil, fmt.Errorf("invalid sync entry %q: %w", resp.Href, err)
		}
		if model.SameCalendar(href, collection) {
			continue
		}

		data, etag := resp.CalendarData(), resp.ETag()
		if data == "" {
			body, getEtag, err := c.http.DoGET(ctx, href)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch changed resource %s: %w", resp.Href, err)
			}
			data = string(body)
			if etag == "" {
				etag = getEtag
			}
		}
		result.Events = append(result.Events, c.decode(calendarURL, data, etag, color)...)
	}

	c.logger.Debug("sync-collection complete",
		"calendar", calendarURL,
		"changed", len(result.Events),
		"deleted", len(result.Deleted))
	return result, nil
}

func (c *Client) decode(calendarURL, data, etag, fallbackColor string) []model.Event {
	var events []model.Event
	for ev := range c.codec.Decode(data, fallbackColor) {
		ev.CalendarURL = model.NormalizeURL(calendarURL)
		ev.ETag = etag
		events = append(events, ev)
	}
	return events
}
