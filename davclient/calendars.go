package davclient

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cyp0633/caldora-sync/internal/xml"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/emersion/go-webdav/caldav"
)

// ListCalendars returns the calendars of the account. The calendar home is
// first guessed as <server>/calendars/<username>/; if that fails or lists
// nothing, it is discovered through /.well-known/caldav, the current user
// principal and its calendar-home-set. Each step is tried once.
func (c *Client) ListCalendars(ctx context.Context) ([]Calendar, error) {
	guess := c.serverURL.JoinPath("calendars", c.username).String() + "/"
	cals, err := c.listHome(ctx, guess)
	if err == nil && len(cals) > 0 {
		return cals, nil
	}
	c.logger.Debug("guessed calendar home failed, trying discovery", "home", guess, "error", err, "found", len(cals))

	home, err := c.discoverHome(ctx)
	if err != nil {
		c.logger.Warn("calendar home discovery failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCalendarsNotFound, err)
	}
	cals, err = c.listHome(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalendarsNotFound, err)
	}
	if len(cals) == 0 {
		return nil, ErrCalendarsNotFound
	}
	return cals, nil
}

// discoverHome resolves the calendar home set via the well-known URL.
func (c *Client) discoverHome(ctx context.Context) (string, error) {
	wellKnown := c.serverURL.ResolveReference(&url.URL{Path: "/.well-known/caldav"}).String()
	dav, err := caldav.NewClient(c.httpClient, wellKnown)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery client: %w", err)
	}
	principal, err := dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find current user principal: %w", err)
	}
	home, err := dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	c.logger.Debug("discovered calendar home", "principal", principal, "home", home)
	return resolve(wellKnown, home)
}

// listHome lists the calendar collections directly under home.
func (c *Client) listHome(ctx context.Context, home string) ([]Calendar, error) {
	ms, err := c.http.DoPROPFIND(ctx, home, 1,
		xml.PropResourceType,
		xml.PropDisplayName,
		xml.PropCalendarColor)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars at %s: %w", home, err)
	}

	var cals []Calendar
	for _, resp := range ms.Responses {
		if resp.Href == "" {
			continue
		}
		abs, err := resolve(home, resp.Href)
		if err != nil {
			c.logger.Debug("skipping calendar entry", "href", resp.Href, "error", err)
			continue
		}
		if model.SameCalendar(abs, home) || resp.IsScheduleBox() || isScheduleHref(abs) {
			continue
		}
		if !resp.IsCalendar() && !strings.Contains(strings.ToLower(resp.Href), "calendar") {
			continue
		}

		calURL := model.NormalizeURL(abs)
		name := resp.Text("displayname")
		if name == "" {
			name = path.Base(calURL)
		}
		cals = append(cals, Calendar{
			DisplayName: name,
			URL:         calURL,
			Color:       model.NormalizeColor(resp.Text("calendar-color")),
		})
	}
	return cals, nil
}

func isScheduleHref(u string) bool {
	switch strings.ToLower(path.Base(model.NormalizeURL(u))) {
	case "inbox", "outbox":
		return true
	}
	return false
}

// CalendarColor reads the Apple calendar-color property of a calendar.
// It returns "" when the server has none.
func (c *Client) CalendarColor(ctx context.Context, calendarURL string) (string, error) {
	ms, err := c.http.DoPROPFIND(ctx, collectionURL(calendarURL), 0, xml.PropCalendarColor)
	if err != nil {
		return "", fmt.Errorf("failed to get calendar color: %w", err)
	}
	for _, resp := range ms.Responses {
		if color := model.NormalizeColor(resp.Text("calendar-color")); color != "" {
			return color, nil
		}
	}
	return "", nil
}
