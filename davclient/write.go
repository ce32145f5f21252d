package davclient

import (
	"context"
	"errors"
	"fmt"
)

// PutEvent stores data as <calendar>/<uid>.ics. When etag is set the write
// is conditional and fails with ErrPreconditionFailed if the resource has
// changed. It returns the new ETag, or "" when the server sends none.
func (c *Client) PutEvent(ctx context.Context, calendarURL, uid string, data []byte, etag string) (string, error) {
	if uid == "" {
		return "", errors.New("event UID is required")
	}
	newEtag, err := c.http.DoPUT(ctx, objectURL(calendarURL, uid), etag, data)
	if err != nil {
		return "", fmt.Errorf("failed to put event %s: %w", uid, err)
	}
	c.logger.Debug("put event", "calendar", calendarURL, "uid", uid, "conditional", etag != "")
	return newEtag, nil
}

// DeleteEvent removes <calendar>/<uid>.ics. A resource that is already gone
// counts as deleted.
func (c *Client) DeleteEvent(ctx context.Context, calendarURL, uid, etag string) error {
	if uid == "" {
		return errors.New("event UID is required")
	}
	err := c.http.DoDELETE(ctx, objectURL(calendarURL, uid), etag)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("event already deleted", "calendar", calendarURL, "uid", uid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", uid, err)
	}
	return nil
}
