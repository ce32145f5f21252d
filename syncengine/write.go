package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/model"
)

// CreateEvent stores ev and, when it belongs to a remote calendar, uploads
// it. On success ev carries the assigned UID and ETag. If the upload fails
// the local record is kept as a manual event and the error is returned.
func (e *Engine) CreateEvent(ctx context.Context, ev *model.Event) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	ev.ID = 0
	ev.CaldavUID = ""
	ev.ETag = ""
	ev.Source = model.SourceManual
	ev.CalendarURL = model.NormalizeURL(ev.CalendarURL)

	if err := e.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	if !e.pushable(ctx, ev.CalendarURL) {
		return nil
	}

	uid, etag, err := e.push(ctx, *ev, "")
	if err != nil {
		return err
	}
	if err := e.events.AttachUID(ctx, ev.ID, uid, etag); err != nil {
		return fmt.Errorf("failed to record uid: %w", err)
	}
	ev.CaldavUID, ev.ETag, ev.Source = uid, etag, model.SourceCalDAV
	return nil
}

// UpdateEvent replaces the stored event with ev and uploads the new version,
// guarded by the last known ETag. A remote edit since the last sync yields
// ErrConflict; the local change stays stored either way.
func (e *Engine) UpdateEvent(ctx context.Context, ev *model.Event) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	stored, err := e.events.Get(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}

	ev.CalendarURL = model.NormalizeURL(ev.CalendarURL)
	ev.CaldavUID = stored.CaldavUID
	ev.ETag = stored.ETag
	ev.Source = stored.Source
	if ev.RRule == "" {
		ev.RRule = stored.RRule
	}

	moved := stored.CaldavUID != "" && !model.SameCalendar(stored.CalendarURL, ev.CalendarURL)
	if moved {
		if e.pushable(ctx, stored.CalendarURL) {
			if err := e.transport.DeleteEvent(ctx, stored.CalendarURL, stored.CaldavUID, stored.ETag); err != nil {
				return wrapConflict("failed to remove event from previous calendar", err)
			}
		}
		ev.ETag = ""
		ev.Source = model.SourceManual
		if !e.pushable(ctx, ev.CalendarURL) {
			ev.CaldavUID = ""
		}
	}

	if err := e.events.Update(ctx, ev); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if !e.pushable(ctx, ev.CalendarURL) {
		return nil
	}

	uid, etag, err := e.push(ctx, *ev, ev.ETag)
	if err != nil {
		return err
	}
	ev.CaldavUID, ev.ETag, ev.Source = uid, etag, model.SourceCalDAV
	if err := e.events.Update(ctx, ev); err != nil {
		return fmt.Errorf("failed to record etag: %w", err)
	}
	return nil
}

// DeleteEvent removes the event remotely first, then locally. A remote edit
// since the last sync yields ErrConflict and nothing is deleted.
func (e *Engine) DeleteEvent(ctx context.Context, id int64) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	stored, err := e.events.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}
	if stored.CaldavUID != "" && e.pushable(ctx, stored.CalendarURL) {
		if err := e.transport.DeleteEvent(ctx, stored.CalendarURL, stored.CaldavUID, stored.ETag); err != nil {
			return wrapConflict("failed to delete remote event", err)
		}
	}
	if err := e.events.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// lock waits for a running pass to finish and holds the in-flight slot, so
// passes started meanwhile report Busy instead of racing the write.
func (e *Engine) lock(ctx context.Context) (func(), error) {
	if err := e.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to wait for running sync: %w", err)
	}
	return func() { e.inflight.Release(1) }, nil
}

func (e *Engine) pushable(ctx context.Context, calURL string) bool {
	return calURL != "" && !e.isLocal(ctx, calURL)
}

func (e *Engine) push(ctx context.Context, ev model.Event, etag string) (uid, newETag string, err error) {
	uid, data, err := e.codec.Encode(ev)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode event: %w", err)
	}
	newETag, err = e.transport.PutEvent(ctx, ev.CalendarURL, uid, data, etag)
	if err != nil {
		return "", "", wrapConflict("failed to upload event", err)
	}
	return uid, newETag, nil
}

func wrapConflict(msg string, err error) error {
	if errors.Is(err, davclient.ErrPreconditionFailed) {
		return fmt.Errorf("%s: %w: %w", msg, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
