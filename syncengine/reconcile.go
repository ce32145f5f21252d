package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
)

// reconcile upserts every remote event and returns the UIDs it saw.
func (e *Engine) reconcile(ctx context.Context, logger *slog.Logger, calURL string, remote []model.Event, res *CalendarResult) map[string]bool {
	seen := make(map[string]bool, len(remote))
	for _, ev := range remote {
		ev.ID = 0
		ev.CalendarURL = calURL
		ev.Source = model.SourceCalDAV

		var (
			out outcome
			err error
		)
		if ev.CaldavUID != "" {
			seen[ev.CaldavUID] = true
			out, err = e.reconcileByUID(ctx, ev)
		} else {
			out, err = e.reconcileByDetails(ctx, ev)
		}
		if err != nil {
			logger.Warn("failed to store event", "uid", ev.CaldavUID, "title", ev.Title, "date", ev.Date, "error", err)
			res.Failed++
			continue
		}

		switch out {
		case outcomeCreated:
			res.Created++
		case outcomeUpdated:
			res.Updated++
		default:
			res.Skipped++
		}
	}
	return seen
}

func (e *Engine) reconcileByUID(ctx context.Context, ev model.Event) (outcome, error) {
	exists, err := e.events.ExistsByUID(ctx, ev.CaldavUID, ev.CalendarURL)
	if err != nil {
		return 0, fmt.Errorf("failed to look up uid: %w", err)
	}

	if exists {
		local, err := e.events.GetByUID(ctx, ev.CaldavUID, ev.CalendarURL)
		if err != nil {
			return 0, fmt.Errorf("failed to get event: %w", err)
		}
		fields := model.Diff(*local, ev)
		if len(fields) == 0 {
			if (ev.ETag != "" && ev.ETag != local.ETag) || (ev.RRule != "" && ev.RRule != local.RRule) {
				// Nothing user-visible changed; keep the version marker fresh.
				if err := e.events.UpdateByUID(ctx, ev.CaldavUID, ev.CalendarURL, ev, nil); err != nil {
					return 0, fmt.Errorf("failed to refresh etag: %w", err)
				}
			}
			return outcomeSkipped, nil
		}
		if err := e.events.UpdateByUID(ctx, ev.CaldavUID, ev.CalendarURL, ev, fields); err != nil {
			return 0, fmt.Errorf("failed to update event: %w", err)
		}
		return outcomeUpdated, nil
	}

	// Events synced before UIDs were tracked are adopted instead of duplicated.
	matches, err := e.events.FindByDetails(ctx, ev.Details())
	if err != nil {
		return 0, fmt.Errorf("failed to find legacy event: %w", err)
	}
	for _, m := range matches {
		if m.CaldavUID == "" && m.Source == model.SourceCalDAV {
			if err := e.events.AttachUID(ctx, m.ID, ev.CaldavUID, ev.ETag); err != nil {
				return 0, fmt.Errorf("failed to attach uid: %w", err)
			}
			return outcomeUpdated, nil
		}
	}

	return e.create(ctx, ev)
}

func (e *Engine) reconcileByDetails(ctx context.Context, ev model.Event) (outcome, error) {
	matches, err := e.events.FindByDetails(ctx, ev.Details())
	if err != nil {
		return 0, fmt.Errorf("failed to find event: %w", err)
	}
	if len(matches) > 0 {
		return outcomeSkipped, nil
	}
	return e.create(ctx, ev)
}

func (e *Engine) create(ctx context.Context, ev model.Event) (outcome, error) {
	if err := e.events.Create(ctx, &ev); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return 0, fmt.Errorf("event already stored: %w", err)
		}
		return 0, fmt.Errorf("failed to create event: %w", err)
	}
	return outcomeCreated, nil
}
