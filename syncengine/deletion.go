package syncengine

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cyp0633/caldora-sync/model"
)

// deleteRemoved removes local CalDAV events of calURL that a full fetch no
// longer returns. Only events dated inside [from, to] are considered, since
// the fetch never sees anything else. Mass deletion is refused.
func (e *Engine) deleteRemoved(ctx context.Context, logger *slog.Logger, calURL string, remote []model.Event, seen map[string]bool, from, to time.Time, res *CalendarResult) {
	if len(remote) == 0 {
		logger.Info("remote returned no events, skipping deletion detection")
		return
	}

	locals, err := e.events.ListByCalendar(ctx, calURL, model.SourceCalDAV)
	if err != nil {
		logger.Warn("failed to list local events, skipping deletion detection", "error", err)
		return
	}

	remoteKeys := make(map[string]bool, len(remote))
	for _, ev := range remote {
		remoteKeys[ev.Details().Key()] = true
	}

	first, last := from.Format(model.DateLayout), to.Format(model.DateLayout)
	existing := 0
	var candidates []int64
	for _, ev := range locals {
		if ev.Date < first || ev.Date > last {
			continue
		}
		existing++
		if ev.CaldavUID != "" {
			if !seen[ev.CaldavUID] {
				candidates = append(candidates, ev.ID)
			}
		} else if !remoteKeys[ev.Details().Key()] {
			candidates = append(candidates, ev.ID)
		}
	}
	if len(candidates) == 0 {
		return
	}

	ratio := float64(len(candidates)) / float64(existing)
	if existing >= e.opts.AbortMin && ratio > e.opts.AbortRatio {
		logger.Warn("refusing mass deletion, remote result looks incomplete",
			"candidates", len(candidates), "existing", existing, "ratio", ratio)
		res.DeletionAborted = true
		return
	}
	if existing >= e.opts.WarnMin && ratio >= e.opts.WarnRatio {
		logger.Warn("deleting most local events of calendar",
			"candidates", len(candidates), "existing", existing, "ratio", ratio)
	}

	for batch := range slices.Chunk(candidates, e.opts.BatchSize) {
		n, err := e.events.DeleteBatch(ctx, batch)
		if err != nil {
			logger.Warn("failed to delete batch", "size", len(batch), "error", err)
			continue
		}
		res.Deleted += n
	}
	logger.Info("deleted events removed remotely", "deleted", res.Deleted)
}
