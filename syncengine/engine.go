// Package syncengine reconciles remote CalDAV calendars with the local event
// store: incremental or full fetch per calendar, field-level upserts,
// guarded deletion of remotely removed events, and sync token bookkeeping.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/internal/ics"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
	"github.com/samber/mo"
	"golang.org/x/sync/semaphore"
)

// Transport is the remote side of a sync. davclient.Client talks to a
// CalDAV server directly; relay.Client goes through the JSON relay.
type Transport interface {
	ListCalendars(ctx context.Context) ([]davclient.Calendar, error)
	FetchEvents(ctx context.Context, calendarURL string, start, end time.Time) ([]model.Event, error)
	GetSyncToken(ctx context.Context, calendarURL string) (mo.Option[string], error)
	SyncCollection(ctx context.Context, calendarURL, token string) (*davclient.SyncResult, error)
	PutEvent(ctx context.Context, calendarURL, uid string, data []byte, etag string) (string, error)
	DeleteEvent(ctx context.Context, calendarURL, uid, etag string) error
}

// ErrConflict is returned by local writes when the remote copy changed since
// it was last synced. It always wraps davclient.ErrPreconditionFailed too.
var ErrConflict = errors.New("remote event changed since last sync")

// Options tune a sync pass.
type Options struct {
	// Window is how far a full fetch looks back and ahead.
	Window time.Duration
	// BatchSize caps the ids per deletion batch.
	BatchSize int
	// Deletion is aborted when more than AbortRatio of at least AbortMin
	// existing events would be removed.
	AbortRatio float64
	AbortMin   int
	// A warning is logged when at least WarnRatio of at least WarnMin
	// existing events are removed.
	WarnRatio float64
	WarnMin   int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		Window:     365 * 24 * time.Hour,
		BatchSize:  50,
		AbortRatio: 0.9,
		AbortMin:   10,
		WarnRatio:  0.8,
		WarnMin:    5,
	}
}

// Config wires an Engine.
type Config struct {
	Transport Transport
	Events    storage.EventStore
	Tokens    storage.TokenStore
	// Calendars is optional. When set, calendars marked local are never
	// synced or pushed to.
	Calendars  storage.CalendarStore
	Credential storage.Credential
	Logger     *slog.Logger
	// Options defaults to DefaultOptions when zero.
	Options Options
}

// Engine runs sync passes for one credential. At most one pass runs at a
// time; see Sync.
type Engine struct {
	transport  Transport
	events     storage.EventStore
	tokens     storage.TokenStore
	calendars  storage.CalendarStore
	credential storage.Credential
	opts       Options
	codec      *ics.Codec
	logger     *slog.Logger
	inflight   *semaphore.Weighted
	now        func() time.Time
}

// New builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil || cfg.Events == nil || cfg.Tokens == nil {
		return nil, errors.New("transport, event store and token store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := cfg.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	return &Engine{
		transport:  cfg.Transport,
		events:     cfg.Events,
		tokens:     cfg.Tokens,
		calendars:  cfg.Calendars,
		credential: cfg.Credential,
		opts:       opts,
		codec:      ics.New(logger),
		logger:     logger.With("user", cfg.Credential.Username),
		inflight:   semaphore.NewWeighted(1),
		now:        time.Now,
	}, nil
}

// CalendarResult reports one calendar of a pass.
type CalendarResult struct {
	CalendarURL string `json:"calendarUrl"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Skipped     int    `json:"skipped"`
	Deleted     int    `json:"deleted"`
	// Failed counts events whose store write failed.
	Failed          int  `json:"failed"`
	DeletionAborted bool `json:"deletionAborted,omitempty"`
	Incremental     bool `json:"incremental"`
	// Err is set when the calendar could not be synced at all.
	Err error `json:"-"`
}

// Result reports a pass.
type Result struct {
	// Busy is set when another pass was in flight and nothing was done.
	Busy      bool             `json:"busy,omitempty"`
	Calendars []CalendarResult `json:"calendars"`
}

// Synced is the number of events created or updated.
func (r *Result) Synced() int {
	n := 0
	for _, c := range r.Calendars {
		n += c.Created + c.Updated
	}
	return n
}

// Deleted is the number of events removed locally.
func (r *Result) Deleted() int {
	n := 0
	for _, c := range r.Calendars {
		n += c.Deleted
	}
	return n
}

// StateChanged reports whether deletions happened, which callers treat as a
// signal to reload rather than just show a count.
func (r *Result) StateChanged() bool {
	return r.Deleted() > 0
}

// Failed lists the calendars that could not be synced.
func (r *Result) Failed() []CalendarResult {
	var out []CalendarResult
	for _, c := range r.Calendars {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Sync runs one pass over calendarURLs, one calendar at a time. A failing
// calendar is logged and the pass moves on. If a pass or a local write is
// already running, Sync returns immediately with Result.Busy set.
func (e *Engine) Sync(ctx context.Context, calendarURLs []string) (*Result, error) {
	if !e.inflight.TryAcquire(1) {
		e.logger.Info("sync already in progress, skipping")
		return &Result{Busy: true}, nil
	}
	defer e.inflight.Release(1)

	tokens, err := e.tokens.LoadTokens(ctx, e.credential)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync tokens: %w", err)
	}

	start := e.now()
	result := &Result{}
	for _, calURL := range calendarURLs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		calURL = model.NormalizeURL(calURL)
		if calURL == "" {
			continue
		}
		if e.isLocal(ctx, calURL) {
			e.logger.Debug("skipping local calendar", "calendar", calURL)
			continue
		}

		res := e.syncCalendar(ctx, calURL, tokens)
		if res.Err != nil {
			e.logger.Error("calendar sync failed", "calendar", calURL, "error", res.Err)
		}
		result.Calendars = append(result.Calendars, res)

		if err := e.tokens.SaveTokens(ctx, e.credential, tokens); err != nil {
			e.logger.Error("failed to save sync tokens", "calendar", calURL, "error", err)
		}
	}

	e.logger.Info("sync complete",
		"calendars", len(result.Calendars),
		"synced", result.Synced(),
		"deleted", result.Deleted(),
		"duration", time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (e *Engine) isLocal(ctx context.Context, calURL string) bool {
	if e.calendars == nil {
		return false
	}
	cal, err := e.calendars.GetCalendar(ctx, calURL)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("failed to read calendar metadata", "calendar", calURL, "error", err)
		}
		return false
	}
	return cal.IsLocal
}

func (e *Engine) syncCalendar(ctx context.Context, calURL string, tokens map[string]string) CalendarResult {
	res := CalendarResult{CalendarURL: calURL}
	logger := e.logger.With("calendar", calURL)

	var remote []model.Event
	var newToken string
	full := true

	if token := tokens[calURL]; token != "" {
		sr, err := e.transport.SyncCollection(ctx, calURL, token)
		switch {
		case errors.Is(err, davclient.ErrInvalidSyncToken):
			logger.Info("sync token expired, falling back to full fetch")
		case err != nil:
			logger.Warn("incremental sync failed, falling back to full fetch", "error", err)
		case sr.HasDeletions:
			logger.Info("remote deletions reported, falling back to full fetch", "deleted", len(sr.Deleted))
		default:
			remote, newToken, full = sr.Events, sr.SyncToken, false
			res.Incremental = true
		}
	}

	var from, to time.Time
	if full {
		now := e.now()
		from, to = now.Add(-e.opts.Window), now.Add(e.opts.Window)
		events, err := e.transport.FetchEvents(ctx, calURL, from, to)
		if err != nil {
			res.Err = fmt.Errorf("failed to fetch events: %w", err)
			return res
		}
		remote = events
	}

	seen := e.reconcile(ctx, logger, calURL, remote, &res)
	if full {
		e.deleteRemoved(ctx, logger, calURL, remote, seen, from, to, &res)
	}

	switch {
	case newToken != "":
		tokens[calURL] = newToken
	case full:
		tok, err := e.transport.GetSyncToken(ctx, calURL)
		if err != nil {
			logger.Warn("failed to get sync token", "error", err)
		} else if v, ok := tok.Get(); ok {
			tokens[calURL] = v
		} else {
			delete(tokens, calURL)
		}
	}

	logger.Info("calendar synced",
		"incremental", res.Incremental,
		"remote", len(remote),
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"deleted", res.Deleted,
		"failed", res.Failed)
	return res
}
