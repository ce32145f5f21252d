// Package storage defines the persistence interfaces the sync engine works
// against. Calendar URLs are normalized on write, and every lookup matches
// both the normalized and the trailing-slash form, since older records may
// carry either.
package storage

import (
	"context"
	"errors"

	"github.com/cyp0633/caldora-sync/model"
)

// EventStore connects your backend storage (e.g. database) with the sync
// engine. Please use the error types provided.
type EventStore interface {
	// ExistsByUID reports whether an event with uid exists in the calendar.
	ExistsByUID(ctx context.Context, uid, calendarURL string) (bool, error)
	// GetByUID fetches the event with uid in the calendar, or ErrNotFound.
	GetByUID(ctx context.Context, uid, calendarURL string) (*model.Event, error)
	// Get fetches an event by its local ID, or ErrNotFound.
	Get(ctx context.Context, id int64) (*model.Event, error)
	// Create stores ev and sets ev.ID. It returns ErrConflict when an event
	// with the same (uid, calendar) already exists.
	Create(ctx context.Context, ev *model.Event) error
	// UpdateByUID copies the listed fields from remote onto the stored event.
	// ETag and RRule are always refreshed from remote when it has them.
	UpdateByUID(ctx context.Context, uid, calendarURL string, remote model.Event, fields []model.Field) error
	// Update replaces the stored event with the same ID.
	Update(ctx context.Context, ev *model.Event) error
	// AttachUID associates a UID-less event with uid and marks it as
	// sourced from CalDAV.
	AttachUID(ctx context.Context, id int64, uid, etag string) error
	// FindByDetails lists events matching title, date, start, end and
	// calendar, with or without a UID.
	FindByDetails(ctx context.Context, d model.Details) ([]model.Event, error)
	// ListByCalendar lists the events of a calendar. An empty source lists
	// all of them.
	ListByCalendar(ctx context.Context, calendarURL string, source model.Source) ([]model.Event, error)
	// Delete removes one event, or returns ErrNotFound.
	Delete(ctx context.Context, id int64) error
	// DeleteBatch removes the listed events and returns how many existed.
	DeleteBatch(ctx context.Context, ids []int64) (int, error)
}

// Credential identifies the account a token map belongs to.
type Credential struct {
	ServerURL string
	Username  string
}

// Key is the stable string form of c.
func (c Credential) Key() string {
	return model.NormalizeURL(c.ServerURL) + "|" + c.Username
}

// TokenStore persists sync tokens per credential, keyed by calendar URL.
type TokenStore interface {
	// LoadTokens returns the token map of cred; an unknown credential yields
	// an empty map.
	LoadTokens(ctx context.Context, cred Credential) (map[string]string, error)
	// SaveTokens replaces the token map of cred.
	SaveTokens(ctx context.Context, cred Credential, tokens map[string]string) error
}

// CalendarStore keeps calendar metadata and visibility.
type CalendarStore interface {
	ListCalendars(ctx context.Context) ([]model.CalendarMetadata, error)
	// GetCalendar returns ErrNotFound for unknown calendars.
	GetCalendar(ctx context.Context, calendarURL string) (*model.CalendarMetadata, error)
	// UpsertCalendar creates or replaces the metadata for cal.URL.
	UpsertCalendar(ctx context.Context, cal model.CalendarMetadata) error
	SetVisible(ctx context.Context, calendarURL string, visible bool) error
}

// Store bundles every interface an implementation provides.
type Store interface {
	EventStore
	TokenStore
	CalendarStore
	Close() error
}

var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrConflict is returned when there's a conflict with an existing resource
	ErrConflict = errors.New("resource conflict")
)
