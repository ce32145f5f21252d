// Package memory is an in-process storage.Store, used in tests and for
// one-shot runs that need no persistence.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
)

// Store implements storage.Store using in-memory maps
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	events    map[int64]*model.Event
	tokens    map[string]map[string]string // key: credential
	calendars map[string]model.CalendarMetadata
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		events:    make(map[int64]*model.Event),
		tokens:    make(map[string]map[string]string),
		calendars: make(map[string]model.CalendarMetadata),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Event operations

func (s *Store) findUID(uid, calendarURL string) *model.Event {
	for _, ev := range s.events {
		if ev.CaldavUID == uid && model.SameCalendar(ev.CalendarURL, calendarURL) {
			return ev
		}
	}
	return nil
}

func (s *Store) ExistsByUID(_ context.Context, uid, calendarURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uid != "" && s.findUID(uid, calendarURL) != nil, nil
}

func (s *Store) GetByUID(_ context.Context, uid, calendarURL string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uid == "" {
		return nil, storage.ErrInvalidInput
	}
	ev := s.findUID(uid, calendarURL)
	if ev == nil {
		return nil, fmt.Errorf("event %s: %w", uid, storage.ErrNotFound)
	}
	out := *ev
	return &out, nil
}

func (s *Store) Get(_ context.Context, id int64) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	out := *ev
	return &out, nil
}

func (s *Store) Create(_ context.Context, ev *model.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUnique(ev, 0); err != nil {
		return err
	}

	s.nextID++
	stored := *ev
	stored.ID = s.nextID
	stored.CalendarURL = model.NormalizeURL(ev.CalendarURL)
	s.events[stored.ID] = &stored
	ev.ID = stored.ID
	ev.CalendarURL = stored.CalendarURL
	return nil
}

// checkUnique enforces one event per (uid, calendar) and one UID-less
// CalDAV event per natural key. self is excluded from the comparison.
func (s *Store) checkUnique(ev *model.Event, self int64) error {
	if ev.CaldavUID != "" {
		if other := s.findUID(ev.CaldavUID, ev.CalendarURL); other != nil && other.ID != self {
			return fmt.Errorf("event %s: %w", ev.CaldavUID, storage.ErrConflict)
		}
		return nil
	}
	if ev.Source != model.SourceCalDAV {
		return nil
	}
	d := ev.Details()
	for _, other := range s.events {
		if other.ID != self && other.CaldavUID == "" && other.Source == model.SourceCalDAV && d.Matches(*other) {
			return fmt.Errorf("event %q on %s: %w", ev.Title, ev.Date, storage.ErrConflict)
		}
	}
	return nil
}

func (s *Store) UpdateByUID(_ context.Context, uid, calendarURL string, remote model.Event, fields []model.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.findUID(uid, calendarURL)
	if ev == nil {
		return fmt.Errorf("event %s: %w", uid, storage.ErrNotFound)
	}
	model.Apply(ev, remote, fields)
	if remote.ETag != "" {
		ev.ETag = remote.ETag
	}
	if remote.RRule != "" {
		ev.RRule = remote.RRule
	}
	return nil
}

func (s *Store) Update(_ context.Context, ev *model.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; !ok {
		return fmt.Errorf("event %d: %w", ev.ID, storage.ErrNotFound)
	}
	if err := s.checkUnique(ev, ev.ID); err != nil {
		return err
	}
	stored := *ev
	stored.CalendarURL = model.NormalizeURL(ev.CalendarURL)
	s.events[ev.ID] = &stored
	return nil
}

func (s *Store) AttachUID(_ context.Context, id int64, uid, etag string) error {
	if uid == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	if other := s.findUID(uid, ev.CalendarURL); other != nil && other.ID != id {
		return fmt.Errorf("event %s: %w", uid, storage.ErrConflict)
	}
	ev.CaldavUID = uid
	ev.Source = model.SourceCalDAV
	if etag != "" {
		ev.ETag = etag
	}
	return nil
}

func (s *Store) FindByDetails(_ context.Context, d model.Details) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, id := range s.sortedIDs() {
		if ev := s.events[id]; d.Matches(*ev) {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (s *Store) ListByCalendar(_ context.Context, calendarURL string, source model.Source) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, id := range s.sortedIDs() {
		ev := s.events[id]
		if !model.SameCalendar(ev.CalendarURL, calendarURL) {
			continue
		}
		if source != "" && ev.Source != source {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (s *Store) sortedIDs() []int64 {
	return slices.Sorted(maps.Keys(s.events))
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	delete(s.events, id)
	return nil
}

func (s *Store) DeleteBatch(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := s.events[id]; ok {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// Token operations

func (s *Store) LoadTokens(_ context.Context, cred storage.Credential) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	maps.Copy(out, s.tokens[cred.Key()])
	return out, nil
}

func (s *Store) SaveTokens(_ context.Context, cred storage.Credential, tokens map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]string, len(tokens))
	for url, tok := range tokens {
		stored[model.NormalizeURL(url)] = tok
	}
	s.tokens[cred.Key()] = stored
	return nil
}

// Calendar operations

func (s *Store) ListCalendars(_ context.Context) ([]model.CalendarMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CalendarMetadata, 0, len(s.calendars))
	for _, key := range slices.Sorted(maps.Keys(s.calendars)) {
		out = append(out, s.calendars[key])
	}
	return out, nil
}

func (s *Store) GetCalendar(_ context.Context, calendarURL string) (*model.CalendarMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[model.NormalizeURL(calendarURL)]
	if !ok {
		return nil, fmt.Errorf("calendar %s: %w", calendarURL, storage.ErrNotFound)
	}
	return &cal, nil
}

func (s *Store) UpsertCalendar(_ context.Context, cal model.CalendarMetadata) error {
	cal.URL = model.NormalizeURL(cal.URL)
	if cal.URL == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[cal.URL] = cal
	return nil
}

func (s *Store) SetVisible(_ context.Context, calendarURL string, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.NormalizeURL(calendarURL)
	cal, ok := s.calendars[key]
	if !ok {
		return fmt.Errorf("calendar %s: %w", calendarURL, storage.ErrNotFound)
	}
	cal.IsVisible = visible
	s.calendars[key] = cal
	return nil
}
