// Package sqlite is a storage.Store backed by a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
	"github.com/samber/mo"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements storage.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			start_time TEXT,
			end_time TEXT,
			color TEXT NOT NULL DEFAULT '',
			calendar_url TEXT NOT NULL DEFAULT '',
			caldav_uid TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_calendar_uid ON events(calendar_url, caldav_uid)`,
		`CREATE INDEX IF NOT EXISTS idx_events_calendar_date ON events(calendar_url, date)`,
		`CREATE TABLE IF NOT EXISTS sync_tokens (
			credential TEXT NOT NULL,
			calendar_url TEXT NOT NULL,
			token TEXT NOT NULL,
			PRIMARY KEY (credential, calendar_url)
		)`,
		`CREATE TABLE IF NOT EXISTS calendars (
			url TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			is_local INTEGER NOT NULL DEFAULT 0,
			is_visible INTEGER NOT NULL DEFAULT 1,
			type TEXT NOT NULL DEFAULT 'caldav',
			subscription_url TEXT NOT NULL DEFAULT ''
		)`,
		// Conditional writes
		`ALTER TABLE events ADD COLUMN etag TEXT NOT NULL DEFAULT ''`,
		// Recurrence kept across local edits
		`ALTER TABLE events ADD COLUMN rrule TEXT NOT NULL DEFAULT ''`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Events ===

const eventColumns = `id, date, title, memo, start_time, end_time, color, calendar_url, caldav_uid, source, etag, rrule`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var ev model.Event
	var start, end sql.NullString
	var source string
	err := row.Scan(&ev.ID, &ev.Date, &ev.Title, &ev.Memo, &start, &end, &ev.Color,
		&ev.CalendarURL, &ev.CaldavUID, &source, &ev.ETag, &ev.RRule)
	if err != nil {
		return nil, err
	}
	ev.StartTime = nullOption(start)
	ev.EndTime = nullOption(end)
	ev.Source = model.Source(source)
	return &ev, nil
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]model.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullOption(v sql.NullString) mo.Option[string] {
	if !v.Valid {
		return mo.None[string]()
	}
	return mo.Some(v.String)
}

func optionValue(o mo.Option[string]) any {
	if v, ok := o.Get(); ok {
		return v
	}
	return nil
}

// urlIn renders "calendar_url IN (?, ?)" for the stored forms of u.
func urlIn(u string) (string, []any) {
	variants := model.URLVariants(u)
	args := make([]any, len(variants))
	for i, v := range variants {
		args[i] = v
	}
	return "calendar_url IN (" + placeholders(len(args)) + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func getByUID(ctx context.Context, q querier, uid, calendarURL string) (*model.Event, error) {
	clause, args := urlIn(calendarURL)
	row := q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE caldav_uid = ? AND `+clause+` ORDER BY id LIMIT 1`,
		append([]any{uid}, args...)...)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", uid, storage.ErrNotFound)
	}
	return ev, err
}

func (s *Store) ExistsByUID(ctx context.Context, uid, calendarURL string) (bool, error) {
	if uid == "" {
		return false, nil
	}
	clause, args := urlIn(calendarURL)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE caldav_uid = ? AND `+clause,
		append([]any{uid}, args...)...).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetByUID(ctx context.Context, uid, calendarURL string) (*model.Event, error) {
	if uid == "" {
		return nil, storage.ErrInvalidInput
	}
	return getByUID(ctx, s.db, uid, calendarURL)
}

func (s *Store) Get(ctx context.Context, id int64) (*model.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	return ev, err
}

// checkUnique enforces one event per (uid, calendar) and one UID-less
// CalDAV event per natural key. self is excluded from the comparison.
func checkUnique(ctx context.Context, q querier, ev *model.Event, self int64) error {
	if ev.CaldavUID != "" {
		other, err := getByUID(ctx, q, ev.CaldavUID, ev.CalendarURL)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if other.ID != self {
			return fmt.Errorf("event %s: %w", ev.CaldavUID, storage.ErrConflict)
		}
		return nil
	}
	if ev.Source != model.SourceCalDAV {
		return nil
	}
	matches, err := findByDetails(ctx, q, ev.Details())
	if err != nil {
		return err
	}
	for _, other := range matches {
		if other.ID != self && other.CaldavUID == "" && other.Source == model.SourceCalDAV {
			return fmt.Errorf("event %q on %s: %w", ev.Title, ev.Date, storage.ErrConflict)
		}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, ev *model.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	ev.CalendarURL = model.NormalizeURL(ev.CalendarURL)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkUnique(ctx, tx, ev, 0); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (date, title, memo, start_time, end_time, color, calendar_url, caldav_uid, source, etag, rrule)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.Date, ev.Title, ev.Memo, optionValue(ev.StartTime), optionValue(ev.EndTime), ev.Color,
			ev.CalendarURL, ev.CaldavUID, string(ev.Source), ev.ETag, ev.RRule)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		ev.ID = id
		return nil
	})
}

func (s *Store) UpdateByUID(ctx context.Context, uid, calendarURL string, remote model.Event, fields []model.Field) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ev, err := getByUID(ctx, tx, uid, calendarURL)
		if err != nil {
			return err
		}
		model.Apply(ev, remote, fields)
		if remote.ETag != "" {
			ev.ETag = remote.ETag
		}
		if remote.RRule != "" {
			ev.RRule = remote.RRule
		}
		return writeEvent(ctx, tx, ev)
	})
}

func writeEvent(ctx context.Context, q querier, ev *model.Event) error {
	res, err := q.ExecContext(ctx,
		`UPDATE events SET date = ?, title = ?, memo = ?, start_time = ?, end_time = ?, color = ?,
		 calendar_url = ?, caldav_uid = ?, source = ?, etag = ?, rrule = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		ev.Date, ev.Title, ev.Memo, optionValue(ev.StartTime), optionValue(ev.EndTime), ev.Color,
		ev.CalendarURL, ev.CaldavUID, string(ev.Source), ev.ETag, ev.RRule, ev.ID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("event %d: %w", ev.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, ev *model.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	ev.CalendarURL = model.NormalizeURL(ev.CalendarURL)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkUnique(ctx, tx, ev, ev.ID); err != nil {
			return err
		}
		return writeEvent(ctx, tx, ev)
	})
}

func (s *Store) AttachUID(ctx context.Context, id int64, uid, etag string) error {
	if uid == "" {
		return storage.ErrInvalidInput
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ev, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		ev.CaldavUID = uid
		ev.Source = model.SourceCalDAV
		if etag != "" {
			ev.ETag = etag
		}
		if err := checkUnique(ctx, tx, ev, id); err != nil {
			return err
		}
		return writeEvent(ctx, tx, ev)
	})
}

func findByDetails(ctx context.Context, q querier, d model.Details) ([]model.Event, error) {
	clause, args := urlIn(d.CalendarURL)
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE title = ? AND date = ? AND start_time IS ? AND end_time IS ? AND ` + clause + ` ORDER BY id`
	params := append([]any{d.Title, d.Date, optionValue(d.StartTime), optionValue(d.EndTime)}, args...)
	events, err := queryEvents(ctx, q, query, params...)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return events, nil
}

func (s *Store) FindByDetails(ctx context.Context, d model.Details) ([]model.Event, error) {
	return findByDetails(ctx, s.db, d)
}

func (s *Store) ListByCalendar(ctx context.Context, calendarURL string, source model.Source) ([]model.Event, error) {
	clause, args := urlIn(calendarURL)
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + clause
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	events, err := queryEvents(ctx, s.db, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteBatch(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// === Sync tokens ===

func (s *Store) LoadTokens(ctx context.Context, cred storage.Credential) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT calendar_url, token FROM sync_tokens WHERE credential = ?`, cred.Key())
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]string)
	for rows.Next() {
		var url, tok string
		if err := rows.Scan(&url, &tok); err != nil {
			return nil, err
		}
		tokens[url] = tok
	}
	return tokens, rows.Err()
}

func (s *Store) SaveTokens(ctx context.Context, cred storage.Credential, tokens map[string]string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_tokens WHERE credential = ?`, cred.Key()); err != nil {
			return fmt.Errorf("clear tokens: %w", err)
		}
		for url, tok := range tokens {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO sync_tokens (credential, calendar_url, token) VALUES (?, ?, ?)`,
				cred.Key(), model.NormalizeURL(url), tok)
			if err != nil {
				return fmt.Errorf("save token: %w", err)
			}
		}
		return nil
	})
}

// === Calendars ===

const calendarColumns = `url, display_name, color, is_local, is_visible, type, subscription_url`

func scanCalendar(row scanner) (*model.CalendarMetadata, error) {
	var cal model.CalendarMetadata
	var calType string
	if err := row.Scan(&cal.URL, &cal.DisplayName, &cal.Color, &cal.IsLocal, &cal.IsVisible, &calType, &cal.SubscriptionURL); err != nil {
		return nil, err
	}
	cal.Type = model.CalendarType(calType)
	return &cal, nil
}

func (s *Store) ListCalendars(ctx context.Context) ([]model.CalendarMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+calendarColumns+` FROM calendars ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	cals := []model.CalendarMetadata{}
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, *cal)
	}
	return cals, rows.Err()
}

func (s *Store) GetCalendar(ctx context.Context, calendarURL string) (*model.CalendarMetadata, error) {
	cal, err := scanCalendar(s.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE url = ?`, model.NormalizeURL(calendarURL)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calendar %s: %w", calendarURL, storage.ErrNotFound)
	}
	return cal, err
}

func (s *Store) UpsertCalendar(ctx context.Context, cal model.CalendarMetadata) error {
	cal.URL = model.NormalizeURL(cal.URL)
	if cal.URL == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (`+calendarColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET display_name = excluded.display_name, color = excluded.color,
		 is_local = excluded.is_local, is_visible = excluded.is_visible, type = excluded.type,
		 subscription_url = excluded.subscription_url`,
		cal.URL, cal.DisplayName, cal.Color, cal.IsLocal, cal.IsVisible, string(cal.Type), cal.SubscriptionURL)
	if err != nil {
		return fmt.Errorf("upsert calendar: %w", err)
	}
	return nil
}

func (s *Store) SetVisible(ctx context.Context, calendarURL string, visible bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calendars SET is_visible = ? WHERE url = ?`, visible, model.NormalizeURL(calendarURL))
	if err != nil {
		return fmt.Errorf("set calendar visibility: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("calendar %s: %w", calendarURL, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
