// Package storagetest holds a conformance suite for storage.Store
// implementations.
package storagetest

import (
	"context"
	"testing"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

const calURL = "https://dav.example.com/calendars/alice/work"

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateInvalid", testCreateInvalid},
		{"UIDConflict", testUIDConflict},
		{"DetailsConflict", testDetailsConflict},
		{"URLVariants", testURLVariants},
		{"UpdateByUID", testUpdateByUID},
		{"Update", testUpdate},
		{"AttachUID", testAttachUID},
		{"FindByDetails", testFindByDetails},
		{"ListByCalendar", testListByCalendar},
		{"Delete", testDelete},
		{"Tokens", testTokens},
		{"Calendars", testCalendars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func create(t *testing.T, s storage.Store, ev model.Event) model.Event {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &ev))
	require.NotZero(t, ev.ID)
	return ev
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := create(t, s, model.Event{
		Date:        "2024-01-29",
		Title:       "Meeting",
		Memo:        "room 4",
		StartTime:   mo.Some("10:00"),
		EndTime:     mo.Some("11:00"),
		Color:       "#00AA11",
		CalendarURL: calURL + "/",
		CaldavUID:   "uid-1",
		Source:      model.SourceCalDAV,
		ETag:        `"e1"`,
		RRule:       "FREQ=WEEKLY",
	})
	second := create(t, s, model.Event{Date: "2024-01-30", Title: "Local", Source: model.SourceManual})
	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, calURL, first.CalendarURL)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *got)

	got, err = s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAllDay())
	assert.Equal(t, "", got.CalendarURL)

	_, err = s.Get(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCreateInvalid(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.Create(ctx, &model.Event{Date: "tomorrow", Source: model.SourceManual})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = s.Create(ctx, &model.Event{Date: "2024-01-01", EndTime: mo.Some("10:00"), Source: model.SourceManual})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func testUIDConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, storage.NewMockEvent(calURL, "uid-1", "A", "2024-01-01", ""))

	dup := storage.NewMockEvent(calURL+"/", "uid-1", "B", "2024-01-02", "")
	assert.ErrorIs(t, s.Create(ctx, &dup), storage.ErrConflict)

	other := storage.NewMockEvent(calURL+"-other", "uid-1", "B", "2024-01-02", "")
	assert.NoError(t, s.Create(ctx, &other))
}

func testDetailsConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, storage.NewMockEvent(calURL, "", "Legacy", "2024-01-01", "09:00"))

	dup := storage.NewMockEvent(calURL, "", "Legacy", "2024-01-01", "09:00")
	assert.ErrorIs(t, s.Create(ctx, &dup), storage.ErrConflict)

	manual := dup
	manual.Source = model.SourceManual
	assert.NoError(t, s.Create(ctx, &manual))

	otherTime := storage.NewMockEvent(calURL, "", "Legacy", "2024-01-01", "10:00")
	assert.NoError(t, s.Create(ctx, &otherTime))
}

func testURLVariants(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ev := create(t, s, storage.NewMockEvent(calURL, "uid-1", "A", "2024-01-01", ""))

	for _, u := range model.URLVariants(calURL) {
		ok, err := s.ExistsByUID(ctx, "uid-1", u)
		require.NoError(t, err)
		assert.True(t, ok, u)

		got, err := s.GetByUID(ctx, "uid-1", u)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, got.ID)
	}

	ok, err := s.ExistsByUID(ctx, "uid-2", calURL)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetByUID(ctx, "uid-2", calURL)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdateByUID(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ev := create(t, s, storage.NewMockEvent(calURL, "uid-1", "Old title", "2024-01-01", "09:00"))
	ev.Memo = "keep me"
	require.NoError(t, s.Update(ctx, &ev))

	remote := ev
	remote.Title = "New title"
	remote.Memo = "ignored"
	remote.StartTime = mo.Some("10:00")
	remote.ETag = `"e2"`
	fields := []model.Field{model.FieldTitle, model.FieldStartTime}
	require.NoError(t, s.UpdateByUID(ctx, "uid-1", calURL+"/", remote, fields))

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, mo.Some("10:00"), got.StartTime)
	assert.Equal(t, "keep me", got.Memo)
	assert.Equal(t, `"e2"`, got.ETag)

	err = s.UpdateByUID(ctx, "missing", calURL, remote, fields)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ev := create(t, s, model.Event{Date: "2024-01-01", Title: "Draft", Source: model.SourceManual})

	ev.Title = "Final"
	ev.StartTime = mo.Some("08:00")
	ev.CalendarURL = calURL + "/"
	require.NoError(t, s.Update(ctx, &ev))

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.Equal(t, mo.Some("08:00"), got.StartTime)
	assert.Equal(t, calURL, got.CalendarURL)

	missing := ev
	missing.ID = 9999
	assert.ErrorIs(t, s.Update(ctx, &missing), storage.ErrNotFound)
}

func testAttachUID(t *testing.T, s storage.Store) {
	ctx := context.Background()
	manual := create(t, s, model.Event{Date: "2024-01-01", Title: "Mine", CalendarURL: calURL, Source: model.SourceManual})
	taken := create(t, s, storage.NewMockEvent(calURL, "taken", "Other", "2024-01-02", ""))

	require.NoError(t, s.AttachUID(ctx, manual.ID, "fresh", `"e1"`))
	got, err := s.Get(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.CaldavUID)
	assert.Equal(t, model.SourceCalDAV, got.Source)
	assert.Equal(t, `"e1"`, got.ETag)

	assert.ErrorIs(t, s.AttachUID(ctx, manual.ID, taken.CaldavUID, ""), storage.ErrConflict)
	assert.ErrorIs(t, s.AttachUID(ctx, 9999, "x", ""), storage.ErrNotFound)
	assert.ErrorIs(t, s.AttachUID(ctx, manual.ID, "", ""), storage.ErrInvalidInput)
}

func testFindByDetails(t *testing.T, s storage.Store) {
	ctx := context.Background()
	timed := create(t, s, storage.NewMockEvent(calURL, "", "Standup", "2024-01-01", "09:00"))
	create(t, s, storage.NewMockEvent(calURL, "", "Standup", "2024-01-01", ""))
	create(t, s, storage.NewMockEvent(calURL+"-other", "", "Standup", "2024-01-01", "09:00"))

	d := model.Details{Title: "Standup", Date: "2024-01-01", StartTime: mo.Some("09:00"), CalendarURL: calURL + "/"}
	found, err := s.FindByDetails(ctx, d)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, timed.ID, found[0].ID)

	d.EndTime = mo.Some("09:15")
	found, err = s.FindByDetails(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testListByCalendar(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := create(t, s, storage.NewMockEvent(calURL, "a", "A", "2024-01-01", ""))
	b := create(t, s, storage.NewMockEvent(calURL, "b", "B", "2024-01-02", ""))
	create(t, s, model.Event{Date: "2024-01-03", Title: "Manual", CalendarURL: calURL, Source: model.SourceManual})
	create(t, s, storage.NewMockEvent(calURL+"-other", "c", "C", "2024-01-04", ""))

	caldav, err := s.ListByCalendar(ctx, calURL+"/", model.SourceCalDAV)
	require.NoError(t, err)
	require.Len(t, caldav, 2)
	assert.Equal(t, a.ID, caldav[0].ID)
	assert.Equal(t, b.ID, caldav[1].ID)

	all, err := s.ListByCalendar(ctx, calURL, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := create(t, s, storage.NewMockEvent(calURL, "a", "A", "2024-01-01", ""))
	b := create(t, s, storage.NewMockEvent(calURL, "b", "B", "2024-01-02", ""))
	c := create(t, s, storage.NewMockEvent(calURL, "c", "C", "2024-01-03", ""))

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), storage.ErrNotFound)

	n, err := s.DeleteBatch(ctx, []int64{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteBatch(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := s.ListByCalendar(ctx, calURL, "")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func testTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := storage.Credential{ServerURL: "https://dav.example.com/", Username: "alice"}
	bob := storage.Credential{ServerURL: "https://dav.example.com", Username: "bob"}

	tokens, err := s.LoadTokens(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	require.NoError(t, s.SaveTokens(ctx, alice, map[string]string{calURL + "/": "tok-1"}))
	require.NoError(t, s.SaveTokens(ctx, bob, map[string]string{calURL: "tok-b"}))

	tokens, err = s.LoadTokens(ctx, storage.Credential{ServerURL: "https://dav.example.com", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{calURL: "tok-1"}, tokens)

	tokens[calURL] = "mutated"
	again, err := s.LoadTokens(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", again[calURL])

	require.NoError(t, s.SaveTokens(ctx, alice, map[string]string{}))
	tokens, err = s.LoadTokens(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	tokens, err = s.LoadTokens(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "tok-b", tokens[calURL])
}

func testCalendars(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertCalendar(ctx, model.CalendarMetadata{
		URL:         calURL + "/",
		DisplayName: "Work",
		Color:       "#123456",
		IsVisible:   true,
		Type:        model.CalendarCalDAV,
	}))
	require.NoError(t, s.UpsertCalendar(ctx, model.CalendarMetadata{
		URL:             "local://holidays",
		DisplayName:     "Holidays",
		IsLocal:         true,
		Type:            model.CalendarSubscription,
		SubscriptionURL: "https://example.com/holidays.ics",
	}))
	assert.ErrorIs(t, s.UpsertCalendar(ctx, model.CalendarMetadata{URL: "  "}), storage.ErrInvalidInput)

	cal, err := s.GetCalendar(ctx, calURL)
	require.NoError(t, err)
	assert.Equal(t, calURL, cal.URL)
	assert.Equal(t, "Work", cal.DisplayName)
	assert.True(t, cal.IsVisible)

	require.NoError(t, s.SetVisible(ctx, calURL+"/", false))
	cal, err = s.GetCalendar(ctx, calURL+"/")
	require.NoError(t, err)
	assert.False(t, cal.IsVisible)

	require.NoError(t, s.UpsertCalendar(ctx, model.CalendarMetadata{URL: calURL, DisplayName: "Renamed", Type: model.CalendarCalDAV}))
	all, err := s.ListCalendars(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = s.GetCalendar(ctx, "https://nowhere")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.SetVisible(ctx, "https://nowhere", true), storage.ErrNotFound)
}
