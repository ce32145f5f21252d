package syncengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/storage"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEventPushes(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	ev := &model.Event{Title: "Dentist", Date: "2024-06-10", StartTime: mo.Some("14:00"), CalendarURL: calA + "/"}
	require.NoError(t, eng.CreateEvent(ctx, ev))

	require.Len(t, tr.puts, 1)
	put := tr.puts[0]
	assert.Equal(t, calA, put.CalendarURL)
	assert.Empty(t, put.ETag)
	assert.Equal(t, ev.CaldavUID, put.UID)
	assert.Contains(t, put.Data, "SUMMARY:Dentist")

	stored, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, put.UID, stored.CaldavUID)
	assert.Equal(t, `"new-etag"`, stored.ETag)
	assert.Equal(t, model.SourceCalDAV, stored.Source)
}

func TestCreateEventHoldsSyncSlot(t *testing.T) {
	tr := newFakeTransport()
	tr.putStarted = make(chan struct{})
	tr.putRelease = make(chan struct{})
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	ev := &model.Event{Title: "Dentist", Date: "2024-06-10", StartTime: mo.Some("09:00"), CalendarURL: calA}
	done := make(chan error, 1)
	go func() { done <- eng.CreateEvent(ctx, ev) }()
	<-tr.putStarted

	busy, err := eng.Sync(ctx, []string{calA})
	require.NoError(t, err)
	assert.True(t, busy.Busy)

	close(tr.putRelease)
	require.NoError(t, <-done)
	require.NotEmpty(t, ev.CaldavUID)

	tr.events[calA] = []model.Event{remoteEvent(ev.CaldavUID, "Dentist", "2024-06-10")}
	res, err := eng.Sync(ctx, []string{calA})
	require.NoError(t, err)
	assert.False(t, res.Busy)
	assert.Equal(t, 0, res.Calendars[0].Created)
	assert.Equal(t, 1, count(t, store, calA))
}

func TestLocalWriteWaitsForContext(t *testing.T) {
	tr := newFakeTransport()
	tr.started = make(chan struct{})
	tr.release = make(chan struct{})
	eng, _ := newTestEngine(t, tr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Sync(context.Background(), []string{calA})
	}()
	<-tr.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := eng.CreateEvent(ctx, &model.Event{Title: "Dentist", Date: "2024-06-10", CalendarURL: calA})
	assert.ErrorIs(t, err, context.Canceled)

	close(tr.release)
	<-done
	assert.Empty(t, tr.puts)
}

func TestCreateEventWithoutCalendarStaysLocal(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	ev := &model.Event{Title: "Note", Date: "2024-06-10"}
	require.NoError(t, eng.CreateEvent(ctx, ev))
	assert.Empty(t, tr.puts)

	stored, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceManual, stored.Source)
	assert.Empty(t, stored.CaldavUID)
}

func TestCreateEventFailedPushKeepsLocalRecord(t *testing.T) {
	tr := newFakeTransport()
	tr.putErr = fmt.Errorf("put: %w", davclient.ErrUnauthorized)
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	ev := &model.Event{Title: "Dentist", Date: "2024-06-10", CalendarURL: calA}
	err := eng.CreateEvent(ctx, ev)
	assert.ErrorIs(t, err, davclient.ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrConflict)

	stored, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CaldavUID)
}

func TestUpdateEventSendsLastETag(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	seeded := storage.NewMockEvent(calA, "u1", "Standup", "2024-06-03", "09:00")
	seeded.RRule = "FREQ=WEEKLY"
	require.NoError(t, store.Create(ctx, &seeded))

	edit := &model.Event{ID: seeded.ID, Title: "Standup (late)", Date: "2024-06-03", StartTime: mo.Some("09:30"), CalendarURL: calA}
	require.NoError(t, eng.UpdateEvent(ctx, edit))

	require.Len(t, tr.puts, 1)
	assert.Equal(t, "u1", tr.puts[0].UID)
	assert.Equal(t, `"etag-u1-1"`, tr.puts[0].ETag)
	assert.Contains(t, tr.puts[0].Data, "RRULE:FREQ=WEEKLY")

	stored, err := store.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standup (late)", stored.Title)
	assert.Equal(t, `"new-etag"`, stored.ETag)
	assert.Equal(t, "FREQ=WEEKLY", stored.RRule)
}

func TestUpdateEventConflict(t *testing.T) {
	tr := newFakeTransport()
	tr.putErr = fmt.Errorf("put: %w", davclient.ErrPreconditionFailed)
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	seeded := storage.NewMockEvent(calA, "u1", "Standup", "2024-06-03", "09:00")
	require.NoError(t, store.Create(ctx, &seeded))

	err := eng.UpdateEvent(ctx, &model.Event{ID: seeded.ID, Title: "Mine", Date: "2024-06-03", CalendarURL: calA})
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, davclient.ErrPreconditionFailed)

	stored, err := store.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", stored.Title)
	assert.Equal(t, `"etag-u1-1"`, stored.ETag)
}

func TestUpdateEventMovesCalendar(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	seeded := storage.NewMockEvent(calA, "u1", "Standup", "2024-06-03", "09:00")
	require.NoError(t, store.Create(ctx, &seeded))

	moved := seeded
	moved.CalendarURL = calB
	require.NoError(t, eng.UpdateEvent(ctx, &moved))

	require.Len(t, tr.deletes, 1)
	assert.Equal(t, putCall{CalendarURL: calA, UID: "u1", ETag: `"etag-u1-1"`}, tr.deletes[0])
	require.Len(t, tr.puts, 1)
	assert.Equal(t, calB, tr.puts[0].CalendarURL)
	assert.Empty(t, tr.puts[0].ETag)

	ev, err := store.GetByUID(ctx, "u1", calB)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, ev.ID)
}

func TestDeleteEvent(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	seeded := storage.NewMockEvent(calA, "u1", "Standup", "2024-06-03", "09:00")
	require.NoError(t, store.Create(ctx, &seeded))

	require.NoError(t, eng.DeleteEvent(ctx, seeded.ID))
	assert.Equal(t, []putCall{{CalendarURL: calA, UID: "u1", ETag: `"etag-u1-1"`}}, tr.deletes)

	_, err := store.Get(ctx, seeded.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteEventConflictKeepsLocal(t *testing.T) {
	tr := newFakeTransport()
	tr.deleteErr = fmt.Errorf("delete: %w", davclient.ErrPreconditionFailed)
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	seeded := storage.NewMockEvent(calA, "u1", "Standup", "2024-06-03", "09:00")
	require.NoError(t, store.Create(ctx, &seeded))

	err := eng.DeleteEvent(ctx, seeded.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.Get(ctx, seeded.ID)
	assert.NoError(t, err)
}

func TestDeleteLocalOnlyEvent(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()

	ev := model.Event{Title: "Note", Date: "2024-06-10", Source: model.SourceManual}
	require.NoError(t, store.Create(ctx, &ev))

	require.NoError(t, eng.DeleteEvent(ctx, ev.ID))
	assert.Empty(t, tr.deletes)
}

func TestWritesToLocalCalendarAreNotPushed(t *testing.T) {
	tr := newFakeTransport()
	eng, store := newTestEngine(t, tr)
	ctx := context.Background()
	require.NoError(t, store.UpsertCalendar(ctx, model.CalendarMetadata{URL: calA, IsLocal: true, Type: model.CalendarLocal}))

	ev := &model.Event{Title: "Offline", Date: "2024-06-10", CalendarURL: calA}
	require.NoError(t, eng.CreateEvent(ctx, ev))
	ev.Title = "Offline 2"
	require.NoError(t, eng.UpdateEvent(ctx, ev))
	require.NoError(t, eng.DeleteEvent(ctx, ev.ID))

	assert.Empty(t, tr.puts)
	assert.Empty(t, tr.deletes)
}
