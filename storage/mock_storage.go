package storage

import (
	"context"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"
)

// MockEventStore implements the EventStore interface for testing
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) ExistsByUID(ctx context.Context, uid, calendarURL string) (bool, error) {
	args := m.Called(ctx, uid, calendarURL)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) GetByUID(ctx context.Context, uid, calendarURL string) (*model.Event, error) {
	args := m.Called(ctx, uid, calendarURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *MockEventStore) Get(ctx context.Context, id int64) (*model.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *MockEventStore) Create(ctx context.Context, ev *model.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventStore) UpdateByUID(ctx context.Context, uid, calendarURL string, remote model.Event, fields []model.Field) error {
	args := m.Called(ctx, uid, calendarURL, remote, fields)
	return args.Error(0)
}

func (m *MockEventStore) Update(ctx context.Context, ev *model.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventStore) AttachUID(ctx context.Context, id int64, uid, etag string) error {
	args := m.Called(ctx, id, uid, etag)
	return args.Error(0)
}

func (m *MockEventStore) FindByDetails(ctx context.Context, d model.Details) ([]model.Event, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *MockEventStore) ListByCalendar(ctx context.Context, calendarURL string, source model.Source) ([]model.Event, error) {
	args := m.Called(ctx, calendarURL, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *MockEventStore) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEventStore) DeleteBatch(ctx context.Context, ids []int64) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

// --- Helper methods for creating test data ---

// NewMockEvent creates a CalDAV-sourced test event. An empty start makes it
// all-day.
func NewMockEvent(calendarURL, uid, title, date, start string) model.Event {
	ev := model.Event{
		Date:        date,
		Title:       title,
		CalendarURL: calendarURL,
		CaldavUID:   uid,
		Source:      model.SourceCalDAV,
		ETag:        `"etag-` + uid + `-1"`,
	}
	if start != "" {
		ev.StartTime = mo.Some(start)
	}
	return ev
}
