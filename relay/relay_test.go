package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/internal/httpclient"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/syncengine"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testCal = "https://dav.example.com/calendars/alice/personal"

var (
	_ syncengine.Transport = (*Client)(nil)
	_ syncengine.Transport = (*mockTransport)(nil)
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) ListCalendars(ctx context.Context) ([]davclient.Calendar, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]davclient.Calendar), args.Error(1)
}

func (m *mockTransport) FetchEvents(ctx context.Context, calendarURL string, start, end time.Time) ([]model.Event, error) {
	args := m.Called(ctx, calendarURL, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *mockTransport) GetSyncToken(ctx context.Context, calendarURL string) (mo.Option[string], error) {
	args := m.Called(ctx, calendarURL)
	return args.Get(0).(mo.Option[string]), args.Error(1)
}

func (m *mockTransport) SyncCollection(ctx context.Context, calendarURL, token string) (*davclient.SyncResult, error) {
	args := m.Called(ctx, calendarURL, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*davclient.SyncResult), args.Error(1)
}

func (m *mockTransport) PutEvent(ctx context.Context, calendarURL, uid string, data []byte, etag string) (string, error) {
	args := m.Called(ctx, calendarURL, uid, data, etag)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) DeleteEvent(ctx context.Context, calendarURL, uid, etag string) error {
	args := m.Called(ctx, calendarURL, uid, etag)
	return args.Error(0)
}

type relayFixture struct {
	transport *mockTransport
	configs   []davclient.Config
	server    *httptest.Server
}

func newRelay(t *testing.T, tokens ...string) *relayFixture {
	t.Helper()
	f := &relayFixture{transport: &mockTransport{}}
	h := NewHandler(HandlerConfig{
		NewTransport: func(cfg davclient.Config) (syncengine.Transport, error) {
			f.configs = append(f.configs, cfg)
			return f.transport, nil
		},
	})
	f.server = httptest.NewServer(Middleware(StaticTokens(tokens))(h))
	t.Cleanup(f.server.Close)
	return f
}

func (f *relayFixture) post(t *testing.T, token string, body any) (int, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL, bytes.NewReader(data))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func baseRequest(action Action) Request {
	return Request{
		ServerURL:   "https://dav.example.com",
		Username:    "alice",
		Password:    "secret",
		Action:      action,
		CalendarURL: testCal,
	}
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestHandlerRequiresBearer(t *testing.T) {
	f := newRelay(t, "good")

	for _, token := range []string{"", "bad"} {
		status, body := f.post(t, token, baseRequest(ActionListCalendars))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", decodeError(t, body).Error)
	}
	assert.Empty(t, f.configs)
	f.transport.AssertNotCalled(t, "ListCalendars", mock.Anything)
}

func TestHandlerMissingFields(t *testing.T) {
	f := newRelay(t, "good")

	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"server", func(r *Request) { r.ServerURL = "" }, "serverUrl"},
		{"password", func(r *Request) { r.Password = "" }, "password"},
		{"calendar", func(r *Request) { r.Action = ActionFetchEvents; r.CalendarURL = "" }, "calendarUrl"},
		{"sync token", func(r *Request) { r.Action = ActionSyncCollection }, "syncToken"},
		{"uid", func(r *Request) { r.Action = ActionCreateEvent; r.EventData = "BEGIN:VCALENDAR" }, "eventUid"},
		{"data", func(r *Request) { r.Action = ActionUpdateEvent; r.EventUID = "u1" }, "eventData"},
		{"delete uid", func(r *Request) { r.Action = ActionDeleteEvent }, "eventUid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(ActionListCalendars)
			tt.mutate(&req)
			status, body := f.post(t, "good", req)
			assert.Equal(t, http.StatusBadRequest, status)
			e := decodeError(t, body)
			assert.Equal(t, "missing required field", e.Error)
			assert.Equal(t, tt.field, e.Details)
		})
	}
	assert.Empty(t, f.configs)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	f := newRelay(t, "good")

	status, body := f.post(t, "good", baseRequest("frobnicate"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown action", decodeError(t, body).Error)

	req := baseRequest(ActionFetchEvents)
	req.StartDate = "yesterday"
	status, body = f.post(t, "good", req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid startDate", decodeError(t, body).Error)

	httpReq, err := http.NewRequest(http.MethodGet, f.server.URL, nil)
	require.NoError(t, err)
	httpReq.Header.Set("Authorization", "Bearer good")
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandlerListCalendars(t *testing.T) {
	f := newRelay(t, "good")
	f.transport.On("ListCalendars", mock.Anything).
		Return([]davclient.Calendar{{DisplayName: "Personal", URL: testCal, Color: "#FF0000"}}, nil)

	status, body := f.post(t, "good", baseRequest(ActionListCalendars))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"displayName":"Personal","url":"`+testCal+`","color":"#FF0000"}]`, string(body))

	require.Len(t, f.configs, 1)
	assert.Equal(t, "https://dav.example.com", f.configs[0].ServerURL)
	assert.Equal(t, "alice", f.configs[0].Username)
	assert.Equal(t, "secret", f.configs[0].Password)
}

func TestHandlerFetchEventsParsesDates(t *testing.T) {
	f := newRelay(t, "good")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 12, 30, 0, 0, time.UTC)
	f.transport.On("FetchEvents", mock.Anything, testCal, start, end).Return([]model.Event{{
		Date:      "2024-06-03",
		Title:     "Standup",
		StartTime: mo.Some("09:00"),
		CaldavUID: "u1",
		Source:    model.SourceCalDAV,
	}}, nil)

	req := baseRequest(ActionFetchEvents)
	req.StartDate = "2024-01-01"
	req.EndDate = "2024-12-31T12:30:00Z"
	status, body := f.post(t, "good", req)
	require.Equal(t, http.StatusOK, status)

	var events []map[string]any
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Standup", events[0]["title"])
	assert.Equal(t, "09:00", events[0]["startTime"])
	assert.Nil(t, events[0]["endTime"])
}

func TestHandlerGetSyncTokenNull(t *testing.T) {
	f := newRelay(t, "good")
	f.transport.On("GetSyncToken", mock.Anything, testCal).Return(mo.None[string](), nil)

	status, body := f.post(t, "good", baseRequest(ActionGetSyncToken))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"syncToken":null}`, string(body))
}

func TestHandlerSyncCollection(t *testing.T) {
	f := newRelay(t, "good")
	f.transport.On("SyncCollection", mock.Anything, testCal, "tok-1").
		Return(&davclient.SyncResult{Deleted: []string{testCal + "/gone.ics"}, HasDeletions: true, SyncToken: "tok-2"}, nil)

	req := baseRequest(ActionSyncCollection)
	req.SyncToken = "tok-1"
	status, body := f.post(t, "good", req)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"events":[],"deleted":["`+testCal+`/gone.ics"],"hasDeletions":true,"syncToken":"tok-2"}`, string(body))
}

func TestHandlerWrites(t *testing.T) {
	f := newRelay(t, "good")
	f.transport.On("PutEvent", mock.Anything, testCal, "u1", []byte("BEGIN:VCALENDAR"), "").Return(`"e1"`, nil)
	f.transport.On("PutEvent", mock.Anything, testCal, "u1", []byte("BEGIN:VCALENDAR"), `"stale"`).
		Return("", &httpclient.StatusError{Method: "PUT", Code: http.StatusPreconditionFailed})
	f.transport.On("DeleteEvent", mock.Anything, testCal, "u1", `"e1"`).Return(nil)

	req := baseRequest(ActionCreateEvent)
	req.EventUID = "u1"
	req.EventData = "BEGIN:VCALENDAR"
	status, body := f.post(t, "good", req)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"success":true,"etag":"\"e1\""}`, string(body))

	req.Action = ActionUpdateEvent
	req.ETag = `"stale"`
	status, body = f.post(t, "good", req)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, http.StatusPreconditionFailed, decodeError(t, body).UpstreamStatus)

	del := baseRequest(ActionDeleteEvent)
	del.EventUID = "u1"
	del.ETag = `"e1"`
	status, body = f.post(t, "good", del)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"success":true}`, string(body))
	f.transport.AssertExpectations(t)
}

func TestHandlerUpstreamFailureIsBadGateway(t *testing.T) {
	f := newRelay(t, "good")
	f.transport.On("ListCalendars", mock.Anything).
		Return(nil, fmt.Errorf("%w: %v", davclient.ErrCalendarsNotFound, &httpclient.StatusError{Code: http.StatusInternalServerError}))
	f.transport.On("GetSyncToken", mock.Anything, testCal).
		Return(mo.None[string](), fmt.Errorf("propfind: %w", &httpclient.StatusError{Code: http.StatusUnauthorized}))

	status, body := f.post(t, "good", baseRequest(ActionListCalendars))
	assert.Equal(t, http.StatusBadGateway, status)
	e := decodeError(t, body)
	assert.Equal(t, "upstream request failed", e.Error)
	assert.Contains(t, e.Details, "calendars not found")

	status, body = f.post(t, "good", baseRequest(ActionGetSyncToken))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, http.StatusUnauthorized, decodeError(t, body).UpstreamStatus)
}

func TestStaticTokens(t *testing.T) {
	tokens := StaticTokens{"", "one", "two"}

	p, err := tokens.Authenticate(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "token-2", p.ID)

	_, err = tokens.Authenticate(context.Background(), "")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrMissingToken, authErr.Type)

	_, err = tokens.Authenticate(context.Background(), "three")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ErrInvalidToken, authErr.Type)
}

func TestParseBearer(t *testing.T) {
	tok, err := parseBearer("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Basic YTpi", "Bearer ", "abc"} {
		_, err := parseBearer(h)
		assert.Error(t, err, h)
	}
}

func newRelayClient(t *testing.T, f *relayFixture, tokens TokenSource) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Endpoint:  f.server.URL,
		ServerURL: "https://dav.example.com",
		Username:  "alice",
		Password:  "secret",
		Tokens:    tokens,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(ClientConfig{Endpoint: "ftp://relay", Tokens: StaticToken("x"), ServerURL: "s", Username: "u", Password: "p"})
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{Endpoint: "https://relay.example.com", ServerURL: "s", Username: "u", Password: "p"})
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{Endpoint: "https://relay.example.com", Tokens: StaticToken("x")})
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	f := newRelay(t, "good")
	c := newRelayClient(t, f, StaticToken("good"))
	ctx := context.Background()
	start := time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	f.transport.On("ListCalendars", mock.Anything).Return([]davclient.Calendar{{DisplayName: "Personal", URL: testCal}}, nil)
	f.transport.On("FetchEvents", mock.Anything, testCal, start, end).Return([]model.Event{{
		Date: "2024-06-03", Title: "All day", CaldavUID: "u1", Source: model.SourceCalDAV,
	}}, nil)
	f.transport.On("GetSyncToken", mock.Anything, testCal).Return(mo.Some("tok-1"), nil)
	f.transport.On("SyncCollection", mock.Anything, testCal, "tok-1").Return(&davclient.SyncResult{SyncToken: "tok-2"}, nil)
	f.transport.On("PutEvent", mock.Anything, testCal, "u1", []byte("ICS"), "").Return(`"e1"`, nil)
	f.transport.On("DeleteEvent", mock.Anything, testCal, "u1", `"e1"`).Return(nil)

	cals, err := c.ListCalendars(ctx)
	require.NoError(t, err)
	assert.Equal(t, []davclient.Calendar{{DisplayName: "Personal", URL: testCal}}, cals)

	events, err := c.FetchEvents(ctx, testCal, start, end)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsAllDay())
	assert.Equal(t, "u1", events[0].CaldavUID)

	tok, err := c.GetSyncToken(ctx, testCal)
	require.NoError(t, err)
	assert.Equal(t, mo.Some("tok-1"), tok)

	res, err := c.SyncCollection(ctx, testCal, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", res.SyncToken)
	assert.False(t, res.HasDeletions)

	etag, err := c.PutEvent(ctx, testCal, "u1", []byte("ICS"), "")
	require.NoError(t, err)
	assert.Equal(t, `"e1"`, etag)

	require.NoError(t, c.DeleteEvent(ctx, testCal, "u1", `"e1"`))
	f.transport.AssertExpectations(t)
}

func TestClientMapsErrors(t *testing.T) {
	f := newRelay(t, "good")
	c := newRelayClient(t, f, StaticToken("good"))
	ctx := context.Background()

	f.transport.On("PutEvent", mock.Anything, testCal, "u1", []byte("ICS"), `"old"`).
		Return("", &httpclient.StatusError{Code: http.StatusPreconditionFailed})
	f.transport.On("DeleteEvent", mock.Anything, testCal, "u1", "").
		Return(&httpclient.StatusError{Code: http.StatusForbidden})
	f.transport.On("GetSyncToken", mock.Anything, testCal).Return(mo.None[string](), nil)

	_, err := c.PutEvent(ctx, testCal, "u1", []byte("ICS"), `"old"`)
	assert.ErrorIs(t, err, davclient.ErrPreconditionFailed)

	err = c.DeleteEvent(ctx, testCal, "u1", "")
	assert.ErrorIs(t, err, davclient.ErrUnauthorized)
	assert.NotErrorIs(t, err, davclient.ErrPreconditionFailed)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, http.StatusBadGateway, relayErr.Status)

	tok, err := c.GetSyncToken(ctx, testCal)
	require.NoError(t, err)
	assert.True(t, tok.IsAbsent())
}

func TestClientRefreshesTokenOnceOn401(t *testing.T) {
	f := newRelay(t, "fresh")
	f.transport.On("ListCalendars", mock.Anything).Return([]davclient.Calendar{}, nil)

	var fetches atomic.Int32
	source := NewRefreshingTokenSource(func(context.Context) (string, time.Time, error) {
		if fetches.Add(1) == 1 {
			return "revoked", time.Time{}, nil
		}
		return "fresh", time.Time{}, nil
	}, time.Minute)
	c := newRelayClient(t, f, source)

	_, err := c.ListCalendars(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetches.Load())

	_, err = c.ListCalendars(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetches.Load())
}

func TestClientGivesUpAfterOneRetry(t *testing.T) {
	f := newRelay(t, "nobody-has-this")

	var fetches atomic.Int32
	source := NewRefreshingTokenSource(func(context.Context) (string, time.Time, error) {
		fetches.Add(1)
		return "wrong", time.Time{}, nil
	}, 0)
	c := newRelayClient(t, f, source)

	_, err := c.ListCalendars(context.Background())
	assert.ErrorIs(t, err, davclient.ErrUnauthorized)
	assert.EqualValues(t, 2, fetches.Load())
}

func TestRefreshingTokenSourceExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var fetches int
	source := NewRefreshingTokenSource(func(context.Context) (string, time.Time, error) {
		fetches++
		return fmt.Sprintf("t%d", fetches), now.Add(10 * time.Minute), nil
	}, time.Minute)
	source.now = func() time.Time { return now }
	ctx := context.Background()

	tok, err := source.Token(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "t1", tok)

	now = now.Add(5 * time.Minute)
	tok, _ = source.Token(ctx, false)
	assert.Equal(t, "t1", tok)

	now = now.Add(4*time.Minute + 30*time.Second)
	tok, _ = source.Token(ctx, false)
	assert.Equal(t, "t2", tok)

	tok, _ = source.Token(ctx, true)
	assert.Equal(t, "t3", tok)

	failing := NewRefreshingTokenSource(func(context.Context) (string, time.Time, error) {
		return "", time.Time{}, errors.New("idp down")
	}, 0)
	_, err = failing.Token(ctx, false)
	assert.ErrorContains(t, err, "idp down")
}
