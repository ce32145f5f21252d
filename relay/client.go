package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/samber/mo"
)

// ClientConfig configures a relay-backed transport.
type ClientConfig struct {
	// Endpoint is the relay URL.
	Endpoint string
	// ServerURL, Username and Password are forwarded to the CalDAV server.
	ServerURL string
	Username  string
	Password  string
	Tokens    TokenSource
	// HTTPClient defaults to a client with a 60 second timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements the sync transport on top of a relay. A 401 from the
// relay forces one token refresh and one retry.
type Client struct {
	endpoint string
	cfg      ClientConfig
	tokens   TokenSource
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid relay endpoint %q", cfg.Endpoint)
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if cfg.ServerURL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("server URL, username and password are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		endpoint: u.String(),
		cfg:      cfg,
		tokens:   cfg.Tokens,
		http:     httpClient,
		logger:   logger.With("relay", u.Redacted()),
	}, nil
}

// Error is a failed relay call.
type Error struct {
	Status   int
	Response ErrorResponse
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("relay: status %d: %s", e.Status, e.Response.Error)
	if e.Response.Details != "" {
		msg += ": " + e.Response.Details
	}
	return msg
}

// Is maps relay and upstream statuses onto the davclient sentinels.
func (e *Error) Is(target error) bool {
	upstream := e.Response.UpstreamStatus
	switch target {
	case davclient.ErrPreconditionFailed:
		return e.Status == http.StatusPreconditionFailed
	case davclient.ErrNotFound:
		return upstream == http.StatusNotFound || upstream == http.StatusGone
	case davclient.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized ||
			upstream == http.StatusUnauthorized || upstream == http.StatusForbidden
	}
	return false
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	req.ServerURL = c.cfg.ServerURL
	req.Username = c.cfg.Username
	req.Password = c.cfg.Password
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode relay request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx, attempt > 0)
		if err != nil {
			return fmt.Errorf("failed to get relay token: %w", err)
		}

		status, data, err := c.post(ctx, token, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.logger.Debug("relay rejected token, refreshing", "action", req.Action)
			continue
		}
		if status != http.StatusOK {
			relayErr := &Error{Status: status}
			if err := json.Unmarshal(data, &relayErr.Response); err != nil || relayErr.Response.Error == "" {
				relayErr.Response.Error = http.StatusText(status)
			}
			return fmt.Errorf("%s: %w", req.Action, relayErr)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", req.Action, err)
		}
		return nil
	}
}

func (c *Client) post(ctx context.Context, token string, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read relay response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) ListCalendars(ctx context.Context) ([]davclient.Calendar, error) {
	var cals []davclient.Calendar
	if err := c.call(ctx, Request{Action: ActionListCalendars}, &cals); err != nil {
		return nil, err
	}
	return cals, nil
}

func (c *Client) FetchEvents(ctx context.Context, calendarURL string, start, end time.Time) ([]model.Event, error) {
	var events []model.Event
	req := Request{
		Action:      ActionFetchEvents,
		CalendarURL: calendarURL,
		StartDate:   formatDate(start),
		EndDate:     formatDate(end),
	}
	if err := c.call(ctx, req, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) GetSyncToken(ctx context.Context, calendarURL string) (mo.Option[string], error) {
	var resp SyncTokenResponse
	if err := c.call(ctx, Request{Action: ActionGetSyncToken, CalendarURL: calendarURL}, &resp); err != nil {
		return mo.None[string](), err
	}
	if v, ok := resp.SyncToken.Get(); !ok || v == "" {
		return mo.None[string](), nil
	}
	return resp.SyncToken, nil
}

func (c *Client) SyncCollection(ctx context.Context, calendarURL, token string) (*davclient.SyncResult, error) {
	var res davclient.SyncResult
	req := Request{Action: ActionSyncCollection, CalendarURL: calendarURL, SyncToken: token}
	if err := c.call(ctx, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PutEvent uses createEvent without an ETag and updateEvent with one.
func (c *Client) PutEvent(ctx context.Context, calendarURL, uid string, data []byte, etag string) (string, error) {
	action := ActionCreateEvent
	if etag != "" {
		action = ActionUpdateEvent
	}
	var resp WriteResponse
	req := Request{Action: action, CalendarURL: calendarURL, EventUID: uid, EventData: string(data), ETag: etag}
	if err := c.call(ctx, req, &resp); err != nil {
		return "", err
	}
	return resp.ETag, nil
}

func (c *Client) DeleteEvent(ctx context.Context, calendarURL, uid, etag string) error {
	req := Request{Action: ActionDeleteEvent, CalendarURL: calendarURL, EventUID: uid, ETag: etag}
	return c.call(ctx, req, nil)
}
