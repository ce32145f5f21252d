// Package davclient talks to a CalDAV server: calendar discovery, event
// queries, incremental sync-collection reports and conditional writes.
package davclient

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sync/internal/httpclient"
	"github.com/cyp0633/caldora-sync/internal/ics"
	"github.com/cyp0633/caldora-sync/model"
)

// DefaultWindow is how far FetchEvents looks back and ahead when no bounds
// are given.
const DefaultWindow = 365 * 24 * time.Hour

var (
	// ErrCalendarsNotFound is returned when neither the guessed calendar home
	// nor well-known discovery yields any calendar.
	ErrCalendarsNotFound = errors.New("calendars not found")
	// ErrPreconditionFailed is returned when a conditional write is rejected
	// because the remote resource changed.
	ErrPreconditionFailed = httpclient.ErrPreconditionFailed
	// ErrNotFound matches 404 and 410 responses.
	ErrNotFound = httpclient.ErrNotFound
	// ErrUnauthorized matches 401 and 403 responses.
	ErrUnauthorized = httpclient.ErrUnauthorized
	// ErrInvalidSyncToken is returned by SyncCollection when the server no
	// longer accepts the token. Callers should run a full fetch.
	ErrInvalidSyncToken = errors.New("sync token rejected by server")
)

// Config holds what is needed to reach one CalDAV account.
type Config struct {
	ServerURL string
	Username  string
	Password  string
	// HTTPClient is the base client; its transport gets wrapped with Basic
	// auth. Defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Calendar is one entry returned by ListCalendars.
type Calendar struct {
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
	Color       string `json:"color,omitempty"`
}

// SyncResult is the outcome of a sync-collection report.
type SyncResult struct {
	Events       []model.Event `json:"events"`
	Deleted      []string      `json:"deleted"`
	HasDeletions bool          `json:"hasDeletions"`
	SyncToken    string        `json:"syncToken"`
}

// Client is a CalDAV client bound to one credential. It keeps no state
// between calls.
type Client struct {
	http       httpclient.HttpClientWrapper
	httpClient *http.Client
	serverURL  *url.URL
	username   string
	codec      *ics.Codec
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	serverURL, err := url.Parse(strings.TrimSpace(cfg.ServerURL))
	if err != nil || serverURL.Host == "" || (serverURL.Scheme != "http" && serverURL.Scheme != "https") {
		return nil, fmt.Errorf("invalid server URL %q", cfg.ServerURL)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("username and password are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	authed := &http.Client{
		Transport:     httpclient.NewBasicAuthTransport(cfg.Username, cfg.Password, base.Transport, logger),
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}

	return &Client{
		http:       httpclient.NewHttpClientWrapper(authed, *serverURL, logger),
		httpClient: authed,
		serverURL:  serverURL,
		username:   cfg.Username,
		codec:      ics.New(logger),
		logger:     logger.With("server", serverURL.Redacted(), "user", cfg.Username),
		now:        time.Now,
	}, nil
}

// collectionURL returns calendarURL with exactly one trailing slash. Some
// servers redirect slash-less collection URLs, and Go's client turns a
// redirected PROPFIND or REPORT into a GET.
func collectionURL(calendarURL string) string {
	return model.NormalizeURL(calendarURL) + "/"
}

// objectURL is the resource holding the event with uid.
func objectURL(calendarURL, uid string) string {
	return collectionURL(calendarURL) + url.PathEscape(uid) + ".ics"
}

// resolve turns href into an absolute URL relative to base.
func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	return b.ResolveReference(ref).String(), nil
}
