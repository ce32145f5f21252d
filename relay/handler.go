package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/internal/httpclient"
	"github.com/cyp0633/caldora-sync/model"
	"github.com/cyp0633/caldora-sync/syncengine"
)

const maxRequestBody = 4 << 20

// TransportFactory builds the upstream client for one request.
type TransportFactory func(cfg davclient.Config) (syncengine.Transport, error)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// HTTPClient is shared by every upstream client.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// NewTransport defaults to davclient.NewClient.
	NewTransport TransportFactory
}

// Handler serves relay requests. It keeps no state between requests; wrap
// it in Middleware to require a bearer token.
type Handler struct {
	httpClient   *http.Client
	logger       *slog.Logger
	newTransport TransportFactory
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	factory := cfg.NewTransport
	if factory == nil {
		factory = func(c davclient.Config) (syncengine.Transport, error) {
			return davclient.NewClient(c)
		}
	}
	return &Handler{
		httpClient:   cfg.HTTPClient,
		logger:       logger,
		newTransport: factory,
	}
}

// ServeHTTP implements http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", r.Method, 0)
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error(), 0)
		return
	}
	if field := req.missingField(); field != "" {
		writeError(w, http.StatusBadRequest, "missing required field", field, 0)
		return
	}

	logger := h.logger.With("action", req.Action, "user", req.Username)
	if p := GetPrincipalFromContext(r.Context()); p != nil {
		logger = logger.With("principal", p.ID)
	}

	transport, err := h.newTransport(davclient.Config{
		ServerURL:  req.ServerURL,
		Username:   req.Username,
		Password:   req.Password,
		HTTPClient: h.httpClient,
		Logger:     h.logger,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server configuration", err.Error(), 0)
		return
	}

	resp, err := h.dispatch(r.Context(), transport, req)
	if err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			writeError(w, http.StatusBadRequest, reqErr.msg, reqErr.details, 0)
			return
		}
		status, upstream := upstreamStatus(err)
		logger.Warn("relay request failed", "status", status, "upstream", upstream, "error", err)
		writeError(w, status, "upstream request failed", err.Error(), upstream)
		return
	}

	logger.Debug("relay request served")
	writeJSON(w, http.StatusOK, resp)
}

type requestError struct {
	msg     string
	details string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg, e.details)
}

func (h *Handler) dispatch(ctx context.Context, t syncengine.Transport, req Request) (any, error) {
	switch req.Action {
	case ActionListCalendars:
		cals, err := t.ListCalendars(ctx)
		if err != nil {
			return nil, err
		}
		if cals == nil {
			cals = []davclient.Calendar{}
		}
		return cals, nil

	case ActionFetchEvents:
		start, err := parseDate(req.StartDate)
		if err != nil {
			return nil, &requestError{msg: "invalid startDate", details: err.Error()}
		}
		end, err := parseDate(req.EndDate)
		if err != nil {
			return nil, &requestError{msg: "invalid endDate", details: err.Error()}
		}
		events, err := t.FetchEvents(ctx, req.CalendarURL, start, end)
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []model.Event{}
		}
		return events, nil

	case ActionGetSyncToken:
		tok, err := t.GetSyncToken(ctx, req.CalendarURL)
		if err != nil {
			return nil, err
		}
		return SyncTokenResponse{SyncToken: tok}, nil

	case ActionSyncCollection:
		res, err := t.SyncCollection(ctx, req.CalendarURL, req.SyncToken)
		if err != nil {
			return nil, err
		}
		if res.Events == nil {
			res.Events = []model.Event{}
		}
		if res.Deleted == nil {
			res.Deleted = []string{}
		}
		return res, nil

	case ActionCreateEvent, ActionUpdateEvent:
		etag, err := t.PutEvent(ctx, req.CalendarURL, req.EventUID, []byte(req.EventData), req.ETag)
		if err != nil {
			return nil, err
		}
		return WriteResponse{Success: true, ETag: etag}, nil

	case ActionDeleteEvent:
		if err := t.DeleteEvent(ctx, req.CalendarURL, req.EventUID, req.ETag); err != nil {
			return nil, err
		}
		return WriteResponse{Success: true}, nil
	}

	return nil, &requestError{msg: "unknown action", details: string(req.Action)}
}

// upstreamStatus maps a transport error to the relay status and the CalDAV
// server's own status, when known. Precondition failures pass through so
// callers can tell a conflict from an outage.
func upstreamStatus(err error) (status, upstream int) {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		upstream = se.Code
	}
	if errors.Is(err, davclient.ErrPreconditionFailed) {
		return http.StatusPreconditionFailed, upstream
	}
	return http.StatusBadGateway, upstream
}
