// Package relay exposes the CalDAV transport as a JSON endpoint and provides
// a transport that talks to such an endpoint. Clients that cannot reach a
// CalDAV server directly (browser CORS, restricted networks) sync through it.
package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyp0633/caldora-sync/model"
	"github.com/samber/mo"
)

// Action selects the transport operation of a Request.
type Action string

const (
	ActionListCalendars  Action = "listCalendars"
	ActionFetchEvents    Action = "fetchEvents"
	ActionGetSyncToken   Action = "getSyncToken"
	ActionSyncCollection Action = "syncCollection"
	ActionCreateEvent    Action = "createEvent"
	ActionUpdateEvent    Action = "updateEvent"
	ActionDeleteEvent    Action = "deleteEvent"
)

// Request is the body of every relay call.
type Request struct {
	ServerURL   string `json:"serverUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Action      Action `json:"action"`
	CalendarURL string `json:"calendarUrl,omitempty"`
	// StartDate and EndDate are RFC 3339 timestamps or plain dates.
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	SyncToken string `json:"syncToken,omitempty"`
	EventData string `json:"eventData,omitempty"`
	EventUID  string `json:"eventUid,omitempty"`
	ETag      string `json:"etag,omitempty"`
}

// missingField names the first required field absent from r, or "".
func (r Request) missingField() string {
	switch {
	case r.ServerURL == "":
		return "serverUrl"
	case r.Username == "":
		return "username"
	case r.Password == "":
		return "password"
	case r.Action == "":
		return "action"
	}

	switch r.Action {
	case ActionFetchEvents, ActionGetSyncToken:
		if r.CalendarURL == "" {
			return "calendarUrl"
		}
	case ActionSyncCollection:
		if r.CalendarURL == "" {
			return "calendarUrl"
		}
		if r.SyncToken == "" {
			return "syncToken"
		}
	case ActionCreateEvent, ActionUpdateEvent:
		if r.CalendarURL == "" {
			return "calendarUrl"
		}
		if r.EventUID == "" {
			return "eventUid"
		}
		if r.EventData == "" {
			return "eventData"
		}
	case ActionDeleteEvent:
		if r.CalendarURL == "" {
			return "calendarUrl"
		}
		if r.EventUID == "" {
			return "eventUid"
		}
	}
	return ""
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// UpstreamStatus is the CalDAV server's status when it caused the failure.
	UpstreamStatus int `json:"upstreamStatus,omitempty"`
}

// SyncTokenResponse answers getSyncToken; a missing token is null.
type SyncTokenResponse struct {
	SyncToken mo.Option[string] `json:"syncToken"`
}

// WriteResponse answers createEvent, updateEvent and deleteEvent.
type WriteResponse struct {
	Success bool   `json:"success"`
	ETag    string `json:"etag,omitempty"`
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(model.DateLayout, v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string, upstream int) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details, UpstreamStatus: upstream})
}
