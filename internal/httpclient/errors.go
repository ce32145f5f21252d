package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cyp0633/caldora-sync/internal/xml"
)

const maxErrorBody = 512

var (
	// ErrPreconditionFailed matches a 412 response to a conditional write.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrNotFound matches 404 and 410 responses.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized matches 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func newStatusError(method string, u *url.URL, code int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Method: method, URL: u.Redacted(), Code: code, Body: string(body)}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Is lets errors.Is match the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrPreconditionFailed:
		return e.Code == http.StatusPreconditionFailed
	case ErrNotFound:
		return e.Code == http.StatusNotFound || e.Code == http.StatusGone
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
	}
	return false
}

// Condition returns the DAV:error precondition named in the response body,
// or "".
func (e *StatusError) Condition() string {
	return xml.ErrorCondition([]byte(e.Body))
}
