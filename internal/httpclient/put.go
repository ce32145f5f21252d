package httpclient

import (
	"context"
	"net/http"
)

// DoGET fetches a single resource.
func (c *httpClientWrapper) DoGET(ctx context.Context, urlStr string) ([]byte, string, error) {
	resp, data, err := c.do(ctx, http.MethodGet, urlStr, nil, nil)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", newStatusError(http.MethodGet, resp.Request.URL, resp.StatusCode, data)
	}
	return data, resp.Header.Get("ETag"), nil
}

// DoPUT writes data. A non-empty etag is sent as If-Match so the write fails
// with ErrPreconditionFailed when the resource changed on the server.
func (c *httpClientWrapper) DoPUT(ctx context.Context, urlStr string, etag string, data []byte) (newEtag string, err error) {
	header := http.Header{}
	header.Set("Content-Type", "text/calendar; charset=utf-8")
	if etag != "" {
		header.Set("If-Match", etag)
	}

	resp, body, err := c.do(ctx, http.MethodPut, urlStr, data, header)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		c.logger.Debug("unexpected status code",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return "", newStatusError(http.MethodPut, resp.Request.URL, resp.StatusCode, body)
	}

	newEtag = resp.Header.Get("ETag")
	c.logger.Debug("PUT request complete",
		"status", resp.Status,
		"new_etag", newEtag)
	return newEtag, nil
}
