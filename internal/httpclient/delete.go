package httpclient

import (
	"context"
	"net/http"
)

// DoDELETE sends a DELETE request with If-Match header for optimistic locking
func (c *httpClientWrapper) DoDELETE(ctx context.Context, urlStr string, etag string) error {
	header := http.Header{}
	if etag != "" {
		header.Set("If-Match", etag)
	}

	resp, body, err := c.do(ctx, http.MethodDelete, urlStr, nil, header)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.logger.Debug("unexpected status code",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return newStatusError(http.MethodDelete, resp.Request.URL, resp.StatusCode, body)
	}

	c.logger.Debug("DELETE request complete", "status", resp.Status)
	return nil
}
