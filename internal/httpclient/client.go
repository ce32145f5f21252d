package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/beevik/etree"
	"github.com/cyp0633/caldora-sync/internal/xml"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 32 << 20

// HttpClientWrapper wraps http.Client with CalDAV-specific functionality
type HttpClientWrapper interface {
	DoPROPFIND(ctx context.Context, url string, depth int, props ...xml.Name) (*xml.Multistatus, error)
	DoREPORT(ctx context.Context, url string, depth int, query *etree.Document) (*xml.Multistatus, error)
	DoGET(ctx context.Context, url string) (data []byte, etag string, err error)
	DoPUT(ctx context.Context, url string, etag string, data []byte) (newEtag string, err error)
	DoDELETE(ctx context.Context, url string, etag string) error
	ResolveURL(url string) (*url.URL, error)
}

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// NewHttpClientWrapper creates a new client wrapper. Relative URLs passed to
// the Do methods are resolved against baseURL.
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) HttpClientWrapper {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}
}

// ResolveURL resolves a URL string against the base URL
func (c *httpClientWrapper) ResolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// do sends one request and reads the whole response body.
func (c *httpClientWrapper) do(ctx context.Context, method, urlStr string, body []byte, header http.Header) (*http.Response, []byte, error) {
	resolved, err := c.ResolveURL(urlStr)
	if err != nil {
		return nil, nil, err
	}
	c.logger.Debug("starting request", "method", method, "url", resolved.Redacted(), "body_length", len(body))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "error", err)
		return nil, nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	c.logger.Debug("received response", "method", method, "status", resp.Status, "body_length", len(data))
	return resp, data, nil
}

func (c *httpClientWrapper) multistatus(ctx context.Context, method, urlStr string, depth int, doc *etree.Document) (*xml.Multistatus, error) {
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s body: %w", method, err)
	}
	header := http.Header{}
	header.Set("Depth", fmt.Sprintf("%d", depth))
	header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, data, err := c.do(ctx, method, urlStr, body, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, newStatusError(method, resp.Request.URL, resp.StatusCode, data)
	}

	ms, err := xml.ParseMultistatus(data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, resp.Request.URL.Redacted(), err)
	}
	c.logger.Debug("parsed multistatus", "method", method, "response_count", len(ms.Responses))
	return ms, nil
}
