package httpclient

import (
	"context"

	"github.com/cyp0633/caldora-sync/internal/xml"
)

// DoPROPFIND performs a PROPFIND request
func (c *httpClientWrapper) DoPROPFIND(ctx context.Context, urlStr string, depth int, props ...xml.Name) (*xml.Multistatus, error) {
	c.logger.Debug("starting PROPFIND request",
		"url", urlStr,
		"depth", depth,
		"properties", len(props))
	return c.multistatus(ctx, "PROPFIND", urlStr, depth, xml.PropfindRequest(props...))
}
