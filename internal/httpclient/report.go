package httpclient

import (
	"context"

	"github.com/beevik/etree"
	"github.com/cyp0633/caldora-sync/internal/xml"
)

// DoREPORT executes a CalDAV REPORT request
func (c *httpClientWrapper) DoREPORT(ctx context.Context, urlStr string, depth int, query *etree.Document) (*xml.Multistatus, error) {
	queryType := ""
	if root := query.Root(); root != nil {
		queryType = root.Tag
	}
	c.logger.Debug("starting REPORT request",
		"url", urlStr,
		"depth", depth,
		"query_type", queryType)
	return c.multistatus(ctx, "REPORT", urlStr, depth, query)
}
