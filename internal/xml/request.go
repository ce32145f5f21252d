package xml

import (
	"time"

	"github.com/beevik/etree"
)

const timeRangeLayout = "20060102T150405Z"

func newDocument(root Name) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	el := doc.CreateElement(root.qualified())
	AddNamespaces(doc)
	return doc, el
}

// PropfindRequest builds a PROPFIND body asking for props.
func PropfindRequest(props ...Name) *etree.Document {
	doc, root := newDocument(Name{DAV, "propfind"})
	prop := createElement(root, Name{DAV, "prop"})
	for _, p := range props {
		createElement(prop, p)
	}
	return doc
}

// CalendarQueryRequest builds a calendar-query REPORT selecting VEVENTs that
// overlap [start, end], returning ETags and calendar data.
func CalendarQueryRequest(start, end time.Time) *etree.Document {
	doc, root := newDocument(Name{CalDAV, "calendar-query"})
	prop := createElement(root, Name{DAV, "prop"})
	createElement(prop, PropGetETag)
	createElement(prop, PropCalendarData)

	filter := createElement(root, Name{CalDAV, "filter"})
	vcal := createElement(filter, Name{CalDAV, "comp-filter"})
	vcal.CreateAttr("name", "VCALENDAR")
	vevent := createElement(vcal, Name{CalDAV, "comp-filter"})
	vevent.CreateAttr("name", "VEVENT")
	tr := createElement(vevent, Name{CalDAV, "time-range"})
	tr.CreateAttr("start", start.UTC().Format(timeRangeLayout))
	tr.CreateAttr("end", end.UTC().Format(timeRangeLayout))
	return doc
}

// SyncCollectionRequest builds an RFC 6578 sync-collection REPORT. An empty
// token asks for the initial state.
func SyncCollectionRequest(token string) *etree.Document {
	doc, root := newDocument(Name{DAV, "sync-collection"})
	createElement(root, PropSyncToken).SetText(token)
	createElement(root, Name{DAV, "sync-level"}).SetText("1")
	prop := createElement(root, Name{DAV, "prop"})
	createElement(prop, PropGetETag)
	createElement(prop, PropCalendarData)
	return doc
}
