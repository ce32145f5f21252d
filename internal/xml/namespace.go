package xml

import "github.com/beevik/etree"

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = "http://calendarserver.org/ns/"
	// AppleICal carries calendar-color on Apple and Nextcloud servers
	AppleICal = "http://apple.com/ns/ical/"
)

var prefixes = map[string]string{
	DAV:            "D",
	CalDAV:         "C",
	CalendarServer: "CS",
	AppleICal:      "A",
}

// Name is a namespaced element name.
type Name struct {
	Space string
	Local string
}

// Properties requested by the client.
var (
	PropResourceType         = Name{DAV, "resourcetype"}
	PropDisplayName          = Name{DAV, "displayname"}
	PropGetETag              = Name{DAV, "getetag"}
	PropGetCTag              = Name{CalendarServer, "getctag"}
	PropSyncToken            = Name{DAV, "sync-token"}
	PropCurrentUserPrincipal = Name{DAV, "current-user-principal"}
	PropCalendarHomeSet      = Name{CalDAV, "calendar-home-set"}
	PropCalendarColor        = Name{AppleICal, "calendar-color"}
	PropCalendarData         = Name{CalDAV, "calendar-data"}
)

// AddNamespaces adds standard CalDAV namespaces to the XML document
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	root.CreateAttr("xmlns:D", DAV)
	root.CreateAttr("xmlns:C", CalDAV)
	root.CreateAttr("xmlns:CS", CalendarServer)
	root.CreateAttr("xmlns:A", AppleICal)
}

func (n Name) qualified() string {
	if p, ok := prefixes[n.Space]; ok {
		return p + ":" + n.Local
	}
	return n.Local
}

func createElement(parent *etree.Element, n Name) *etree.Element {
	return parent.CreateElement(n.qualified())
}
