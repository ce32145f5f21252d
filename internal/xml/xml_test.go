package xml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNamespaces(t *testing.T) {
	doc := PropfindRequest(PropDisplayName)
	root := doc.Root()
	require.NotNil(t, root)

	want := map[string]string{
		"xmlns:D":  DAV,
		"xmlns:C":  CalDAV,
		"xmlns:CS": CalendarServer,
		"xmlns:A":  AppleICal,
	}
	for key, value := range want {
		attr := root.SelectAttr(key)
		require.NotNil(t, attr, key)
		assert.Equal(t, value, attr.Value)
	}
}

func TestPropfindRequest(t *testing.T) {
	doc := PropfindRequest(PropResourceType, PropDisplayName, PropCalendarColor, PropGetCTag)
	root := doc.Root()
	assert.Equal(t, "propfind", root.Tag)
	assert.Equal(t, "D", root.Space)

	prop := root.SelectElement("prop")
	require.NotNil(t, prop)
	children := prop.ChildElements()
	require.Len(t, children, 4)
	assert.Equal(t, "D:resourcetype", children[0].FullTag())
	assert.Equal(t, "D:displayname", children[1].FullTag())
	assert.Equal(t, "A:calendar-color", children[2].FullTag())
	assert.Equal(t, "CS:getctag", children[3].FullTag())

	s, err := doc.WriteToString()
	require.NoError(t, err)
	assert.Contains(t, s, `<?xml version="1.0" encoding="UTF-8"?>`)
}

func TestCalendarQueryRequest(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 23, 59, 59, 0, time.FixedZone("X", 3600))
	root := CalendarQueryRequest(start, end).Root()
	assert.Equal(t, "C:calendar-query", root.FullTag())

	tr := root.FindElement("./filter/comp-filter/comp-filter/time-range")
	require.NotNil(t, tr)
	assert.Equal(t, "20240101T000000Z", tr.SelectAttrValue("start", ""))
	assert.Equal(t, "20241231T225959Z", tr.SelectAttrValue("end", ""))
	assert.Equal(t, "VEVENT", tr.Parent().SelectAttrValue("name", ""))
	assert.NotNil(t, root.FindElement("./prop/calendar-data"))
	assert.NotNil(t, root.FindElement("./prop/getetag"))
}

func TestSyncCollectionRequest(t *testing.T) {
	root := SyncCollectionRequest("http://example.com/sync/42").Root()
	assert.Equal(t, "D:sync-collection", root.FullTag())
	assert.Equal(t, "http://example.com/sync/42", root.SelectElement("sync-token").Text())
	assert.Equal(t, "1", root.SelectElement("sync-level").Text())

	empty := SyncCollectionRequest("").Root()
	require.NotNil(t, empty.SelectElement("sync-token"))
	assert.Equal(t, "", empty.SelectElement("sync-token").Text())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 200, StatusCode("HTTP/1.1 200 OK"))
	assert.Equal(t, 404, StatusCode("  HTTP/1.1 404 Not Found "))
	assert.Equal(t, 0, StatusCode("garbage"))
	assert.Equal(t, 0, StatusCode("HTTP/1.1 abc"))
}

const prefixedListing = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav" xmlns:x1="http://apple.com/ns/ical/">
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/personal/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><cal:calendar/></d:resourcetype>
        <d:displayname>Personal</d:displayname>
        <x1:calendar-color>#0082C9FF</x1:calendar-color>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
    <d:propstat>
      <d:prop><cs:getctag xmlns:cs="http://calendarserver.org/ns/"/></d:prop>
      <d:status>HTTP/1.1 404 Not Found</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/inbox/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/><cal:schedule-inbox/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestParseMultistatusPrefixed(t *testing.T) {
	ms, err := ParseMultistatus([]byte(prefixedListing))
	require.NoError(t, err)
	require.Len(t, ms.Responses, 3)

	home := ms.Responses[0]
	assert.False(t, home.IsCalendar())

	personal := ms.Responses[1]
	assert.Equal(t, "/remote.php/dav/calendars/alice/personal/", personal.Href)
	assert.True(t, personal.IsCalendar())
	assert.False(t, personal.IsScheduleBox())
	assert.Equal(t, "Personal", personal.Text("displayname"))
	assert.Equal(t, "#0082C9FF", personal.Text("calendar-color"))
	assert.False(t, personal.Has("getctag"))

	inbox := ms.Responses[2]
	assert.True(t, inbox.IsScheduleBox())
}

const unprefixedReport = `<?xml version="1.0" encoding="utf-8"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <response>
    <href>/cal/work/1.ics</href>
    <propstat>
      <prop>
        <getetag>"etag-1"</getetag>
        <C:calendar-data><![CDATA[BEGIN:VCALENDAR
BEGIN:VEVENT
UID:1
DTSTART:20240101T100000
END:VEVENT
END:VCALENDAR]]></C:calendar-data>
      </prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
  <response>
    <href>/cal/work/2.ics</href>
    <status>HTTP/1.1 404 Not Found</status>
  </response>
  <sync-token>http://example.com/sync/43</sync-token>
</multistatus>`

func TestParseMultistatusUnprefixed(t *testing.T) {
	ms, err := ParseMultistatus([]byte(unprefixedReport))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/sync/43", ms.SyncToken)
	require.Len(t, ms.Responses, 2)

	changed := ms.Responses[0]
	assert.Equal(t, `"etag-1"`, changed.ETag())
	assert.Contains(t, changed.CalendarData(), "UID:1")
	assert.False(t, changed.Gone())

	removed := ms.Responses[1]
	assert.Equal(t, "/cal/work/2.ics", removed.Href)
	assert.True(t, removed.Gone())
	assert.Empty(t, removed.CalendarData())
}

func TestParseMultistatusNestedHref(t *testing.T) {
	body := `<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/</D:href>
    <D:propstat>
      <D:prop>
        <D:current-user-principal><D:href>/principals/alice/</D:href></D:current-user-principal>
        <C:calendar-home-set><D:href>/calendars/alice/</D:href></C:calendar-home-set>
      </D:prop>
    </D:propstat>
  </D:response>
</D:multistatus>`
	ms, err := ParseMultistatus([]byte(body))
	require.NoError(t, err)
	require.Len(t, ms.Responses, 1)
	assert.Equal(t, "/principals/alice/", ms.Responses[0].NestedHref("current-user-principal"))
	assert.Equal(t, "/calendars/alice/", ms.Responses[0].NestedHref("calendar-home-set"))
	assert.Equal(t, "", ms.Responses[0].NestedHref("missing"))
}

func TestParseMultistatusErrors(t *testing.T) {
	_, err := ParseMultistatus([]byte("<html><body>Login</body></html>"))
	assert.ErrorIs(t, err, ErrNotMultistatus)

	_, err = ParseMultistatus([]byte(""))
	assert.Error(t, err)
}

func TestErrorCondition(t *testing.T) {
	assert.Equal(t, "valid-sync-token",
		ErrorCondition([]byte(`<D:error xmlns:D="DAV:"><D:valid-sync-token/></D:error>`)))
	assert.Equal(t, "no-uid-conflict",
		ErrorCondition([]byte(`<error xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav"><C:no-uid-conflict/></error>`)))
	assert.Equal(t, "", ErrorCondition([]byte(`<D:error xmlns:D="DAV:"/>`)))
	assert.Equal(t, "", ErrorCondition([]byte("Forbidden")))
	assert.Equal(t, "", ErrorCondition(nil))
}
