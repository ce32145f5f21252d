package xml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// ErrNotMultistatus is returned when a body does not have a multistatus root.
var ErrNotMultistatus = errors.New("not a multistatus document")

// Multistatus is a parsed 207 body.
type Multistatus struct {
	Responses []Response
	SyncToken string
}

// Response is one response element. Props holds the properties of every
// propstat with a 2xx (or missing) status, keyed by local name. Lookups
// ignore namespace prefixes, so "d:href", "D:href" and "href" are the same.
type Response struct {
	Href   string
	Status int
	Props  map[string]*etree.Element
}

// ParseMultistatus parses a multistatus body.
func ParseMultistatus(data []byte) (*Multistatus, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "multistatus" {
		return nil, ErrNotMultistatus
	}

	ms := &Multistatus{}
	if tok := root.SelectElement("sync-token"); tok != nil {
		ms.SyncToken = strings.TrimSpace(text(tok))
	}

	for _, respElem := range root.SelectElements("response") {
		resp := Response{Props: make(map[string]*etree.Element)}
		if href := respElem.SelectElement("href"); href != nil {
			resp.Href = strings.TrimSpace(text(href))
		}
		if status := respElem.SelectElement("status"); status != nil {
			resp.Status = StatusCode(text(status))
		}
		for _, propstat := range respElem.SelectElements("propstat") {
			if status := propstat.SelectElement("status"); status != nil {
				if code := StatusCode(text(status)); code != 0 && (code < 200 || code > 299) {
					continue
				}
			}
			prop := propstat.SelectElement("prop")
			if prop == nil {
				continue
			}
			for _, p := range prop.ChildElements() {
				resp.Props[p.Tag] = p
			}
		}
		ms.Responses = append(ms.Responses, resp)
	}
	return ms, nil
}

// StatusCode extracts the code from a status line like "HTTP/1.1 404 Not
// Found". It returns 0 when none can be found.
func StatusCode(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// Gone reports whether the response marks a removed resource.
func (r Response) Gone() bool {
	return r.Status == 404 || r.Status == 410
}

// Has reports whether prop was returned with a success status.
func (r Response) Has(prop string) bool {
	_, ok := r.Props[prop]
	return ok
}

// Text returns the trimmed text of prop.
func (r Response) Text(prop string) string {
	el, ok := r.Props[prop]
	if !ok {
		return ""
	}
	return strings.TrimSpace(text(el))
}

// NestedHref returns the href nested in prop, as used by current-user-principal
// and calendar-home-set.
func (r Response) NestedHref(prop string) string {
	el, ok := r.Props[prop]
	if !ok {
		return ""
	}
	if href := el.SelectElement("href"); href != nil {
		return strings.TrimSpace(text(href))
	}
	return ""
}

// HasResourceType reports whether resourcetype contains kind.
func (r Response) HasResourceType(kind string) bool {
	el, ok := r.Props["resourcetype"]
	if !ok {
		return false
	}
	return el.SelectElement(kind) != nil
}

// IsCalendar reports whether the resource is a calendar collection.
func (r Response) IsCalendar() bool {
	return r.HasResourceType("calendar")
}

// IsScheduleBox reports whether the resource is a scheduling inbox or outbox.
func (r Response) IsScheduleBox() bool {
	return r.HasResourceType("schedule-inbox") || r.HasResourceType("schedule-outbox")
}

// ETag returns getetag.
func (r Response) ETag() string { return r.Text("getetag") }

// CalendarData returns calendar-data.
func (r Response) CalendarData() string { return r.Text("calendar-data") }

// text joins all character data directly under el, CDATA included.
func text(el *etree.Element) string {
	var sb strings.Builder
	for _, tok := range el.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			sb.WriteString(cd.Data)
		}
	}
	return sb.String()
}

// ErrorCondition returns the local name of the first precondition inside a
// DAV:error body, e.g. "valid-sync-token". It returns "" for anything else.
func ErrorCondition(data []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil || root.Tag != "error" {
		return ""
	}
	if children := root.ChildElements(); len(children) > 0 {
		return children[0].Tag
	}
	return ""
}
