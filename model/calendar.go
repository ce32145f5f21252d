package model

import "strings"

// CalendarType is the provenance of a calendar.
type CalendarType string

const (
	CalendarLocal        CalendarType = "local"
	CalendarSubscription CalendarType = "subscription"
	CalendarCalDAV       CalendarType = "caldav"
)

// CalendarMetadata describes one calendar known to the client.
type CalendarMetadata struct {
	URL             string       `json:"url"`
	DisplayName     string       `json:"displayName"`
	Color           string       `json:"color,omitempty"`
	IsLocal         bool         `json:"isLocal"`
	IsVisible       bool         `json:"isVisible"`
	Type            CalendarType `json:"type"`
	SubscriptionURL string       `json:"subscriptionUrl,omitempty"`
}

// NormalizeURL strips trailing slashes. Calendar URLs are stored and compared
// in this form.
func NormalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// URLVariants returns the normalized form and its trailing-slash form. Older
// records may have been stored either way.
func URLVariants(u string) []string {
	n := NormalizeURL(u)
	if n == "" {
		return []string{""}
	}
	return []string{n, n + "/"}
}

// SameCalendar compares two calendar URLs after normalization.
func SameCalendar(a, b string) bool {
	return NormalizeURL(a) == NormalizeURL(b)
}

// NormalizeColor turns "#rrggbb", "rrggbb" or "#rrggbbaa" into "#RRGGBB".
// Anything else yields "".
func NormalizeColor(c string) string {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) == 8 {
		c = c[:6]
	}
	if len(c) != 6 {
		return ""
	}
	for _, r := range c {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return ""
		}
	}
	return "#" + strings.ToUpper(c)
}
