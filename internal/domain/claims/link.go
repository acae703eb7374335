package claims

import (
	"net/url"
	"strings"
)

// Link returns the claim URL distributed to attendees, typically as a QR
// payload: {base}/{eventID}?code={code}.
func Link(base, eventID, code string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(eventID) + "?code=" + url.QueryEscape(code)
}
