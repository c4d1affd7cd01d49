package patrol

import "strings"

// infraMarkers are matched in order of specificity against a lowered
// error message. Anything matching is an infrastructure failure
// (transport/browser trouble); anything else is a content failure.
// This string classifier is a fallback for errors originating in the
// driver; within the engine the distinction is carried explicitly on
// the result.
var infraMarkers = []string{
	"timeout",
	"exceeded",
	"net::err",
	"connection",
	"network",
	"dns",
	"getaddrinfo",
	"certificate",
	"ssl",
	"tls",
	"browser",
	"context",
	"page closed",
	"page crashed",
	"target closed",
	"crashed",
	"disconnected",
}

// IsInfraError classifies an error message as infrastructure (true) or
// content (false). Case-insensitive substring match.
func IsInfraError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range infraMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
