// Package urlinfo holds the URL rules shared by the tab state machine, the
// classifier, the injection orchestrator and the badge service.
package urlinfo

import (
	"errors"
	"net/url"
	"strings"
)

// DirectLinkPrefix starts every fragment that carries a focus target.
const DirectLinkPrefix = "#annotations:"

// ErrUnsupportedURL is returned when a URL may not be sent to the badge API.
var ErrUnsupportedURL = errors.New("url not eligible for annotation lookup")

// DefaultBadgeBlocklist lists high-traffic personal sites that never get a
// badge lookup.
var DefaultBadgeBlocklist = []string{
	"facebook.com",
	"www.facebook.com",
	"mail.google.com",
}

var scriptableSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ftp":   true,
}

// Scheme returns the lowercased scheme of rawURL, or "" when it does not parse.
func Scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Host returns the lowercased host name of rawURL without port.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsFileURL reports whether rawURL points at a local file.
func IsFileURL(rawURL string) bool {
	return Scheme(rawURL) == "file"
}

// IsScriptableScheme reports whether scripts may run on pages with this scheme
// without any extra grant.
func IsScriptableScheme(scheme string) bool {
	return scriptableSchemes[strings.ToLower(scheme)]
}

// LooksLikePDF is the filename heuristic used when no probe result exists.
func LooksLikePDF(rawURL string) bool {
	return strings.Contains(strings.ToLower(rawURL), ".pdf")
}

// StripFragment drops everything from the first '#'.
func StripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// Fragment returns the '#'-prefixed fragment of rawURL or "".
func Fragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[i:]
	}
	return ""
}

// NormalizeForMatch returns a comparison key that ignores scheme, fragment and
// host case. It is used to match deferred activations against navigations.
func NormalizeForMatch(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return StripFragment(rawURL)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := strings.ToLower(u.Host) + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	if u.Host == "" && u.Opaque != "" {
		key = u.Opaque
	}
	return key
}

// NormalizeForBadge validates rawURL for a badge lookup and returns the cache
// key / query value. Only http(s) URLs outside the blocklist are accepted; the
// fragment is dropped.
func NormalizeForBadge(rawURL string, blocklist []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ErrUnsupportedURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", ErrUnsupportedURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrUnsupportedURL
	}
	for _, blocked := range blocklist {
		if host == strings.ToLower(blocked) {
			return "", ErrUnsupportedURL
		}
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
