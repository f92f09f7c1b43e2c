package urlinfo

import (
	"net/url"
	"strings"
)

// ViewerURL builds the bundled PDF viewer address for original. Only a
// direct-link fragment survives the redirect; other fragments are dropped.
func ViewerURL(viewerBase, original string) string {
	fragment := Fragment(original)
	out := viewerBase + "?file=" + url.QueryEscape(StripFragment(original))
	if IsDirectLinkFragment(fragment) {
		out += fragment
	}
	return out
}

// IsViewerURL reports whether rawURL is served by the bundled PDF viewer.
func IsViewerURL(viewerBase, rawURL string) bool {
	if viewerBase == "" {
		return false
	}
	return strings.HasPrefix(StripFragment(rawURL), viewerBase)
}

// OriginalFromViewer recovers the document URL from a viewer address, minus
// any direct-link fragment so the restored page does not re-activate itself.
func OriginalFromViewer(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	original := u.Query().Get("file")
	if original == "" {
		return "", false
	}
	if IsDirectLinkFragment(Fragment(original)) {
		original = StripFragment(original)
	}
	return original, true
}
