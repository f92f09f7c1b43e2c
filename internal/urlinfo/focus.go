package urlinfo

import (
	"net/url"
	"regexp"
	"strings"
)

// FocusKind names what a direct link asks the overlay to show.
type FocusKind int

const (
	FocusNone FocusKind = iota
	FocusAnnotation
	FocusQuery
	FocusGroup
)

func (k FocusKind) String() string {
	switch k {
	case FocusAnnotation:
		return "annotation"
	case FocusQuery:
		return "query"
	case FocusGroup:
		return "group"
	default:
		return "none"
	}
}

var annotationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FocusTarget is the direct-link instruction carried in a URL fragment.
// The zero value means no focus target.
type FocusTarget struct {
	Kind  FocusKind `json:"kind"`
	Value string    `json:"value"`
}

// IsZero reports whether no focus target is set.
func (f FocusTarget) IsZero() bool { return f.Kind == FocusNone }

// Fragment renders the target back into its "#annotations:" form.
func (f FocusTarget) Fragment() string {
	switch f.Kind {
	case FocusAnnotation:
		return DirectLinkPrefix + f.Value
	case FocusQuery:
		return DirectLinkPrefix + "query:" + url.PathEscape(f.Value)
	case FocusGroup:
		return DirectLinkPrefix + "group:" + f.Value
	default:
		return ""
	}
}

// ParseFocus extracts a focus target from a URL or a bare fragment such as
// "#annotations:query:tag:foo".
func ParseFocus(s string) (FocusTarget, bool) {
	i := strings.Index(s, DirectLinkPrefix)
	if i < 0 {
		return FocusTarget{}, false
	}
	rest := s[i+len(DirectLinkPrefix):]
	if rest == "" {
		return FocusTarget{}, false
	}

	switch {
	case strings.HasPrefix(rest, "query:"):
		q := rest[len("query:"):]
		if decoded, err := url.PathUnescape(q); err == nil {
			q = decoded
		}
		if strings.TrimSpace(q) == "" {
			return FocusTarget{}, false
		}
		return FocusTarget{Kind: FocusQuery, Value: q}, true
	case strings.HasPrefix(rest, "group:"):
		id := rest[len("group:"):]
		if !annotationIDPattern.MatchString(id) {
			return FocusTarget{}, false
		}
		return FocusTarget{Kind: FocusGroup, Value: id}, true
	default:
		if !annotationIDPattern.MatchString(rest) {
			return FocusTarget{}, false
		}
		return FocusTarget{Kind: FocusAnnotation, Value: rest}, true
	}
}

// IsDirectLinkFragment reports whether fragment is an "#annotations:" link.
func IsDirectLinkFragment(fragment string) bool {
	return strings.HasPrefix(fragment, DirectLinkPrefix)
}
