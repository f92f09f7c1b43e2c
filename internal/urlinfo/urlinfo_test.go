package urlinfo

import (
	"errors"
	"testing"
)

func TestNormalizeForMatchIgnoresSchemeAndFragment(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"https://x.com/", "http://x.com/#frag"},
		{"https://X.com", "http://x.com/"},
		{"https://x.com/a?b=1", "ftp://x.com/a?b=1#annotations:abc"},
	}
	for _, tt := range tests {
		if got, want := NormalizeForMatch(tt.a), NormalizeForMatch(tt.b); got != want {
			t.Fatalf("NormalizeForMatch(%q) = %q; want %q (from %q)", tt.a, got, want, tt.b)
		}
	}

	if NormalizeForMatch("https://x.com/a") == NormalizeForMatch("https://x.com/b") {
		t.Fatalf("NormalizeForMatch() matched different paths")
	}
}

func TestNormalizeForBadge(t *testing.T) {
	got, err := NormalizeForBadge("https://example.com/page#section", DefaultBadgeBlocklist)
	if err != nil {
		t.Fatalf("NormalizeForBadge() error = %v", err)
	}
	if got != "https://example.com/page" {
		t.Fatalf("NormalizeForBadge() = %q; want %q", got, "https://example.com/page")
	}

	rejected := []string{
		"https://mail.google.com/x",
		"https://www.facebook.com/",
		"chrome://extensions",
		"file:///tmp/a.html",
		"ftp://example.com/a",
	}
	for _, u := range rejected {
		if _, err := NormalizeForBadge(u, DefaultBadgeBlocklist); !errors.Is(err, ErrUnsupportedURL) {
			t.Fatalf("NormalizeForBadge(%q) error = %v; want ErrUnsupportedURL", u, err)
		}
	}
}

func TestParseFocus(t *testing.T) {
	tests := []struct {
		in   string
		want FocusTarget
		ok   bool
	}{
		{"https://x.com/#annotations:abc_1-Z", FocusTarget{Kind: FocusAnnotation, Value: "abc_1-Z"}, true},
		{"#annotations:query:tag%3Afoo%20bar", FocusTarget{Kind: FocusQuery, Value: "tag:foo bar"}, true},
		{"#annotations:group:g1", FocusTarget{Kind: FocusGroup, Value: "g1"}, true},
		{"#annotations:", FocusTarget{}, false},
		{"#annotations:bad id", FocusTarget{}, false},
		{"https://x.com/#other", FocusTarget{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseFocus(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseFocus(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFocusFragmentRoundTrip(t *testing.T) {
	for _, f := range []FocusTarget{
		{Kind: FocusAnnotation, Value: "abc"},
		{Kind: FocusQuery, Value: "user:bob tag:x"},
		{Kind: FocusGroup, Value: "grp"},
	} {
		got, ok := ParseFocus(f.Fragment())
		if !ok || got != f {
			t.Fatalf("ParseFocus(%q) = %+v, %v; want %+v", f.Fragment(), got, ok, f)
		}
	}
}

func TestViewerURLRoundTrip(t *testing.T) {
	const viewer = "http://127.0.0.1:8190/ext/pdfjs/web/viewer.html"

	got := ViewerURL(viewer, "https://example.com/doc.pdf#annotations:abc")
	want := viewer + "?file=https%3A%2F%2Fexample.com%2Fdoc.pdf#annotations:abc"
	if got != want {
		t.Fatalf("ViewerURL() = %q; want %q", got, want)
	}
	if !IsViewerURL(viewer, got) {
		t.Fatalf("IsViewerURL(%q) = false; want true", got)
	}

	original, ok := OriginalFromViewer(got)
	if !ok || original != "https://example.com/doc.pdf" {
		t.Fatalf("OriginalFromViewer() = %q, %v; want %q", original, ok, "https://example.com/doc.pdf")
	}

	if got := ViewerURL(viewer, "https://example.com/doc.pdf#page=2"); got != viewer+"?file=https%3A%2F%2Fexample.com%2Fdoc.pdf" {
		t.Fatalf("ViewerURL() kept a non direct-link fragment: %q", got)
	}
}

func TestSchemeHelpers(t *testing.T) {
	if !IsScriptableScheme("HTTPS") || !IsScriptableScheme("ftp") {
		t.Fatalf("IsScriptableScheme() rejected a web scheme")
	}
	if IsScriptableScheme("chrome") || IsScriptableScheme("file") {
		t.Fatalf("IsScriptableScheme() accepted a restricted scheme")
	}
	if !IsFileURL("file:///x.html") {
		t.Fatalf("IsFileURL(file:///x.html) = false")
	}
	if !LooksLikePDF("https://example.com/Paper.PDF?dl=1") {
		t.Fatalf("LooksLikePDF() = false for a .PDF url")
	}
}
