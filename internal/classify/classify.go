// Package classify decides which kind of document a tab shows.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"

	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// Kind is the document class. The zero value is HTML.
type Kind int

const (
	HTML Kind = iota
	PDF
	EbookReader
	Blocked
)

func (k Kind) String() string {
	switch k {
	case PDF:
		return "pdf"
	case EbookReader:
		return "ebook_reader"
	case Blocked:
		return "blocked"
	default:
		return "html"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Rules are the URL rules applied before any in-page probe.
type Rules struct {
	// ViewerURL is the address of the bundled PDF viewer.
	ViewerURL string
	// ReaderHosts are e-book reader host names, matched exactly.
	ReaderHosts []string
	// BlockedHosts are glob patterns ("*.lms.example") for assignment sites
	// where the overlay is never installed.
	BlockedHosts []string
}

// Classifier classifies tabs. It holds no per-tab state.
type Classifier struct {
	rules   Rules
	blocked []glob.Glob
	scripts host.Scripting
	perms   host.Permissions
}

func New(rules Rules, scripts host.Scripting, perms host.Permissions) (*Classifier, error) {
	c := &Classifier{rules: rules, scripts: scripts, perms: perms}
	for _, pattern := range rules.BlockedHosts {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid blocked host pattern %q: %w", pattern, err)
		}
		c.blocked = append(c.blocked, g)
	}
	return c, nil
}

// Rules returns the URL rules in use.
func (c *Classifier) Rules() Rules { return c.rules }

// IsViewer reports whether url is served by the bundled PDF viewer.
func (c *Classifier) IsViewer(url string) bool {
	return urlinfo.IsViewerURL(c.rules.ViewerURL, url)
}

// IsReader reports whether url is on an e-book reader host.
func (c *Classifier) IsReader(url string) bool {
	h := urlinfo.Host(url)
	if h == "" {
		return false
	}
	for _, r := range c.rules.ReaderHosts {
		if h == strings.ToLower(r) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether url is on a blocked assignment site.
func (c *Classifier) IsBlocked(url string) bool {
	h := urlinfo.Host(url)
	if h == "" {
		return false
	}
	for _, g := range c.blocked {
		if g.Match(h) {
			return true
		}
	}
	return false
}

func (c *Classifier) byURL(url string) (Kind, bool) {
	switch {
	case c.IsViewer(url):
		return PDF, true
	case c.IsReader(url):
		return EbookReader, true
	case c.IsBlocked(url):
		return Blocked, true
	}
	return HTML, false
}

// ClassifyURL classifies from the URL alone, never running scripts.
func (c *Classifier) ClassifyURL(url string) Kind {
	if k, ok := c.byURL(url); ok {
		return k
	}
	return guess(url)
}

// CanScript reports whether scripts may run on url: web schemes always,
// local files only with the file-access grant.
func (c *Classifier) CanScript(ctx context.Context, url string) bool {
	scheme := urlinfo.Scheme(url)
	if urlinfo.IsScriptableScheme(scheme) {
		return true
	}
	return scheme == "file" && c.perms != nil && c.perms.FileAccess(ctx)
}

// Classify returns the document kind of tab. It never fails: when the probe
// can not run or answers nonsense, the URL heuristic decides.
func (c *Classifier) Classify(ctx context.Context, tab host.Tab) Kind {
	if k, ok := c.byURL(tab.URL); ok {
		return k
	}
	if c.scripts == nil || !c.CanScript(ctx, tab.URL) {
		return guess(tab.URL)
	}
	raw, err := c.scripts.ExecuteFunc(ctx, host.Target{TabID: tab.ID}, probeJS)
	if err != nil {
		slog.Debug("content type probe failed", "tab_id", tab.ID, "error", err)
		return guess(tab.URL)
	}
	if k, ok := parseProbe(raw); ok {
		return k
	}
	return guess(tab.URL)
}

func guess(url string) Kind {
	if urlinfo.LooksLikePDF(url) {
		return PDF
	}
	return HTML
}

type probeResult struct {
	Type string `json:"type"`
}

func parseProbe(raw json.RawMessage) (Kind, bool) {
	if len(raw) == 0 {
		return HTML, false
	}
	var res probeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return HTML, false
	}
	switch res.Type {
	case "PDF":
		return PDF, true
	case "HTML":
		return HTML, true
	}
	return HTML, false
}

// probeJS detects the browser's built-in PDF plugin and pdf.js viewers.
const probeJS = `(function() {
  if (document.querySelector('embed[type="application/pdf"]')) {
    return {type: "PDF"};
  }
  if (String(document.baseURI).indexOf("resource://pdf.js") === 0) {
    return {type: "PDF"};
  }
  return {type: "HTML"};
})()`
