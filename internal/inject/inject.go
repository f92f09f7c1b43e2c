// Package inject installs the overlay into tabs and removes it again. Each
// document kind has its own procedure; failures are typed clienterr errors.
package inject

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dgnsrekt/overlay_agent/internal/classify"
	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// Config holds what the orchestrator needs to know about the bundle.
type Config struct {
	// Origin prefixes every URL served from the add-on bundle.
	Origin string
	// BootFile and UnloadFile are bundle paths of the payload scripts.
	BootFile   string
	UnloadFile string
	// ReaderFrameHost and ReaderFramePath locate the e-book content frame.
	ReaderFrameHost string
	ReaderFramePath string
}

// ClientConfig is the configuration handed to the overlay at boot.
type ClientConfig struct {
	AssetRoot     string `json:"assetRoot,omitempty"`
	SidebarAppURL string `json:"sidebarAppUrl,omitempty"`
	Annotations   string `json:"annotations,omitempty"`
	Query         string `json:"query,omitempty"`
	Group         string `json:"group,omitempty"`
	OpenSidebar   bool   `json:"openSidebar,omitempty"`
}

// WithFocus returns c configured to show f on load.
func (c ClientConfig) WithFocus(f urlinfo.FocusTarget) ClientConfig {
	switch f.Kind {
	case urlinfo.FocusAnnotation:
		c.Annotations = f.Value
	case urlinfo.FocusQuery:
		c.Query = f.Value
	case urlinfo.FocusGroup:
		c.Group = f.Value
	default:
		return c
	}
	c.OpenSidebar = true
	return c
}

// permissionMessage is shown when frame access was not granted.
const permissionMessage = "Annotating this e-book requires permission to access the frames of the page. Click the toolbar button to grant it."

// Orchestrator carries out install and uninstall.
type Orchestrator struct {
	cfg      Config
	tabs     host.Tabs
	scripts  host.Scripting
	perms    host.Permissions
	classify *classify.Classifier
}

func New(cfg Config, tabs host.Tabs, scripts host.Scripting, perms host.Permissions, c *classify.Classifier) *Orchestrator {
	return &Orchestrator{cfg: cfg, tabs: tabs, scripts: scripts, perms: perms, classify: c}
}

// Install adds the overlay to tab.
func (o *Orchestrator) Install(ctx context.Context, tab host.Tab, cfg ClientConfig) error {
	if urlinfo.IsFileURL(tab.URL) {
		return o.installLocal(ctx, tab)
	}
	return o.installRemote(ctx, tab, cfg)
}

// installLocal decides on URL rules alone; nothing runs in the page before
// a local document is rejected.
func (o *Orchestrator) installLocal(ctx context.Context, tab host.Tab) error {
	if o.classify.ClassifyURL(tab.URL) != classify.PDF {
		return clienterr.LocalFile()
	}
	if !o.perms.FileAccess(ctx) {
		return clienterr.NoFileAccess()
	}
	return o.redirectToViewer(ctx, tab)
}

func (o *Orchestrator) installRemote(ctx context.Context, tab host.Tab, cfg ClientConfig) error {
	if o.classify.IsViewer(tab.URL) {
		return nil
	}
	if scheme := urlinfo.Scheme(tab.URL); !urlinfo.IsScriptableScheme(scheme) {
		return clienterr.RestrictedProtocol(scheme)
	}

	switch o.classify.Classify(ctx, tab) {
	case classify.PDF:
		return o.redirectToViewer(ctx, tab)
	case classify.EbookReader:
		frame, err := o.readerFrame(ctx, tab.ID, true)
		if err != nil {
			return err
		}
		return o.injectBoot(ctx, host.Target{TabID: tab.ID, FrameID: frame.ID}, cfg)
	case classify.Blocked:
		return clienterr.BlockedSite()
	default:
		return o.injectBoot(ctx, host.Target{TabID: tab.ID}, cfg)
	}
}

func (o *Orchestrator) redirectToViewer(ctx context.Context, tab host.Tab) error {
	target := urlinfo.ViewerURL(o.classify.Rules().ViewerURL, tab.URL)
	slog.Debug("redirecting to pdf viewer", "tab_id", tab.ID, "url", target)
	return o.tabs.Update(ctx, tab.ID, target)
}

type bootResult struct {
	InstalledURL string `json:"installedURL"`
}

func (o *Orchestrator) injectBoot(ctx context.Context, target host.Target, cfg ClientConfig) error {
	if err := o.scripts.DeclareConfig(ctx, target, cfg); err != nil {
		return clienterr.ScriptFailure("config", err)
	}
	raw, err := o.scripts.ExecuteFile(ctx, target, o.cfg.BootFile)
	if err != nil {
		return clienterr.ScriptFailure("boot", err)
	}
	var res bootResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			slog.Debug("unexpected boot result", "tab_id", target.TabID, "result", string(raw))
		}
	}
	if res.InstalledURL != "" && !strings.HasPrefix(res.InstalledURL, o.cfg.Origin) {
		return clienterr.AlreadyInjected(res.InstalledURL)
	}
	return nil
}

// readerFrame finds the e-book content frame. With request set, a missing
// frame capability is requested, which only works during a user gesture.
func (o *Orchestrator) readerFrame(ctx context.Context, id host.TabID, request bool) (host.Frame, error) {
	if !o.perms.Contains(ctx, host.CapabilityFrames) {
		if !request {
			return host.Frame{}, clienterr.Permission(permissionMessage)
		}
		granted, err := o.perms.Request(ctx, host.CapabilityFrames)
		if err != nil && !errors.Is(err, host.ErrNoGesture) {
			return host.Frame{}, fmt.Errorf("request frame access: %w", err)
		}
		if !granted {
			return host.Frame{}, clienterr.Permission(permissionMessage)
		}
	}

	frames, err := o.scripts.Frames(ctx, id)
	if err != nil {
		return host.Frame{}, err
	}
	for _, f := range frames {
		if o.isReaderFrame(f.URL) {
			return f, nil
		}
	}
	return host.Frame{}, clienterr.FrameNotFound("e-book reader")
}

func (o *Orchestrator) isReaderFrame(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), o.cfg.ReaderFrameHost) &&
		strings.HasPrefix(u.Path, o.cfg.ReaderFramePath)
}

// Uninstall removes the overlay from tab.
func (o *Orchestrator) Uninstall(ctx context.Context, tab host.Tab) error {
	if o.classify.IsViewer(tab.URL) {
		original, ok := urlinfo.OriginalFromViewer(tab.URL)
		if !ok {
			return nil
		}
		return o.tabs.Update(ctx, tab.ID, original)
	}

	if o.classify.ClassifyURL(tab.URL) == classify.EbookReader {
		frame, err := o.readerFrame(ctx, tab.ID, false)
		if err != nil {
			var coded *clienterr.CodedError
			if errors.As(err, &coded) {
				// The reader frame is gone or unreachable; nothing to tear down.
				return nil
			}
			return err
		}
		return o.unload(ctx, host.Target{TabID: tab.ID, FrameID: frame.ID})
	}

	if !urlinfo.IsScriptableScheme(urlinfo.Scheme(tab.URL)) {
		return nil
	}
	return o.unload(ctx, host.Target{TabID: tab.ID})
}

func (o *Orchestrator) unload(ctx context.Context, target host.Target) error {
	if _, err := o.scripts.ExecuteFile(ctx, target, o.cfg.UnloadFile); err != nil {
		return clienterr.ScriptFailure("unload", err)
	}
	return nil
}

// ProbeActive reports whether a copy of this overlay is running in tab,
// e.g. one that survived a restart of the controller.
func (o *Orchestrator) ProbeActive(ctx context.Context, tab host.Tab) bool {
	if o.classify.IsViewer(tab.URL) {
		return true
	}
	if !o.classify.CanScript(ctx, tab.URL) {
		return false
	}
	raw, err := o.scripts.ExecuteFunc(ctx, host.Target{TabID: tab.ID}, activeProbeJS)
	if err != nil {
		slog.Debug("overlay probe failed", "tab_id", tab.ID, "error", err)
		return false
	}
	var active bool
	if err := json.Unmarshal(raw, &active); err != nil {
		return false
	}
	return active
}

var activeProbeJS = `(function() {
  return document.querySelector('script.` + host.ConfigTagClass + `') !== null;
})()`
