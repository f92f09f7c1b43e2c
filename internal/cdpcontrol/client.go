// Package cdpcontrol drives a Chromium browser over the DevTools protocol and
// exposes it as the tab, scripting and event platform of the overlay.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/overlay_agent/internal/host"
)

// worldName names the isolated world the overlay scripts run in.
const worldName = "overlay_agent"

const attachTimeout = 10 * time.Second

type tabSession struct {
	info      host.Tab
	attachMu  sync.Mutex // serializes attach attempts
	sessionID string
	worlds    map[string]int64 // frame id -> execution context id
}

// Client implements host.Tabs, host.Scripting and host.EventSource.
type Client struct {
	cdpURL      string
	bundle      fs.FS
	evalTimeout time.Duration

	mu         sync.Mutex
	cdp        *rawCDP
	tabs       map[target.ID]*tabSession
	sessions   map[string]target.ID
	unregister []func()

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// NewClient returns a client for the browser at cdpURL. Script files are
// read from bundle.
func NewClient(cdpURL string, bundle fs.FS, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		bundle:      bundle,
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		sessions:    make(map[string]target.ID),
		subs:        make(map[int]*subscriber),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	cdp, sessions := c.cleanupLocked()
	c.mu.Unlock()
	shutdown(cdp, sessions)

	c.mu.Lock()
	err := c.connectLocked(ctx)
	cdp = c.cdp
	seeded := make([]target.ID, 0, len(c.tabs))
	for id := range c.tabs {
		seeded = append(seeded, id)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	// Commands are sent without c.mu: event handlers take it on the read loop.
	if err := cdp.setDiscoverTargets(ctx); err != nil {
		return newError(CodeCDPUnavailable, "target discovery failed", err)
	}
	for _, id := range seeded {
		go c.attach(id)
	}
	return nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.registerHandlersLocked()

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		cdp, _ := c.cleanupLocked()
		shutdown(cdp, nil)
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	cdp, sessions := c.cleanupLocked()
	c.mu.Unlock()
	shutdown(cdp, sessions)
	return nil
}

// cleanupLocked forgets all tabs and hands back what must be shut down once
// c.mu is released.
func (c *Client) cleanupLocked() (*rawCDP, []string) {
	for _, fn := range c.unregister {
		fn()
	}
	c.unregister = nil

	var sessions []string
	for _, s := range c.tabs {
		if s != nil && s.sessionID != "" {
			sessions = append(sessions, s.sessionID)
		}
	}
	cdp := c.cdp
	c.cdp = nil
	c.tabs = make(map[target.ID]*tabSession)
	c.sessions = make(map[string]target.ID)
	return cdp, sessions
}

// shutdown detaches from sessions without closing their targets.
func shutdown(cdp *rawCDP, sessions []string) {
	if cdp == nil {
		return
	}
	for _, sid := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := cdp.detachFromTarget(ctx, sid); err != nil {
			slog.Debug("cdpcontrol detach cleanup failed", "session_id", sid, "error", err)
		}
		cancel()
	}
	cdp.close()
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	expected := make(map[target.ID]host.Tab)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		expected[t.TargetID] = host.Tab{
			ID:     host.TabID(t.TargetID),
			URL:    t.URL,
			Title:  t.Title,
			Status: host.StatusComplete,
		}
	}

	for id, s := range c.tabs {
		if _, ok := expected[id]; ok {
			continue
		}
		if s.sessionID != "" {
			delete(c.sessions, s.sessionID)
		}
		delete(c.tabs, id)
	}
	for id, info := range expected {
		if s := c.tabs[id]; s != nil {
			s.info = info
			continue
		}
		c.tabs[id] = &tabSession{info: info, worlds: make(map[string]int64)}
	}
	return nil
}

// Get implements host.Tabs.
func (c *Client) Get(_ context.Context, id host.TabID) (host.Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tabs[target.ID(id)]
	if s == nil {
		return host.Tab{}, noTab(id)
	}
	return s.info, nil
}

// Query implements host.Tabs.
func (c *Client) Query(_ context.Context) ([]host.Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	out := make([]host.Tab, 0, len(c.tabs))
	for _, s := range c.tabs {
		out = append(out, s.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update implements host.Tabs by navigating the tab to url.
func (c *Client) Update(ctx context.Context, id host.TabID, url string) error {
	cdp, sid, err := c.ensureSession(ctx, target.ID(id))
	if err != nil {
		return err
	}
	if err := cdp.navigate(ctx, sid, url); err != nil {
		return wrapTabErr("navigate failed", err)
	}
	return nil
}

// Create implements host.Tabs by opening a new page target.
func (c *Client) Create(ctx context.Context, url string) (host.Tab, error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return host.Tab{}, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	id, err := cdp.createTarget(ctx, url)
	if err != nil {
		return host.Tab{}, newError(CodeCDPUnavailable, "create target failed", err)
	}
	tab := host.Tab{ID: host.TabID(id), URL: url, Status: host.StatusLoading}
	if c.addTab(id, tab) {
		c.emit(host.TabEvent{Kind: host.EventCreated, Tab: tab})
		go c.attach(id)
	}
	return tab, nil
}

// addTab registers a tab unless it is already known.
func (c *Client) addTab(id target.ID, tab host.Tab) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tabs[id]; ok {
		return false
	}
	c.tabs[id] = &tabSession{info: tab, worlds: make(map[string]int64)}
	return true
}

// attach opens the page session in the background so page events flow.
func (c *Client) attach(id target.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), attachTimeout)
	defer cancel()
	if _, _, err := c.ensureSession(ctx, id); err != nil {
		slog.Debug("cdpcontrol attach failed", "target_id", id, "error", err)
	}
}

func (c *Client) ensureSession(ctx context.Context, id target.ID) (*rawCDP, string, error) {
	c.mu.Lock()
	cdp := c.cdp
	s := c.tabs[id]
	c.mu.Unlock()
	if cdp == nil {
		return nil, "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if s == nil {
		return nil, "", noTab(host.TabID(id))
	}

	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	c.mu.Lock()
	sid := s.sessionID
	c.mu.Unlock()
	if sid != "" {
		return cdp, sid, nil
	}

	sid, err := cdp.attachToTarget(ctx, id)
	if err != nil {
		return nil, "", wrapTabErr("attach to target failed", err)
	}
	c.mu.Lock()
	s.sessionID = sid
	c.sessions[sid] = id
	c.mu.Unlock()

	if err := cdp.enablePageDomain(ctx, sid); err != nil {
		return nil, "", wrapTabErr("enable page domain failed", err)
	}
	slog.Debug("cdpcontrol session attached", "target_id", id, "session_id", sid)
	c.catchUp(ctx, cdp, sid, id)
	return cdp, sid, nil
}

const readyStateJS = `({state: document.readyState, url: location.href})`

// catchUp reports a load that completed before Page events were enabled.
func (c *Client) catchUp(ctx context.Context, cdp *rawCDP, sid string, id target.ID) {
	raw, err := cdp.evaluate(ctx, sid, 0, readyStateJS)
	if err != nil {
		slog.Debug("cdpcontrol ready state probe failed", "target_id", id, "error", err)
		return
	}
	var st struct {
		State string `json:"state"`
		URL   string `json:"url"`
	}
	if json.Unmarshal(raw, &st) != nil || st.State != "complete" {
		return
	}

	c.mu.Lock()
	s := c.tabs[id]
	if s == nil || (s.info.Status == host.StatusComplete && s.info.URL == st.URL) {
		c.mu.Unlock()
		return
	}
	s.info.URL = st.URL
	s.info.Status = host.StatusComplete
	tab := s.info
	c.mu.Unlock()

	c.emit(host.TabEvent{Kind: host.EventUpdated, Tab: tab})
}

// ExecuteFile implements host.Scripting.
func (c *Client) ExecuteFile(ctx context.Context, t host.Target, file string) (json.RawMessage, error) {
	src, err := fs.ReadFile(c.bundle, file)
	if err != nil {
		return nil, fmt.Errorf("read bundle file %s: %w", file, err)
	}
	return c.eval(ctx, t, string(src))
}

// ExecuteFunc implements host.Scripting.
func (c *Client) ExecuteFunc(ctx context.Context, t host.Target, source string) (json.RawMessage, error) {
	return c.eval(ctx, t, source)
}

// DeclareConfig implements host.Scripting.
func (c *Client) DeclareConfig(ctx context.Context, t host.Target, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = c.eval(ctx, t, declareConfigJS(data))
	return err
}

func declareConfigJS(payload []byte) string {
	text, _ := json.Marshal(string(payload))
	return fmt.Sprintf(`(function() {
  var tag = document.createElement('script');
  tag.type = 'application/json';
  tag.className = %q;
  tag.textContent = %s;
  (document.head || document.documentElement).appendChild(tag);
  return true;
})()`, host.ConfigTagClass, text)
}

// Frames implements host.Scripting. Out-of-process frames are not listed.
func (c *Client) Frames(ctx context.Context, id host.TabID) ([]host.Frame, error) {
	cdp, sid, err := c.ensureSession(ctx, target.ID(id))
	if err != nil {
		return nil, err
	}
	tree, err := cdp.getFrameTree(ctx, sid)
	if err != nil {
		return nil, wrapTabErr("get frame tree failed", err)
	}
	return flattenFrames(tree, nil), nil
}

func flattenFrames(tree frameTree, out []host.Frame) []host.Frame {
	out = append(out, host.Frame{
		ID:       tree.Frame.ID,
		ParentID: tree.Frame.ParentID,
		URL:      tree.Frame.URL + tree.Frame.URLFragment,
	})
	for _, child := range tree.ChildFrames {
		out = flattenFrames(child, out)
	}
	return out
}

func (c *Client) eval(ctx context.Context, t host.Target, js string) (json.RawMessage, error) {
	if c.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.evalTimeout)
		defer cancel()
	}

	id := target.ID(t.TabID)
	cdp, sid, err := c.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	frameID := t.FrameID
	if frameID == "" {
		// The main frame of a page target shares the target's id.
		frameID = string(id)
	}

	for attempt := 0; ; attempt++ {
		contextID, err := c.world(ctx, cdp, sid, id, frameID)
		if err != nil {
			return nil, err
		}
		raw, err := cdp.evaluate(ctx, sid, contextID, js)
		if err == nil {
			return raw, nil
		}
		if attempt == 0 && strings.Contains(strings.ToLower(err.Error()), staleContextHint) {
			c.dropWorld(id, frameID)
			continue
		}
		return nil, wrapTabErr("evaluate failed", err)
	}
}

// world returns the isolated world of frameID, creating it on first use.
func (c *Client) world(ctx context.Context, cdp *rawCDP, sid string, id target.ID, frameID string) (int64, error) {
	c.mu.Lock()
	s := c.tabs[id]
	if s == nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", host.ErrTabClosed, id)
	}
	contextID, ok := s.worlds[frameID]
	c.mu.Unlock()
	if ok {
		return contextID, nil
	}

	contextID, err := cdp.createIsolatedWorld(ctx, sid, frameID, worldName)
	if err != nil {
		return 0, wrapTabErr("create isolated world failed", err)
	}
	c.mu.Lock()
	if s := c.tabs[id]; s != nil {
		s.worlds[frameID] = contextID
	}
	c.mu.Unlock()
	return contextID, nil
}

func (c *Client) dropWorld(id target.ID, frameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.tabs[id]; s != nil {
		delete(s.worlds, frameID)
	}
}
