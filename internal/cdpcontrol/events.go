package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/overlay_agent/internal/host"
)

func (c *Client) registerHandlersLocked() {
	on := func(method string, fn func(sessionID string, params json.RawMessage)) {
		c.unregister = append(c.unregister, c.cdp.registerEventHandler(method, fn))
	}
	on("Target.targetCreated", c.onTargetCreated)
	on("Target.targetInfoChanged", c.onTargetInfoChanged)
	on("Target.targetDestroyed", c.onTargetDestroyed)
	on("Target.detachedFromTarget", c.onDetached)
	on("Page.frameNavigated", c.onFrameNavigated)
	on("Page.navigatedWithinDocument", c.onNavigatedWithinDocument)
	on("Page.loadEventFired", c.onLoadEventFired)
}

type targetInfoParams struct {
	TargetInfo struct {
		TargetID target.ID `json:"targetId"`
		Type     string    `json:"type"`
		Title    string    `json:"title"`
		URL      string    `json:"url"`
	} `json:"targetInfo"`
}

func (c *Client) onTargetCreated(_ string, params json.RawMessage) {
	var p targetInfoParams
	if json.Unmarshal(params, &p) != nil || p.TargetInfo.Type != "page" {
		return
	}
	info := p.TargetInfo
	tab := host.Tab{ID: host.TabID(info.TargetID), URL: info.URL, Title: info.Title, Status: host.StatusLoading}
	if !c.addTab(info.TargetID, tab) {
		return
	}
	c.emit(host.TabEvent{Kind: host.EventCreated, Tab: tab})
	// Attaching sends commands, which cannot be done from the read loop.
	go c.attach(info.TargetID)
}

func (c *Client) onTargetInfoChanged(_ string, params json.RawMessage) {
	var p targetInfoParams
	if json.Unmarshal(params, &p) != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.tabs[p.TargetInfo.TargetID]; s != nil {
		s.info.Title = p.TargetInfo.Title
	}
}

func (c *Client) onTargetDestroyed(_ string, params json.RawMessage) {
	var p struct {
		TargetID target.ID `json:"targetId"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	c.mu.Lock()
	s := c.tabs[p.TargetID]
	if s != nil {
		delete(c.tabs, p.TargetID)
		if s.sessionID != "" {
			delete(c.sessions, s.sessionID)
		}
	}
	c.mu.Unlock()
	if s != nil {
		c.emit(host.TabEvent{Kind: host.EventRemoved, Tab: host.Tab{ID: host.TabID(p.TargetID), URL: s.info.URL}})
	}
}

func (c *Client) onDetached(_ string, params json.RawMessage) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.sessions[p.SessionID]
	if !ok {
		return
	}
	delete(c.sessions, p.SessionID)
	if s := c.tabs[id]; s != nil {
		s.sessionID = ""
		s.worlds = make(map[string]int64)
	}
}

// sessionTabLocked maps a flat session id to its tab.
func (c *Client) sessionTabLocked(sessionID string) *tabSession {
	id, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	return c.tabs[id]
}

func (c *Client) onFrameNavigated(sessionID string, params json.RawMessage) {
	var p struct {
		Frame struct {
			ID          string `json:"id"`
			ParentID    string `json:"parentId"`
			URL         string `json:"url"`
			URLFragment string `json:"urlFragment"`
		} `json:"frame"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}

	c.mu.Lock()
	s := c.sessionTabLocked(sessionID)
	if s == nil {
		c.mu.Unlock()
		return
	}
	if p.Frame.ParentID != "" {
		delete(s.worlds, p.Frame.ID)
		c.mu.Unlock()
		return
	}
	// A new top-level document replaces every frame.
	s.worlds = make(map[string]int64)
	s.info.URL = p.Frame.URL + p.Frame.URLFragment
	s.info.Status = host.StatusLoading
	tab := s.info
	c.mu.Unlock()

	c.emit(host.TabEvent{Kind: host.EventUpdated, Tab: tab})
}

func (c *Client) onNavigatedWithinDocument(sessionID string, params json.RawMessage) {
	var p struct {
		FrameID string `json:"frameId"`
		URL     string `json:"url"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}

	c.mu.Lock()
	s := c.sessionTabLocked(sessionID)
	if s == nil || p.FrameID != string(s.info.ID) {
		c.mu.Unlock()
		return
	}
	s.info.URL = p.URL
	tab := s.info
	c.mu.Unlock()

	tab.Status = host.StatusNone
	c.emit(host.TabEvent{Kind: host.EventUpdated, Tab: tab})
}

func (c *Client) onLoadEventFired(sessionID string, _ json.RawMessage) {
	c.mu.Lock()
	s := c.sessionTabLocked(sessionID)
	if s == nil {
		c.mu.Unlock()
		return
	}
	s.info.Status = host.StatusComplete
	tab := s.info
	c.mu.Unlock()

	c.emit(host.TabEvent{Kind: host.EventUpdated, Tab: tab})
}

// Subscribe implements host.EventSource. The channel closes when ctx ends
// or the browser connection is lost.
func (c *Client) Subscribe(ctx context.Context) (<-chan host.TabEvent, error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan host.TabEvent),
	}
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	c.subMu.Unlock()

	go func() {
		sub.pump(ctx, cdp.done())
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
		slog.Debug("cdpcontrol subscriber closed", "subscriber", id)
	}()
	return sub.out, nil
}

func (c *Client) emit(evt host.TabEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		sub.push(evt)
	}
}

// subscriber queues events without bounds so the read loop never blocks on
// a slow consumer and no lifecycle event is lost.
type subscriber struct {
	mu    sync.Mutex
	queue []host.TabEvent
	wake  chan struct{}
	out   chan host.TabEvent
}

func (s *subscriber) push(evt host.TabEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) take() []host.TabEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *subscriber) pump(ctx context.Context, lost <-chan struct{}) {
	defer close(s.out)
	closing := false
	for {
		for _, evt := range s.take() {
			select {
			case s.out <- evt:
			case <-ctx.Done():
				return
			}
		}
		if closing {
			return
		}
		select {
		case <-s.wake:
		case <-lost:
			closing = true
		case <-ctx.Done():
			return
		}
	}
}
