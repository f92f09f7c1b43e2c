package controller

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgnsrekt/overlay_agent/internal/badge"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/statestore"
	"github.com/dgnsrekt/overlay_agent/internal/tabstate"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

func (s *Service) handleEvent(evt host.TabEvent) {
	id := evt.Tab.ID
	slog.Debug("tab event", "kind", evt.Kind, "tab_id", id, "status", evt.Tab.Status, "url", evt.Tab.URL)

	switch evt.Kind {
	case host.EventCreated:
		s.urls[id] = evt.Tab.URL
		s.machine.Reset(id, evt.Tab.URL)
		s.machine.Navigated(id, evt.Tab.URL)
		if evt.Tab.Status == host.StatusComplete {
			s.machine.MarkComplete(id, evt.Tab.URL)
			s.refreshBadge(id, evt.Tab.URL)
		}

	case host.EventUpdated:
		s.urls[id] = evt.Tab.URL
		switch evt.Tab.Status {
		case host.StatusLoading:
			s.bump(id)
			s.deps.Counter.Cancel(id)
			s.machine.Reset(id, evt.Tab.URL)
			s.machine.Navigated(id, evt.Tab.URL)
		case host.StatusComplete:
			s.machine.Navigated(id, evt.Tab.URL)
			s.machine.MarkComplete(id, evt.Tab.URL)
			s.refreshBadge(id, evt.Tab.URL)
		default:
			s.machine.Navigated(id, evt.Tab.URL)
			s.refreshBadge(id, evt.Tab.URL)
		}

	case host.EventReplaced:
		old := evt.ReplacedID
		prev := s.machine.Get(old)
		s.forget(old)
		s.urls[id] = evt.Tab.URL
		s.machine.Restore(id, prev.Activation)
		s.machine.MarkComplete(id, evt.Tab.URL)
		s.refreshBadge(id, evt.Tab.URL)

	case host.EventRemoved:
		s.forget(id)
	}
}

// forget drops everything known about a closed tab.
func (s *Service) forget(id host.TabID) {
	s.bump(id)
	s.deps.Counter.Cancel(id)
	s.machine.Clear(id)
	delete(s.urls, id)
}

// onChange applies the install policy after every effective state change.
// It always runs on the loop.
func (s *Service) onChange(id host.TabID, rec *tabstate.TabRecord) {
	s.deps.Renderer.Render(id, rec)
	s.persist(id, rec)
	s.updateGauge()
	if rec == nil {
		return
	}

	switch {
	case rec.Activation == tabstate.Active && rec.Ready && !rec.Installed:
		// Marked before the call returns so a second change cannot start
		// another install for the same document.
		s.machine.SetInstalled(id, true)
		s.startInstall(id, rec.Focus)
	case rec.Activation == tabstate.Inactive && rec.Installed:
		s.machine.SetInstalled(id, false)
		s.startUninstall(id)
	}
}

func (s *Service) persist(id host.TabID, rec *tabstate.TabRecord) {
	store := s.deps.Store
	if store == nil {
		return
	}
	if rec == nil {
		delete(s.persisted, id)
		if err := store.Delete(id); err != nil {
			slog.Warn("state store delete failed", "tab_id", id, "error", err)
		}
		return
	}
	entry := statestore.Entry{TabID: id, URL: s.urls[id], Activation: rec.Activation}
	if prev, ok := s.persisted[id]; ok && prev == entry {
		return
	}
	s.persisted[id] = entry
	if err := store.Put(entry); err != nil {
		slog.Warn("state store write failed", "tab_id", id, "error", err)
	}
}

func (s *Service) startInstall(id host.TabID, focus urlinfo.FocusTarget) {
	gen := s.gen[id]
	cfg := s.deps.Client.WithFocus(focus)
	s.spawn(func(ctx context.Context) {
		tab, err := s.deps.Tabs.Get(ctx, id)
		if err == nil {
			err = s.deps.Installer.Install(ctx, tab, cfg)
		}
		s.post(func() { s.finish(id, gen, "install", tab.URL, err) })
	})
}

func (s *Service) startUninstall(id host.TabID) {
	gen := s.gen[id]
	s.spawn(func(ctx context.Context) {
		tab, err := s.deps.Tabs.Get(ctx, id)
		if err == nil {
			err = s.deps.Installer.Uninstall(ctx, tab)
		}
		s.post(func() { s.finish(id, gen, "uninstall", tab.URL, err) })
	})
}

// finish applies an injection result unless the tab navigated or closed
// since the call started. An install that completes after the tab left the
// active state is undone rather than recorded.
func (s *Service) finish(id host.TabID, gen uint64, op, url string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	injectionsTotal.WithLabelValues(op, result).Inc()

	if !s.current(id, gen) {
		slog.Debug("dropping stale result", "operation", op, "tab_id", id, "error", err)
		return
	}
	if op == "install" && s.machine.Get(id).Activation != tabstate.Active {
		if err != nil {
			slog.Debug("dropping install failure for inactive tab", "tab_id", id, "error", err)
			return
		}
		slog.Info("removing overlay installed after deactivation", "tab_id", id, "url", url)
		s.startUninstall(id)
		return
	}
	if err != nil {
		s.fail(id, op, url, err)
		return
	}
	slog.Info("overlay "+op+" done", "tab_id", id, "url", url)
	if op == "install" {
		s.machine.ClearFocus(id)
	}
}

func (s *Service) fail(id host.TabID, op, url string, err error) {
	slog.Warn("overlay "+op+" failed", "tab_id", id, "url", url, "error", err)
	s.machine.Error(id, err)
	s.machine.SetInstalled(id, false)
	s.deps.Reporter.Capture(err, op, url)
}

func (s *Service) refreshBadge(id host.TabID, url string) {
	gen := s.gen[id]
	s.spawn(func(ctx context.Context) {
		n, err := s.deps.Counter.Update(ctx, id, url)
		if errors.Is(err, badge.ErrCanceled) {
			return
		}
		s.post(func() {
			if s.current(id, gen) {
				s.machine.SetAnnotationCount(id, n)
			}
		})
	})
}
