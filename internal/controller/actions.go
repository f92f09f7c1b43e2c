package controller

import (
	"context"
	"log/slog"
	"sort"

	"github.com/dgnsrekt/overlay_agent/internal/classify"
	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/render"
	"github.com/dgnsrekt/overlay_agent/internal/tabstate"
)

const framePermissionMessage = "Annotating this e-book requires permission to access the frames of the page."

// TabState is the externally visible state of one tab.
type TabState struct {
	URL        string       `json:"url"`
	PendingURL string       `json:"pending_url,omitempty"`
	Badge      render.Badge `json:"badge"`
}

// ToggleResult is returned by Toggle. When the tab was in the error state,
// HelpCode and HelpMessage describe the error the user is dismissing.
type ToggleResult struct {
	State       TabState `json:"state"`
	HelpCode    string   `json:"help_code,omitempty"`
	HelpMessage string   `json:"help_message,omitempty"`
}

func (s *Service) stateOf(id host.TabID) TabState {
	rec := s.machine.Get(id)
	st := TabState{URL: s.urls[id], Badge: render.BadgeFor(id, &rec)}
	if p, ok := s.machine.Pending(id); ok {
		st.PendingURL = p.TargetURL
	}
	return st
}

// lookup returns the platform tab, keeping the loop's URL current.
func (s *Service) lookup(ctx context.Context, id host.TabID) (host.Tab, error) {
	tab, err := s.deps.Tabs.Get(ctx, id)
	if err != nil {
		return host.Tab{}, err
	}
	if tab.URL != "" {
		s.urls[id] = tab.URL
	}
	return tab, nil
}

// Toggle handles a click on the toolbar button of tab id. ctx should carry
// the user gesture of the click.
func (s *Service) Toggle(ctx context.Context, id host.TabID) (ToggleResult, error) {
	var out ToggleResult
	err := s.do(ctx, func() error {
		tab, err := s.lookup(ctx, id)
		if err != nil {
			return err
		}
		rec := s.machine.Get(id)
		switch rec.Activation {
		case tabstate.Errored:
			out.HelpCode = clienterr.Code(rec.Err)
			out.HelpMessage = clienterr.UserMessage(rec.Err)
			s.machine.Deactivate(id)
		case tabstate.Active:
			s.machine.Deactivate(id)
		default:
			if !s.requestReaderAccess(ctx, tab) {
				s.machine.Error(id, clienterr.Permission(framePermissionMessage))
				break
			}
			s.machine.Activate(id, tabstate.ActivateOptions{})
		}
		out.State = s.stateOf(id)
		return nil
	})
	return out, err
}

// requestReaderAccess asks for frame access while the click's gesture is
// still live; installs run later, outside of it.
func (s *Service) requestReaderAccess(ctx context.Context, tab host.Tab) bool {
	if s.deps.Classifier == nil || s.deps.Classifier.ClassifyURL(tab.URL) != classify.EbookReader {
		return true
	}
	if s.deps.Perms.Contains(ctx, host.CapabilityFrames) {
		return true
	}
	granted, err := s.deps.Perms.Request(ctx, host.CapabilityFrames)
	if err != nil {
		slog.Warn("frame permission request failed", "tab_id", tab.ID, "error", err)
		return false
	}
	return granted
}

// Activate turns the overlay on for id. query may carry a focus target.
func (s *Service) Activate(ctx context.Context, id host.TabID, query string) (TabState, error) {
	var out TabState
	err := s.do(ctx, func() error {
		if _, err := s.lookup(ctx, id); err != nil {
			return err
		}
		s.machine.Activate(id, tabstate.ActivateOptions{Query: query})
		out = s.stateOf(id)
		return nil
	})
	return out, err
}

func (s *Service) Deactivate(ctx context.Context, id host.TabID) (TabState, error) {
	var out TabState
	err := s.do(ctx, func() error {
		if _, err := s.lookup(ctx, id); err != nil {
			return err
		}
		s.machine.Deactivate(id)
		out = s.stateOf(id)
		return nil
	})
	return out, err
}

// OpenAndActivate opens url in a new tab and activates the overlay once the
// tab has navigated there.
func (s *Service) OpenAndActivate(ctx context.Context, url, query string) (host.TabID, error) {
	var id host.TabID
	err := s.do(ctx, func() error {
		tab, err := s.deps.Tabs.Create(ctx, url)
		if err != nil {
			return err
		}
		id = tab.ID
		s.machine.Activate(id, tabstate.ActivateOptions{DeferUntilURL: url, Query: query})
		slog.Info("opened tab with deferred activation", "tab_id", id, "url", url)
		return nil
	})
	return id, err
}

// State returns the state of one tab.
func (s *Service) State(ctx context.Context, id host.TabID) (TabState, error) {
	var out TabState
	err := s.do(ctx, func() error {
		if _, err := s.lookup(ctx, id); err != nil {
			return err
		}
		out = s.stateOf(id)
		return nil
	})
	return out, err
}

// States returns the state of every open tab, ordered by id.
func (s *Service) States(ctx context.Context) ([]TabState, error) {
	var out []TabState
	err := s.do(ctx, func() error {
		tabs, err := s.deps.Tabs.Query(ctx)
		if err != nil {
			return err
		}
		sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
		out = make([]TabState, 0, len(tabs))
		for _, tab := range tabs {
			s.urls[tab.ID] = tab.URL
			out = append(out, s.stateOf(tab.ID))
		}
		return nil
	})
	return out, err
}

// Bootstrap adopts tabs that were open before the controller started:
// overlays still running are marked installed, persisted activations are
// restored and badge counts are fetched.
func (s *Service) Bootstrap(ctx context.Context, tabs []host.Tab) error {
	running := make(map[host.TabID]bool)
	for _, tab := range tabs {
		if s.deps.Installer.ProbeActive(ctx, tab) {
			running[tab.ID] = true
		}
	}

	return s.do(ctx, func() error {
		keep := make(map[host.TabID]bool, len(tabs))
		restored := 0
		for _, tab := range tabs {
			keep[tab.ID] = true
			s.urls[tab.ID] = tab.URL
			// Order matters: Ready comes last so that neither an install
			// nor an uninstall is triggered for a running overlay.
			switch {
			case running[tab.ID]:
				s.machine.Restore(tab.ID, tabstate.Active)
				s.machine.SetInstalled(tab.ID, true)
				restored++
			case s.deps.Store != nil:
				if e, ok := s.deps.Store.Lookup(tab.ID, tab.URL); ok {
					s.machine.Restore(tab.ID, e.Activation)
					restored++
				}
			}
			if tab.Status != host.StatusLoading {
				s.machine.MarkComplete(tab.ID, tab.URL)
				s.refreshBadge(tab.ID, tab.URL)
			}
		}
		if s.deps.Store != nil {
			if err := s.deps.Store.Prune(keep); err != nil {
				slog.Warn("state store prune failed", "error", err)
			}
		}
		slog.Info("controller bootstrap done", "tabs", len(tabs), "running", len(running), "restored", restored)
		return nil
	})
}
