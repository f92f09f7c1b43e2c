// Package statestore persists the activation the user chose for each tab so
// that a restarted controller can restore it.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/tabstate"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// Entry is the persisted state of one tab.
type Entry struct {
	TabID      host.TabID          `json:"tab_id"`
	URL        string              `json:"url,omitempty"`
	Activation tabstate.Activation `json:"activation"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type fileFormat struct {
	Tabs []Entry `json:"tabs"`
}

// Store keeps entries in memory and mirrors them to a JSON file.
type Store struct {
	path    string
	mu      sync.RWMutex
	entries map[host.TabID]Entry
}

// Open loads path if it exists. An empty path keeps state in memory only.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[host.TabID]Entry)}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state store: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("state store: read: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("state store unreadable, starting empty", "path", path, "error", err)
		return s, nil
	}
	for _, e := range f.Tabs {
		s.entries[e.TabID] = e
	}
	return s, nil
}

// Put records e, replacing any entry for the same tab.
func (s *Store) Put(e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[e.TabID]; ok && cur.URL == e.URL && cur.Activation == e.Activation {
		return nil
	}
	s.entries[e.TabID] = e
	return s.flush()
}

// Delete forgets a tab.
func (s *Store) Delete(id host.TabID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	return s.flush()
}

// Lookup finds the entry for a tab, falling back to one recorded for the
// same page under another id (tab ids change when the browser restarts).
func (s *Store) Lookup(id host.TabID, url string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e, true
	}
	if url == "" {
		return Entry{}, false
	}
	key := urlinfo.NormalizeForMatch(url)
	var best Entry
	found := false
	for _, e := range s.entries {
		if e.URL == "" || urlinfo.NormalizeForMatch(e.URL) != key {
			continue
		}
		if !found || e.UpdatedAt.After(best.UpdatedAt) {
			best, found = e, true
		}
	}
	return best, found
}

// List returns all entries, most recently updated first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Prune keeps only the given tabs.
func (s *Store) Prune(keep map[host.TabID]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for id := range s.entries {
		if !keep[id] {
			delete(s.entries, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flush()
}

// flush writes the file via a temp file and rename. Callers hold s.mu.
func (s *Store) flush() error {
	if s.path == "" {
		return nil
	}
	f := fileFormat{Tabs: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		f.Tabs = append(f.Tabs, e)
	}
	sort.Slice(f.Tabs, func(i, j int) bool { return f.Tabs[i].TabID < f.Tabs[j].TabID })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("state store: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("state store: rename: %w", err)
	}
	return nil
}
