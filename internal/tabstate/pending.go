package tabstate

import (
	"sync"

	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// PendingActivation is an activation that takes effect once the tab has
// navigated to TargetURL.
type PendingActivation struct {
	TargetURL string
	Focus     urlinfo.FocusTarget
}

// Tracker holds deferred activations, one per tab.
type Tracker struct {
	mu      sync.Mutex
	pending map[host.TabID]PendingActivation
}

func NewTracker() *Tracker {
	return &Tracker{pending: make(map[host.TabID]PendingActivation)}
}

// Add replaces any deferred activation already stored for id.
func (t *Tracker) Add(id host.TabID, p PendingActivation) {
	t.mu.Lock()
	t.pending[id] = p
	t.mu.Unlock()
}

// Take consumes the deferred activation for id when url matches its target.
// Scheme, fragment and host case are ignored for the comparison.
func (t *Tracker) Take(id host.TabID, url string) (PendingActivation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return PendingActivation{}, false
	}
	if urlinfo.NormalizeForMatch(p.TargetURL) != urlinfo.NormalizeForMatch(url) {
		return PendingActivation{}, false
	}
	delete(t.pending, id)
	return p, true
}

// Peek returns the deferred activation for id without consuming it.
func (t *Tracker) Peek(id host.TabID) (PendingActivation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	return p, ok
}

func (t *Tracker) Remove(id host.TabID) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Len returns the number of deferred activations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
