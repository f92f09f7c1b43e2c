// Package tabstate owns the per-tab overlay state: what the user asked for
// (activation), what is true in the page (installed, ready) and the badge count.
package tabstate

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// Activation is the user's intended overlay state for a tab. It survives
// navigations.
type Activation int

const (
	Inactive Activation = iota
	Active
	Errored
)

func (a Activation) String() string {
	switch a {
	case Active:
		return "active"
	case Errored:
		return "errored"
	default:
		return "inactive"
	}
}

func (a Activation) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Activation) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*a = Active
	case "errored":
		*a = Errored
	case "inactive", "":
		*a = Inactive
	default:
		return fmt.Errorf("unknown activation %q", string(b))
	}
	return nil
}

// ErrUnknown stands in when Error is called without a cause.
var ErrUnknown = errors.New("unknown error")

// TabRecord is the state of one tab. Err is set iff Activation is Errored.
type TabRecord struct {
	Activation      Activation
	Installed       bool
	Ready           bool
	AnnotationCount int
	Err             error
	Focus           urlinfo.FocusTarget
}

func (r TabRecord) equal(o TabRecord) bool {
	return r.Activation == o.Activation &&
		r.Installed == o.Installed &&
		r.Ready == o.Ready &&
		r.AnnotationCount == o.AnnotationCount &&
		r.Focus == o.Focus &&
		sameError(r.Err, o.Err)
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// ActivateOptions tunes Activate.
type ActivateOptions struct {
	// DeferUntilURL postpones the activation until the tab navigates there.
	DeferUntilURL string
	// Query is a URL or fragment carrying a focus target, e.g.
	// "#annotations:query:tag:foo".
	Query string
}

// ChangeFunc receives the new record after every effective mutation. rec is
// nil once the tab has been cleared.
type ChangeFunc func(id host.TabID, rec *TabRecord)

// Machine is the tab state machine. Mutations that leave a record unchanged
// do not notify.
type Machine struct {
	mu       sync.Mutex
	tabs     map[host.TabID]TabRecord
	pending  *Tracker
	onChange ChangeFunc
}

func New(onChange ChangeFunc) *Machine {
	if onChange == nil {
		onChange = func(host.TabID, *TabRecord) {}
	}
	return &Machine{
		tabs:     make(map[host.TabID]TabRecord),
		pending:  NewTracker(),
		onChange: onChange,
	}
}

// Get returns the record for id, or the default record for unknown tabs.
func (m *Machine) Get(id host.TabID) TabRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabs[id]
}

// Known reports whether a record exists for id.
func (m *Machine) Known(id host.TabID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tabs[id]
	return ok
}

// All returns a copy of every record.
func (m *Machine) All() map[host.TabID]TabRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[host.TabID]TabRecord, len(m.tabs))
	for id, rec := range m.tabs {
		out[id] = rec
	}
	return out
}

// Pending exposes the deferred activation for id, if any.
func (m *Machine) Pending(id host.TabID) (PendingActivation, bool) {
	return m.pending.Peek(id)
}

func (m *Machine) update(id host.TabID, mutate func(*TabRecord)) {
	m.mu.Lock()
	cur, existed := m.tabs[id]
	next := cur
	mutate(&next)
	if next.Activation != Errored {
		next.Err = nil
	} else if next.Err == nil {
		next.Err = ErrUnknown
	}
	if existed && next.equal(cur) {
		m.mu.Unlock()
		return
	}
	if !existed && next.equal(TabRecord{}) {
		// Default records are implicit; storing one is not a change.
		m.mu.Unlock()
		return
	}
	m.tabs[id] = next
	m.mu.Unlock()

	rec := next
	m.onChange(id, &rec)
}

// Activate turns the overlay on for id, or defers that until the tab reaches
// opts.DeferUntilURL.
func (m *Machine) Activate(id host.TabID, opts ActivateOptions) {
	focus, _ := urlinfo.ParseFocus(opts.Query)
	if opts.DeferUntilURL != "" {
		m.pending.Add(id, PendingActivation{TargetURL: opts.DeferUntilURL, Focus: focus})
		return
	}
	m.update(id, func(r *TabRecord) {
		r.Activation = Active
		if !focus.IsZero() {
			r.Focus = focus
		}
	})
}

func (m *Machine) Deactivate(id host.TabID) {
	m.update(id, func(r *TabRecord) {
		r.Activation = Inactive
	})
}

// Error moves id to Errored with err attached.
func (m *Machine) Error(id host.TabID, err error) {
	if err == nil {
		err = ErrUnknown
	}
	m.update(id, func(r *TabRecord) {
		r.Activation = Errored
		r.Err = err
	})
}

// Reset handles the start of a navigation to url. An Errored tab gets
// another chance as Active.
func (m *Machine) Reset(id host.TabID, url string) {
	focus, hasFocus := urlinfo.ParseFocus(url)
	m.update(id, func(r *TabRecord) {
		r.Ready = false
		r.AnnotationCount = 0
		r.Installed = false
		if r.Activation == Errored {
			r.Activation = Active
		}
		if hasFocus {
			r.Focus = focus
		}
	})
}

// MarkComplete handles the end of a navigation to url. A focus target forces
// the overlay on.
func (m *Machine) MarkComplete(id host.TabID, url string) {
	focus, hasFocus := urlinfo.ParseFocus(url)
	m.update(id, func(r *TabRecord) {
		r.Ready = true
		if hasFocus {
			r.Focus = focus
		}
		if !r.Focus.IsZero() {
			r.Activation = Active
		}
	})
}

// Navigated reconciles a URL observed for id against its deferred
// activation and applies it on a match.
func (m *Machine) Navigated(id host.TabID, url string) bool {
	p, ok := m.pending.Take(id, url)
	if !ok {
		return false
	}
	m.update(id, func(r *TabRecord) {
		r.Activation = Active
		if !p.Focus.IsZero() {
			r.Focus = p.Focus
		}
	})
	return true
}

// Clear forgets id entirely.
func (m *Machine) Clear(id host.TabID) {
	m.pending.Remove(id)
	m.mu.Lock()
	_, existed := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if existed {
		m.onChange(id, nil)
	}
}

func (m *Machine) SetInstalled(id host.TabID, installed bool) {
	m.update(id, func(r *TabRecord) { r.Installed = installed })
}

func (m *Machine) SetAnnotationCount(id host.TabID, n int) {
	if n < 0 {
		n = 0
	}
	m.update(id, func(r *TabRecord) { r.AnnotationCount = n })
}

func (m *Machine) ClearFocus(id host.TabID) {
	m.update(id, func(r *TabRecord) { r.Focus = urlinfo.FocusTarget{} })
}

// Restore reapplies a persisted activation after a restart. A persisted
// Errored state is retried as Active.
func (m *Machine) Restore(id host.TabID, a Activation) {
	if a == Errored {
		a = Active
	}
	m.update(id, func(r *TabRecord) { r.Activation = a })
}
