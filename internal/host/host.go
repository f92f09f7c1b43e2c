// Package host defines the browser platform contracts the overlay core
// depends on. Every callback-style browser API is adapted once, here, into
// context-aware calls that return values or errors.
package host

import (
	"context"
	"encoding/json"
	"errors"
)

// TabID identifies a browser tab. It is stable for the tab's lifetime.
type TabID string

// Status is the lifecycle status delivered with tab updates.
type Status string

const (
	StatusNone     Status = ""
	StatusLoading  Status = "loading"
	StatusComplete Status = "complete"
)

// Tab is a snapshot of a browser tab.
type Tab struct {
	ID     TabID  `json:"tab_id"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Status Status `json:"status,omitempty"`
}

// EventKind enumerates tab lifecycle notifications.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventReplaced EventKind = "replaced"
	EventRemoved  EventKind = "removed"
)

// TabEvent is one lifecycle notification. For EventReplaced, Tab is the new
// tab and ReplacedID the one it replaces. An EventUpdated with StatusNone is a
// URL change without a new document.
type TabEvent struct {
	Kind       EventKind
	Tab        Tab
	ReplacedID TabID
}

// Target addresses a frame inside a tab. An empty FrameID is the top frame.
type Target struct {
	TabID   TabID
	FrameID string
}

// Frame describes one browsing context inside a tab.
type Frame struct {
	ID       string `json:"frame_id"`
	ParentID string `json:"parent_id,omitempty"`
	URL      string `json:"url"`
}

// ConfigTagClass marks the JSON configuration tag added by DeclareConfig.
const ConfigTagClass = "js-overlay-config"

// ErrNoTab is returned when a tab id does not exist (any more).
var ErrNoTab = errors.New("no tab with id")

// ErrTabClosed is returned when a tab goes away while an operation runs.
var ErrTabClosed = errors.New("the tab was closed")

// Tabs is the tab management platform.
type Tabs interface {
	Get(ctx context.Context, id TabID) (Tab, error)
	Query(ctx context.Context) ([]Tab, error)
	Update(ctx context.Context, id TabID, url string) error
	Create(ctx context.Context, url string) (Tab, error)
}

// Scripting runs code inside tab frames.
type Scripting interface {
	// ExecuteFile runs a script file from the add-on bundle and returns its
	// completion value as JSON.
	ExecuteFile(ctx context.Context, target Target, file string) (json.RawMessage, error)
	// ExecuteFunc evaluates a self-contained function expression.
	ExecuteFunc(ctx context.Context, target Target, source string) (json.RawMessage, error)
	// DeclareConfig adds a declarative JSON configuration tag to the
	// document; it is discovered by the overlay at boot, never executed.
	DeclareConfig(ctx context.Context, target Target, payload any) error
	// Frames lists every frame of a tab. Callers must hold CapabilityFrames.
	Frames(ctx context.Context, id TabID) ([]Frame, error)
}

// EventSource streams tab lifecycle events until ctx ends.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan TabEvent, error)
}
