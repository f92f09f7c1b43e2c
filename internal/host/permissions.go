package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Capability is an optional permission that must be granted at runtime.
type Capability string

// CapabilityFrames allows enumerating the frames of a tab.
const CapabilityFrames Capability = "webNavigation"

// ErrNoGesture is returned by Request outside a user gesture.
var ErrNoGesture = errors.New("permissions may only be requested during a user gesture")

// Permissions is the optional-permission platform.
type Permissions interface {
	Contains(ctx context.Context, c Capability) bool
	// Request prompts for c. It is only valid while handling a user gesture.
	Request(ctx context.Context, c Capability) (bool, error)
	// FileAccess reports whether scripts may run on file: URLs.
	FileAccess(ctx context.Context) bool
}

type gestureKey struct{}

// WithUserGesture marks ctx as running inside a user gesture handler.
func WithUserGesture(ctx context.Context) context.Context {
	return context.WithValue(ctx, gestureKey{}, true)
}

// HasUserGesture reports whether ctx carries a user gesture.
func HasUserGesture(ctx context.Context) bool {
	v, _ := ctx.Value(gestureKey{}).(bool)
	return v
}

// Prompter decides a permission prompt, standing in for the user.
type Prompter func(c Capability) bool

// Grants is an in-memory Permissions implementation.
type Grants struct {
	mu         sync.RWMutex
	granted    map[Capability]bool
	fileAccess bool
	prompt     Prompter
}

// NewGrants creates a grant store. A nil prompt denies every request.
func NewGrants(fileAccess bool, prompt Prompter, granted ...Capability) *Grants {
	g := &Grants{
		granted:    make(map[Capability]bool),
		fileAccess: fileAccess,
		prompt:     prompt,
	}
	for _, c := range granted {
		g.granted[c] = true
	}
	return g
}

func (g *Grants) Contains(_ context.Context, c Capability) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[c]
}

func (g *Grants) Request(ctx context.Context, c Capability) (bool, error) {
	if g.Contains(ctx, c) {
		return true, nil
	}
	if !HasUserGesture(ctx) {
		return false, ErrNoGesture
	}
	ok := g.prompt != nil && g.prompt(c)
	slog.Info("permission prompt", "capability", c, "granted", ok)
	if !ok {
		return false, nil
	}
	g.mu.Lock()
	g.granted[c] = true
	g.mu.Unlock()
	return true, nil
}

func (g *Grants) FileAccess(context.Context) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fileAccess
}

// Revoke drops a previously granted capability.
func (g *Grants) Revoke(c Capability) {
	g.mu.Lock()
	delete(g.granted, c)
	g.mu.Unlock()
}
