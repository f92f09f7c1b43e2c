// Package controller coordinates the overlay for every tab. A single loop
// goroutine owns the tab state machine; platform calls run on worker
// goroutines and post their results back to the loop.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgnsrekt/overlay_agent/internal/classify"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/inject"
	"github.com/dgnsrekt/overlay_agent/internal/render"
	"github.com/dgnsrekt/overlay_agent/internal/statestore"
	"github.com/dgnsrekt/overlay_agent/internal/tabstate"
	"github.com/dgnsrekt/overlay_agent/internal/telemetry"
)

// ErrStopped is returned by operations submitted after Run has returned.
var ErrStopped = errors.New("controller stopped")

// ErrEventsClosed is returned by Run when the platform event stream ends.
var ErrEventsClosed = errors.New("tab event stream closed")

var (
	injectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_injections_total",
		Help: "Install and uninstall attempts, by operation and result",
	}, []string{"operation", "result"})

	tabsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overlay_tabs",
		Help: "Tracked tabs, by activation",
	}, []string{"activation"})
)

// Installer adds and removes the overlay.
type Installer interface {
	Install(ctx context.Context, tab host.Tab, cfg inject.ClientConfig) error
	Uninstall(ctx context.Context, tab host.Tab) error
	ProbeActive(ctx context.Context, tab host.Tab) bool
}

// Counter looks up annotation counts.
type Counter interface {
	Update(ctx context.Context, id host.TabID, url string) (int, error)
	Cancel(id host.TabID)
}

// Renderer shows a tab's state to the user.
type Renderer interface {
	Render(id host.TabID, rec *tabstate.TabRecord) render.Badge
}

// URLClassifier classifies without touching the page.
type URLClassifier interface {
	ClassifyURL(url string) classify.Kind
}

// Deps are the collaborators of a Service. Store and Reporter may be nil.
type Deps struct {
	Tabs       host.Tabs
	Perms      host.Permissions
	Installer  Installer
	Classifier URLClassifier
	Counter    Counter
	Renderer   Renderer
	Store      *statestore.Store
	Reporter   *telemetry.Reporter
	// Client is the boot configuration handed to every installed overlay.
	Client inject.ClientConfig
}

type Service struct {
	deps    Deps
	machine *tabstate.Machine

	ops  chan func()
	done chan struct{}
	stop sync.Once
	wg   sync.WaitGroup
	ctx  context.Context

	// Loop-owned.
	gen       map[host.TabID]uint64
	urls      map[host.TabID]string
	persisted map[host.TabID]statestore.Entry
}

func New(deps Deps) *Service {
	s := &Service{
		deps:      deps,
		ops:       make(chan func(), 64),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		gen:       make(map[host.TabID]uint64),
		urls:      make(map[host.TabID]string),
		persisted: make(map[host.TabID]statestore.Entry),
	}
	s.machine = tabstate.New(s.onChange)
	return s
}

// Run processes platform events and submitted operations until ctx ends or
// events closes. Workers started by the loop are waited for before return.
func (s *Service) Run(ctx context.Context, events <-chan host.TabEvent) error {
	s.ctx = ctx
	defer func() {
		s.stop.Do(func() { close(s.done) })
		s.wg.Wait()
	}()

	slog.Info("controller loop started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("controller loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				slog.Warn("controller event stream closed")
				return ErrEventsClosed
			}
			s.handleEvent(evt)
		case fn := <-s.ops:
			fn()
		}
	}
}

// do runs fn on the loop and waits for its result.
func (s *Service) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	op := func() { res <- fn() }
	select {
	case s.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// post queues fn on the loop without waiting. Used by workers.
func (s *Service) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

// spawn runs fn on a worker goroutine bound to the loop's context.
func (s *Service) spawn(fn func(ctx context.Context)) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

// bump invalidates every in-flight result for id.
func (s *Service) bump(id host.TabID) {
	s.gen[id]++
}

func (s *Service) current(id host.TabID, gen uint64) bool {
	return s.gen[id] == gen
}

func (s *Service) updateGauge() {
	counts := map[tabstate.Activation]int{}
	for _, rec := range s.machine.All() {
		counts[rec.Activation]++
	}
	for _, a := range []tabstate.Activation{tabstate.Inactive, tabstate.Active, tabstate.Errored} {
		tabsGauge.WithLabelValues(a.String()).Set(float64(counts[a]))
	}
}
