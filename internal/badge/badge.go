// Package badge provides the annotation count shown on the toolbar badge.
// Lookups are debounced per tab, cached briefly per URL and never fail: a
// broken backend reads as zero annotations.
package badge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// ErrCanceled is returned to a request superseded by a newer one for the
// same tab. Callers should ignore the result.
var ErrCanceled = errors.New("badge request canceled")

// Options tunes timing and eligibility.
type Options struct {
	InitialWait time.Duration
	MaxWait     time.Duration
	CacheTTL    time.Duration
	Blocklist   []string
}

// DefaultOptions are the timings used by the add-on.
func DefaultOptions() Options {
	return Options{
		InitialWait: time.Second,
		MaxWait:     3 * time.Second,
		CacheTTL:    3 * time.Second,
		Blocklist:   urlinfo.DefaultBadgeBlocklist,
	}
}

type cacheEntry struct {
	count   int
	expires time.Time
}

type pendingRequest struct {
	cancel context.CancelFunc
	wait   time.Duration
}

// Service answers badge count lookups.
type Service struct {
	fetcher Fetcher
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	cache   map[string]cacheEntry
	pending map[host.TabID]*pendingRequest
	issued  int

	flight singleflight.Group
}

func NewService(fetcher Fetcher, opts Options) *Service {
	return &Service{
		fetcher: fetcher,
		opts:    opts,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
		pending: make(map[host.TabID]*pendingRequest),
	}
}

// Update returns the annotation count for url as shown in tab id. It waits
// before fetching so that rapid navigations in one tab cause a single
// request; an older request still waiting is canceled with ErrCanceled.
func (s *Service) Update(ctx context.Context, id host.TabID, url string) (int, error) {
	key, err := urlinfo.NormalizeForBadge(url, s.opts.Blocklist)
	if err != nil {
		lookupTotal.WithLabelValues("rejected").Inc()
		return 0, nil
	}

	s.mu.Lock()
	if e, ok := s.cache[key]; ok && s.now().Before(e.expires) {
		if prev := s.pending[id]; prev != nil {
			prev.cancel()
			delete(s.pending, id)
		}
		s.mu.Unlock()
		lookupTotal.WithLabelValues("cache_hit").Inc()
		return e.count, nil
	}

	wait := s.opts.InitialWait
	if prev := s.pending[id]; prev != nil {
		prev.cancel()
		wait = min(prev.wait*2, s.opts.MaxWait)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	req := &pendingRequest{cancel: cancel, wait: wait}
	s.pending[id] = req
	s.issued++
	s.mu.Unlock()
	defer cancel()

	timer := time.NewTimer(wait)
	select {
	case <-waitCtx.Done():
		timer.Stop()
		s.forget(id, req)
		lookupTotal.WithLabelValues("canceled").Inc()
		return 0, ErrCanceled
	case <-timer.C:
	}
	s.forget(id, req)

	lookupTotal.WithLabelValues("fetched").Inc()
	return s.fetch(ctx, key), nil
}

func (s *Service) forget(id host.TabID, req *pendingRequest) {
	s.mu.Lock()
	if s.pending[id] == req {
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

// fetch coalesces identical in-flight lookups across tabs.
func (s *Service) fetch(ctx context.Context, key string) int {
	v, err, _ := s.flight.Do(key, func() (any, error) {
		s.mu.Lock()
		if e, ok := s.cache[key]; ok && s.now().Before(e.expires) {
			s.mu.Unlock()
			return e.count, nil
		}
		s.mu.Unlock()

		n, err := s.fetcher.Fetch(ctx, key)
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		s.cache[key] = cacheEntry{count: n, expires: s.now().Add(s.opts.CacheTTL)}
		s.prune()
		s.mu.Unlock()
		return n, nil
	})
	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		slog.Warn("badge fetch failed", "uri", key, "error", err)
		return 0
	}
	fetchTotal.WithLabelValues("ok").Inc()
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}

// prune drops expired entries. Callers hold s.mu.
func (s *Service) prune() {
	now := s.now()
	for k, e := range s.cache {
		if !now.Before(e.expires) {
			delete(s.cache, k)
		}
	}
}

// Cancel abandons the waiting request for id, if any.
func (s *Service) Cancel(id host.TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.pending[id]; prev != nil {
		prev.cancel()
		delete(s.pending, id)
	}
}
