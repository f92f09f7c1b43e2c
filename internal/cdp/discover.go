// Package cdp lists the tabs that were open before the controller started.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/overlay_agent/internal/host"
)

const discoverTimeout = 15 * time.Second

// Discover connects to the browser at cdpURL through the chromedp remote
// allocator and returns its page targets. The helper tab chromedp opens for
// the connection is left out of the result and closed before returning.
func Discover(ctx context.Context, cdpURL string) ([]host.Tab, error) {
	slog.Info("Discovering browser tabs", "url", cdpURL)

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cdpURL)
	defer allocCancel()

	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}

	var helper target.ID
	if c := chromedp.FromContext(tempCtx); c != nil && c.Target != nil {
		helper = c.Target.TargetID
	}
	tabs := pageTabs(targets, helper)
	slog.Info("Found browser tabs", "targets", len(targets), "pages", len(tabs))
	return tabs, nil
}

// pageTabs keeps page targets other than skip.
func pageTabs(targets []*target.Info, skip target.ID) []host.Tab {
	tabs := make([]host.Tab, 0, len(targets))
	for _, t := range targets {
		if t == nil || t.Type != "page" || t.TargetID == skip {
			continue
		}
		tabs = append(tabs, host.Tab{
			ID:     host.TabID(t.TargetID),
			URL:    t.URL,
			Title:  t.Title,
			Status: host.StatusComplete,
		})
	}
	return tabs
}
