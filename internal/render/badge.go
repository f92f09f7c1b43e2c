// Package render turns tab records into the toolbar badge shown to the user.
package render

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
	"github.com/dgnsrekt/overlay_agent/internal/tabstate"
)

// Icon states.
const (
	IconActive   = "active"
	IconInactive = "inactive"
	IconError    = "error"
	IconClosed   = "closed"
)

const maxBadgeCount = 999

// Badge is the rendered toolbar state of a tab.
type Badge struct {
	TabID      host.TabID `json:"tab_id"`
	Icon       string     `json:"icon"`
	Text       string     `json:"text"`
	Title      string     `json:"title"`
	Activation string     `json:"activation"`
	Installed  bool       `json:"installed"`
	Ready      bool       `json:"ready"`
	Count      int        `json:"annotation_count"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// BadgeFor renders rec. A nil rec means the tab is gone.
func BadgeFor(id host.TabID, rec *tabstate.TabRecord) Badge {
	if rec == nil {
		return Badge{TabID: id, Icon: IconClosed, Activation: tabstate.Inactive.String()}
	}
	b := Badge{
		TabID:      id,
		Activation: rec.Activation.String(),
		Installed:  rec.Installed,
		Ready:      rec.Ready,
		Count:      rec.AnnotationCount,
	}

	switch rec.Activation {
	case tabstate.Errored:
		b.Icon = IconError
		b.Text = "!"
		b.Title = "The overlay failed to load"
		b.ErrorCode = clienterr.Code(rec.Err)
		b.Error = clienterr.UserMessage(rec.Err)
		return b
	case tabstate.Active:
		b.Icon = IconActive
		b.Title = "The overlay is active"
	default:
		b.Icon = IconInactive
		b.Title = "The overlay is inactive"
	}

	if rec.AnnotationCount > 0 {
		b.Text = countText(rec.AnnotationCount)
		if rec.AnnotationCount == 1 {
			b.Title = "There's 1 annotation on this page"
		} else {
			b.Title = fmt.Sprintf("There are %s annotations on this page", b.Text)
		}
	}
	return b
}

func countText(n int) string {
	if n > maxBadgeCount {
		return strconv.Itoa(maxBadgeCount) + "+"
	}
	return strconv.Itoa(n)
}

// Publisher sends rendered badges to the change stream.
type Publisher struct {
	broker *relay.Broker
}

func NewPublisher(b *relay.Broker) *Publisher {
	return &Publisher{broker: b}
}

// Render publishes the badge for one tab change.
func (p *Publisher) Render(id host.TabID, rec *tabstate.TabRecord) Badge {
	b := BadgeFor(id, rec)
	if p == nil || p.broker == nil {
		return b
	}
	payload, err := json.Marshal(b)
	if err != nil {
		slog.Error("badge marshal failed", "tab_id", id, "error", err)
		return b
	}
	p.broker.Publish(relay.Event{Type: "tab", TabID: string(id), Payload: string(payload)})
	return b
}
