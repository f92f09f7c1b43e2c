package tabstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

func TestTrackerTakeMatchesNormalizedURL(t *testing.T) {
	tr := NewTracker()
	focus := urlinfo.FocusTarget{Kind: urlinfo.FocusAnnotation, Value: "abc"}
	tr.Add("1", PendingActivation{TargetURL: "https://Example.com", Focus: focus})

	_, ok := tr.Take("1", "https://other.example/")
	assert.False(t, ok, "a different page must not consume the activation")
	_, ok = tr.Take("2", "https://example.com/")
	assert.False(t, ok, "another tab must not consume the activation")

	p, ok := tr.Take("1", "http://example.com/#section")
	require.True(t, ok)
	assert.Equal(t, focus, p.Focus)
	assert.Zero(t, tr.Len())

	_, ok = tr.Take("1", "https://example.com/")
	assert.False(t, ok, "an activation is consumed once")
}

func TestTrackerAddReplacesAndRemoveDrops(t *testing.T) {
	tr := NewTracker()
	tr.Add("1", PendingActivation{TargetURL: "https://a.example/"})
	tr.Add("1", PendingActivation{TargetURL: "https://b.example/"})

	p, ok := tr.Peek("1")
	require.True(t, ok)
	assert.Equal(t, "https://b.example/", p.TargetURL)
	assert.Equal(t, 1, tr.Len())

	tr.Remove("1")
	_, ok = tr.Peek("1")
	assert.False(t, ok)
}
