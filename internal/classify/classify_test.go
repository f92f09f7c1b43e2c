package classify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/host"
)

const viewer = "http://127.0.0.1:8190/ext/pdfjs/web/viewer.html"

type fakeScripts struct {
	host.Scripting
	calls  int
	result json.RawMessage
	err    error
}

func (f *fakeScripts) ExecuteFunc(context.Context, host.Target, string) (json.RawMessage, error) {
	f.calls++
	return f.result, f.err
}

func newClassifier(t *testing.T, scripts host.Scripting, perms host.Permissions) *Classifier {
	t.Helper()
	c, err := New(Rules{
		ViewerURL:    viewer,
		ReaderHosts:  []string{"bookshelf.vitalsource.com"},
		BlockedHosts: []string{"lms.hypothes.is", "*.lms.hypothes.is"},
	}, scripts, perms)
	require.NoError(t, err)
	return c
}

func TestViewerClassifiesAsPDFWithoutProbe(t *testing.T) {
	scripts := &fakeScripts{result: json.RawMessage(`{"type":"HTML"}`)}
	c := newClassifier(t, scripts, host.NewGrants(false, nil))

	got := c.Classify(context.Background(), host.Tab{ID: "1", URL: viewer + "?file=https%3A%2F%2Fx.com%2Fa.pdf"})
	assert.Equal(t, PDF, got)
	assert.Zero(t, scripts.calls)
}

func TestURLRulesPrecedeProbe(t *testing.T) {
	scripts := &fakeScripts{result: json.RawMessage(`{"type":"PDF"}`)}
	c := newClassifier(t, scripts, host.NewGrants(false, nil))

	assert.Equal(t, EbookReader, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://bookshelf.vitalsource.com/reader/books/1"}))
	assert.Equal(t, Blocked, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://canvas.lms.hypothes.is/course"}))
	assert.Equal(t, Blocked, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://lms.hypothes.is/"}))
	assert.Zero(t, scripts.calls)
}

func TestProbeResultWins(t *testing.T) {
	scripts := &fakeScripts{result: json.RawMessage(`{"type":"PDF"}`)}
	c := newClassifier(t, scripts, host.NewGrants(false, nil))

	assert.Equal(t, PDF, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://example.com/download?id=3"}))
	assert.Equal(t, 1, scripts.calls)
}

func TestProbeFailureFallsBackToFilename(t *testing.T) {
	scripts := &fakeScripts{err: errors.New("Cannot access contents of url")}
	c := newClassifier(t, scripts, host.NewGrants(false, nil))

	assert.Equal(t, PDF, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://example.com/paper.pdf"}))
	assert.Equal(t, HTML, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://example.com/paper.html"}))

	scripts.err = nil
	scripts.result = json.RawMessage(`"garbage"`)
	assert.Equal(t, PDF, c.Classify(context.Background(), host.Tab{ID: "1", URL: "https://example.com/paper.pdf"}))
}

func TestFileURLsNeedFileAccessForProbe(t *testing.T) {
	scripts := &fakeScripts{result: json.RawMessage(`{"type":"PDF"}`)}

	denied := newClassifier(t, scripts, host.NewGrants(false, nil))
	assert.Equal(t, HTML, denied.Classify(context.Background(), host.Tab{ID: "1", URL: "file:///tmp/doc"}))
	assert.Zero(t, scripts.calls)

	granted := newClassifier(t, scripts, host.NewGrants(true, nil))
	assert.True(t, granted.CanScript(context.Background(), "file:///tmp/doc"))
	assert.Equal(t, PDF, granted.Classify(context.Background(), host.Tab{ID: "1", URL: "file:///tmp/doc"}))
	assert.Equal(t, 1, scripts.calls)
}

func TestRestrictedSchemesAreNotProbed(t *testing.T) {
	scripts := &fakeScripts{result: json.RawMessage(`{"type":"PDF"}`)}
	c := newClassifier(t, scripts, host.NewGrants(true, nil))

	assert.False(t, c.CanScript(context.Background(), "chrome://settings"))
	assert.Equal(t, HTML, c.Classify(context.Background(), host.Tab{ID: "1", URL: "chrome://settings"}))
	assert.Zero(t, scripts.calls)
}

func TestClassifyURL(t *testing.T) {
	c := newClassifier(t, nil, nil)
	assert.Equal(t, PDF, c.ClassifyURL("file:///home/me/a.PDF"))
	assert.Equal(t, HTML, c.ClassifyURL("https://example.com/"))
	assert.Equal(t, EbookReader, c.ClassifyURL("https://bookshelf.vitalsource.com/"))
}
