package inject

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/classify"
	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

const (
	origin = "http://127.0.0.1:8190/ext/"
	viewer = origin + "pdfjs/web/viewer.html"
)

type call struct {
	op     string
	target host.Target
	arg    string
}

type fakePlatform struct {
	calls      []call
	probe      json.RawMessage
	bootResult json.RawMessage
	frames     []host.Frame
	execErr    error
}

func (f *fakePlatform) Get(_ context.Context, id host.TabID) (host.Tab, error) {
	f.calls = append(f.calls, call{op: "get", target: host.Target{TabID: id}})
	return host.Tab{ID: id}, nil
}

func (f *fakePlatform) Query(context.Context) ([]host.Tab, error) {
	f.calls = append(f.calls, call{op: "query"})
	return nil, nil
}

func (f *fakePlatform) Update(_ context.Context, id host.TabID, url string) error {
	f.calls = append(f.calls, call{op: "update", target: host.Target{TabID: id}, arg: url})
	return nil
}

func (f *fakePlatform) Create(_ context.Context, url string) (host.Tab, error) {
	f.calls = append(f.calls, call{op: "create", arg: url})
	return host.Tab{ID: "new", URL: url}, nil
}

func (f *fakePlatform) ExecuteFile(_ context.Context, t host.Target, file string) (json.RawMessage, error) {
	f.calls = append(f.calls, call{op: "file", target: t, arg: file})
	if f.execErr != nil {
		return nil, f.execErr
	}
	if file == "boot.js" {
		return f.bootResult, nil
	}
	return nil, nil
}

func (f *fakePlatform) ExecuteFunc(_ context.Context, t host.Target, _ string) (json.RawMessage, error) {
	f.calls = append(f.calls, call{op: "func", target: t})
	return f.probe, nil
}

func (f *fakePlatform) DeclareConfig(_ context.Context, t host.Target, payload any) error {
	b, _ := json.Marshal(payload)
	f.calls = append(f.calls, call{op: "config", target: t, arg: string(b)})
	return nil
}

func (f *fakePlatform) Frames(_ context.Context, id host.TabID) ([]host.Frame, error) {
	f.calls = append(f.calls, call{op: "frames", target: host.Target{TabID: id}})
	return f.frames, nil
}

func (f *fakePlatform) ops() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func newOrchestrator(t *testing.T, p *fakePlatform, perms host.Permissions) *Orchestrator {
	t.Helper()
	c, err := classify.New(classify.Rules{
		ViewerURL:    viewer,
		ReaderHosts:  []string{"bookshelf.vitalsource.com"},
		BlockedHosts: []string{"*.lms.hypothes.is"},
	}, p, perms)
	require.NoError(t, err)
	return New(Config{
		Origin:          origin,
		BootFile:        "boot.js",
		UnloadFile:      "unload.js",
		ReaderFrameHost: "jigsaw.vitalsource.com",
		ReaderFramePath: "/mosaic/wrapper.html",
	}, p, p, perms, c)
}

func TestInstallLocalNonPDFFailsWithoutPlatformCalls(t *testing.T) {
	for _, fileAccess := range []bool{false, true} {
		p := &fakePlatform{probe: json.RawMessage(`{"type":"PDF"}`)}
		o := newOrchestrator(t, p, host.NewGrants(fileAccess, nil))

		err := o.Install(context.Background(), host.Tab{ID: "1", URL: "file:///x.html"}, ClientConfig{})
		assert.Equal(t, clienterr.CodeLocalFile, clienterr.Code(err), "file access %v", fileAccess)
		assert.Empty(t, p.calls, "file access %v", fileAccess)
	}
}

func TestInstallLocalPDFNeedsFileAccess(t *testing.T) {
	p := &fakePlatform{}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	err := o.Install(context.Background(), host.Tab{ID: "1", URL: "file:///tmp/a.pdf"}, ClientConfig{})
	assert.Equal(t, clienterr.CodeNoFileAccess, clienterr.Code(err))
	assert.Empty(t, p.calls)
}

func TestInstallLocalPDFRedirects(t *testing.T) {
	p := &fakePlatform{probe: json.RawMessage(`{"type":"PDF"}`)}
	o := newOrchestrator(t, p, host.NewGrants(true, nil))

	err := o.Install(context.Background(), host.Tab{ID: "1", URL: "file:///tmp/a.pdf#annotations:xyz"}, ClientConfig{})
	require.NoError(t, err)
	require.Equal(t, []string{"update"}, p.ops())
	assert.Equal(t, viewer+"?file=file%3A%2F%2F%2Ftmp%2Fa.pdf#annotations:xyz", p.calls[0].arg)
}

func TestRemotePDFInstallThenUninstallRestoresURL(t *testing.T) {
	p := &fakePlatform{probe: json.RawMessage(`{"type":"PDF"}`)}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	original := "https://example.com/paper.pdf#annotations:abc"
	require.NoError(t, o.Install(context.Background(), host.Tab{ID: "1", URL: original}, ClientConfig{}))
	require.Equal(t, []string{"func", "update"}, p.ops())
	redirected := p.calls[1].arg
	assert.True(t, o.classify.IsViewer(redirected))

	p.calls = nil
	require.NoError(t, o.Install(context.Background(), host.Tab{ID: "1", URL: redirected}, ClientConfig{}))
	assert.Empty(t, p.calls, "installing on the viewer is a no-op")

	require.NoError(t, o.Uninstall(context.Background(), host.Tab{ID: "1", URL: redirected}))
	require.Equal(t, []string{"update"}, p.ops())
	assert.Equal(t, "https://example.com/paper.pdf", p.calls[0].arg)
}

func TestInstallRestrictedScheme(t *testing.T) {
	p := &fakePlatform{}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	err := o.Install(context.Background(), host.Tab{ID: "1", URL: "chrome://settings"}, ClientConfig{})
	assert.Equal(t, clienterr.CodeRestrictedProtocol, clienterr.Code(err))
	assert.Empty(t, p.calls)
}

func TestInstallBlockedSite(t *testing.T) {
	p := &fakePlatform{}
	o := newOrchestrator(t, p, host.NewGrants(true, nil, host.CapabilityFrames))

	err := o.Install(context.Background(), host.Tab{ID: "1", URL: "https://school.lms.hypothes.is/a"}, ClientConfig{})
	assert.Equal(t, clienterr.CodeBlockedSite, clienterr.Code(err))
	assert.Empty(t, p.calls)
}

func TestInstallHTMLDeclaresConfigThenBoots(t *testing.T) {
	p := &fakePlatform{probe: json.RawMessage(`{"type":"HTML"}`), bootResult: json.RawMessage(`{"installedURL":"` + origin + `boot.js"}`)}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	cfg := ClientConfig{SidebarAppURL: "https://hypothes.is/app.html"}.WithFocus(urlinfo.FocusTarget{Kind: urlinfo.FocusAnnotation, Value: "abc"})
	require.NoError(t, o.Install(context.Background(), host.Tab{ID: "1", URL: "https://example.com/"}, cfg))
	require.Equal(t, []string{"func", "config", "file"}, p.ops())
	assert.JSONEq(t, `{"sidebarAppUrl":"https://hypothes.is/app.html","annotations":"abc","openSidebar":true}`, p.calls[1].arg)
	assert.Equal(t, host.Target{TabID: "1"}, p.calls[2].target)
}

func TestInstallHTMLForeignCopy(t *testing.T) {
	p := &fakePlatform{probe: json.RawMessage(`{"type":"HTML"}`), bootResult: json.RawMessage(`{"installedURL":"https://cdn.example/embed.js"}`)}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	err := o.Install(context.Background(), host.Tab{ID: "1", URL: "https://example.com/"}, ClientConfig{})
	assert.Equal(t, clienterr.CodeAlreadyInjected, clienterr.Code(err))
	assert.True(t, clienterr.IsKnown(err))
}

func TestInstallScriptFailureIsUnknown(t *testing.T) {
	p := &fakePlatform{probe: json.RawMessage(`{"type":"HTML"}`), execErr: errors.New("SyntaxError")}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	err := o.Install(context.Background(), host.Tab{ID: "1", URL: "https://example.com/"}, ClientConfig{})
	assert.Equal(t, clienterr.CodeScriptFailure, clienterr.Code(err))
	assert.False(t, clienterr.IsKnown(err))
}

func TestInstallReader(t *testing.T) {
	reader := host.Tab{ID: "1", URL: "https://bookshelf.vitalsource.com/reader/books/9"}
	frames := []host.Frame{
		{ID: "top", URL: reader.URL},
		{ID: "content", ParentID: "top", URL: "https://jigsaw.vitalsource.com/mosaic/wrapper.html?uuid=1"},
	}

	t.Run("no gesture", func(t *testing.T) {
		p := &fakePlatform{frames: frames}
		o := newOrchestrator(t, p, host.NewGrants(false, func(host.Capability) bool { return true }))
		err := o.Install(context.Background(), reader, ClientConfig{})
		assert.Equal(t, clienterr.CodePermission, clienterr.Code(err))
		assert.Empty(t, p.calls)
	})

	t.Run("granted in gesture", func(t *testing.T) {
		p := &fakePlatform{frames: frames}
		o := newOrchestrator(t, p, host.NewGrants(false, func(host.Capability) bool { return true }))
		ctx := host.WithUserGesture(context.Background())
		require.NoError(t, o.Install(ctx, reader, ClientConfig{}))
		require.Equal(t, []string{"frames", "config", "file"}, p.ops())
		assert.Equal(t, host.Target{TabID: "1", FrameID: "content"}, p.calls[1].target)
		assert.Equal(t, host.Target{TabID: "1", FrameID: "content"}, p.calls[2].target)
	})

	t.Run("frame missing", func(t *testing.T) {
		p := &fakePlatform{frames: frames[:1]}
		o := newOrchestrator(t, p, host.NewGrants(false, nil, host.CapabilityFrames))
		err := o.Install(context.Background(), reader, ClientConfig{})
		assert.Equal(t, clienterr.CodeFrameNotFound, clienterr.Code(err))
	})

	t.Run("uninstall without frame is silent", func(t *testing.T) {
		p := &fakePlatform{frames: frames[:1]}
		o := newOrchestrator(t, p, host.NewGrants(false, nil, host.CapabilityFrames))
		assert.NoError(t, o.Uninstall(context.Background(), reader))
		assert.Equal(t, []string{"frames"}, p.ops())
	})

	t.Run("uninstall targets reader frame", func(t *testing.T) {
		p := &fakePlatform{frames: frames}
		o := newOrchestrator(t, p, host.NewGrants(false, nil, host.CapabilityFrames))
		require.NoError(t, o.Uninstall(context.Background(), reader))
		require.Equal(t, []string{"frames", "file"}, p.ops())
		assert.Equal(t, "unload.js", p.calls[1].arg)
		assert.Equal(t, "content", p.calls[1].target.FrameID)
	})
}

func TestUninstallHTML(t *testing.T) {
	p := &fakePlatform{}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	require.NoError(t, o.Uninstall(context.Background(), host.Tab{ID: "1", URL: "https://example.com/"}))
	assert.Equal(t, []call{{op: "file", target: host.Target{TabID: "1"}, arg: "unload.js"}}, p.calls)

	p.calls = nil
	require.NoError(t, o.Uninstall(context.Background(), host.Tab{ID: "1", URL: "chrome://newtab"}))
	assert.Empty(t, p.calls)
}

func TestProbeActive(t *testing.T) {
	p := &fakePlatform{probe: json.RawMessage(`true`)}
	o := newOrchestrator(t, p, host.NewGrants(false, nil))

	assert.True(t, o.ProbeActive(context.Background(), host.Tab{ID: "1", URL: "https://example.com/"}))
	assert.True(t, o.ProbeActive(context.Background(), host.Tab{ID: "1", URL: viewer + "?file=x"}))
	assert.False(t, o.ProbeActive(context.Background(), host.Tab{ID: "1", URL: "about:blank"}))

	p.probe = json.RawMessage(`false`)
	assert.False(t, o.ProbeActive(context.Background(), host.Tab{ID: "1", URL: "https://example.com/"}))
}
