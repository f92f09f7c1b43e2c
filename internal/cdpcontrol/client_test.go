package cdpcontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/overlay_agent/internal/host"
)

type fakeCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// fakeBrowser speaks just enough CDP to attach to one page and evaluate.
type fakeBrowser struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls []fakeCall
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws://" + r.Host + "/devtools/browser"
		json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "T1", "type": "page", "url": "https://example.com/", "title": "Example"},
		})
	})
	mux.HandleFunc("/devtools/browser", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var msg struct {
				ID        int64           `json:"id"`
				Method    string          `json:"method"`
				SessionID string          `json:"sessionId"`
				Params    json.RawMessage `json:"params"`
			}
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			fb.mu.Lock()
			fb.calls = append(fb.calls, fakeCall{Method: msg.Method, SessionID: msg.SessionID, Params: msg.Params})
			fb.mu.Unlock()

			resp, _ := json.Marshal(map[string]any{"id": msg.ID, "result": fb.result(msg.Method, msg.Params)})
			if err := wsutil.WriteServerText(conn, resp); err != nil {
				return
			}
		}
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) result(method string, params json.RawMessage) any {
	switch method {
	case "Target.attachToTarget":
		return map[string]string{"sessionId": "S1"}
	case "Page.createIsolatedWorld":
		return map[string]int{"executionContextId": 7}
	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
			ContextID  int64  `json:"contextId"`
		}
		json.Unmarshal(params, &p)
		if p.Expression == readyStateJS {
			return map[string]any{"result": map[string]any{"type": "object", "value": map[string]string{"state": "complete", "url": "https://example.com/"}}}
		}
		if p.ContextID != 7 {
			return map[string]any{"exceptionDetails": map[string]string{"text": "wrong world"}}
		}
		return map[string]any{"result": map[string]any{"type": "object", "value": map[string]string{"type": "PDF"}}}
	case "Page.getFrameTree":
		return map[string]any{"frameTree": map[string]any{"frame": map[string]string{"id": "T1", "url": "https://example.com/"}}}
	default:
		return map[string]any{}
	}
}

func (fb *fakeBrowser) count(method string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, c := range fb.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (fb *fakeBrowser) last(method string) (fakeCall, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := len(fb.calls) - 1; i >= 0; i-- {
		if fb.calls[i].Method == method {
			return fb.calls[i], true
		}
	}
	return fakeCall{}, false
}

func TestClientAgainstFakeBrowser(t *testing.T) {
	fb := newFakeBrowser(t)
	bundle := fstest.MapFS{"boot.js": {Data: []byte(`({installedURL: ""})`)}}
	c := NewClient(fb.srv.URL, bundle, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() = %v; want nil", err)
	}
	defer c.Close()

	tab, err := c.Get(ctx, "T1")
	if err != nil || tab.URL != "https://example.com/" {
		t.Fatalf("Get() = %+v, %v; want seeded tab", tab, err)
	}

	for i := 0; i < 2; i++ {
		raw, err := c.ExecuteFunc(ctx, host.Target{TabID: "T1"}, "(function(){ return 1; })()")
		if err != nil {
			t.Fatalf("ExecuteFunc() = %v; want nil", err)
		}
		var got map[string]string
		if err := json.Unmarshal(raw, &got); err != nil || got["type"] != "PDF" {
			t.Fatalf("ExecuteFunc() = %s; want {\"type\":\"PDF\"}", raw)
		}
	}
	if n := fb.count("Page.createIsolatedWorld"); n != 1 {
		t.Fatalf("createIsolatedWorld calls = %d; want 1 (cached)", n)
	}
	if n := fb.count("Target.attachToTarget"); n != 1 {
		t.Fatalf("attachToTarget calls = %d; want 1", n)
	}

	if _, err := c.ExecuteFile(ctx, host.Target{TabID: "T1"}, "boot.js"); err != nil {
		t.Fatalf("ExecuteFile() = %v; want nil", err)
	}
	if _, err := c.ExecuteFile(ctx, host.Target{TabID: "T1"}, "missing.js"); err == nil {
		t.Fatal("ExecuteFile(missing) = nil; want error")
	}

	if err := c.DeclareConfig(ctx, host.Target{TabID: "T1"}, map[string]string{"assetRoot": "https://cdn.example/"}); err != nil {
		t.Fatalf("DeclareConfig() = %v; want nil", err)
	}
	call, _ := fb.last("Runtime.evaluate")
	if !strings.Contains(string(call.Params), host.ConfigTagClass) || !strings.Contains(string(call.Params), "assetRoot") {
		t.Fatalf("DeclareConfig sent %s; want config tag with payload", call.Params)
	}

	frames, err := c.Frames(ctx, "T1")
	if err != nil || len(frames) != 1 || frames[0].ID != "T1" {
		t.Fatalf("Frames() = %+v, %v; want top frame", frames, err)
	}

	if err := c.Update(ctx, "T1", "https://example.com/next"); err != nil {
		t.Fatalf("Update() = %v; want nil", err)
	}
	call, _ = fb.last("Page.navigate")
	if call.SessionID != "S1" || !strings.Contains(string(call.Params), "https://example.com/next") {
		t.Fatalf("Page.navigate = %+v; want session S1 and url", call)
	}
}
