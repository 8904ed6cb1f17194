package dispatch

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestKind(t *testing.T) {
	cases := []struct {
		tool string
		want string
	}{
		{"api_call", "api_call"},
		{"api_call:github", "api_call"},
		{" data_transform ", "data_transform"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Kind(tc.tool); got != tc.want {
			t.Errorf("Kind(%q) = %q, want %q", tc.tool, got, tc.want)
		}
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewSimulate(Config{})
	res := d.Dispatch(context.Background(), Request{Tool: "teleport", NodeID: "n1"})
	if res.Success {
		t.Fatal("unknown kind must fail")
	}
	if !strings.Contains(res.Error, "teleport") {
		t.Fatalf("error = %q", res.Error)
	}
}

type panicHandler struct{}

func (panicHandler) Execute(context.Context, Request) Result { panic("boom") }

func TestDispatchRecoversPanics(t *testing.T) {
	d := NewSimulate(Config{})
	d.Register("explode", panicHandler{})
	res := d.Dispatch(context.Background(), Request{Tool: "explode", NodeID: "n1"})
	if res.Success {
		t.Fatal("panic must surface as failure")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestTransform(t *testing.T) {
	h := &TransformHandler{}
	cases := []struct {
		name    string
		inputs  map[string]any
		wantOK  bool
		errPart string
		check   func(t *testing.T, out any)
	}{
		{
			name: "uppercase keys",
			inputs: map[string]any{
				"operation": "uppercase_keys",
				"data":      map[string]any{"a": float64(1), "b": "x"},
			},
			wantOK: true,
			check: func(t *testing.T, out any) {
				m := out.(map[string]any)
				if m["A"] != float64(1) || m["B"] != "x" {
					t.Fatalf("out = %v", m)
				}
			},
		},
		{
			name: "string payload is parsed",
			inputs: map[string]any{
				"operation": "lowercase_keys",
				"data":      `{"KEY": true}`,
			},
			wantOK: true,
			check: func(t *testing.T, out any) {
				if out.(map[string]any)["key"] != true {
					t.Fatalf("out = %v", out)
				}
			},
		},
		{
			name: "malformed payload",
			inputs: map[string]any{
				"operation": "uppercase_keys",
				"data":      "{not json",
			},
			wantOK:  false,
			errPart: "ParseError",
		},
		{
			name: "pick",
			inputs: map[string]any{
				"operation": "pick",
				"data":      map[string]any{"keep": 1, "drop": 2},
				"fields":    []any{"keep"},
			},
			wantOK: true,
			check: func(t *testing.T, out any) {
				m := out.(map[string]any)
				if _, dropped := m["drop"]; dropped || len(m) != 1 {
					t.Fatalf("out = %v", m)
				}
			},
		},
		{
			name: "rename",
			inputs: map[string]any{
				"operation": "rename",
				"data":      map[string]any{"old": "v"},
				"mapping":   map[string]any{"old": "new"},
			},
			wantOK: true,
			check: func(t *testing.T, out any) {
				if out.(map[string]any)["new"] != "v" {
					t.Fatalf("out = %v", out)
				}
			},
		},
		{
			name:    "missing operation",
			inputs:  map[string]any{"data": map[string]any{}},
			wantOK:  false,
			errPart: "operation",
		},
		{
			name:    "missing data",
			inputs:  map[string]any{"operation": "identity"},
			wantOK:  false,
			errPart: "data",
		},
		{
			name:    "unknown operation",
			inputs:  map[string]any{"operation": "transmogrify", "data": map[string]any{}},
			wantOK:  false,
			errPart: "transmogrify",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: tc.inputs})
			if res.Success != tc.wantOK {
				t.Fatalf("success = %v (%s), want %v", res.Success, res.Error, tc.wantOK)
			}
			if tc.errPart != "" && !strings.Contains(res.Error, tc.errPart) {
				t.Fatalf("error = %q, want substring %q", res.Error, tc.errPart)
			}
			if tc.check != nil {
				tc.check(t, res.Output)
			}
		})
	}
}

func TestFileSandbox(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := &FileHandler{Root: root, Allow: []string{"*.txt", "out/**"}}

	t.Run("read allowed file", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"operation": "read", "path": "notes.txt",
		}})
		if !res.Success {
			t.Fatalf("read failed: %s", res.Error)
		}
		if res.Output.(map[string]any)["content"] != "hello" {
			t.Fatalf("output = %v", res.Output)
		}
	})

	t.Run("write then read back", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"operation": "write", "path": "out/report.md", "content": "# report",
		}})
		if !res.Success {
			t.Fatalf("write failed: %s", res.Error)
		}
		data, err := os.ReadFile(filepath.Join(root, "out", "report.md"))
		if err != nil || string(data) != "# report" {
			t.Fatalf("read back: %v %q", err, data)
		}
	})

	violations := []struct {
		name string
		path string
	}{
		{"escape with dotdot", "../outside.txt"},
		{"absolute path", "/etc/hosts"},
		{"glob mismatch", "secrets.json"},
		{"empty path", ""},
	}
	for _, tc := range violations {
		t.Run(tc.name, func(t *testing.T) {
			res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
				"operation": "read", "path": tc.path,
			}})
			if res.Success {
				t.Fatal("expected sandbox rejection")
			}
			if !strings.HasPrefix(res.Error, "PathViolation") {
				t.Fatalf("error = %q", res.Error)
			}
		})
	}

	t.Run("unknown operation", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"operation": "shred", "path": "notes.txt",
		}})
		if res.Success || !strings.Contains(res.Error, "shred") {
			t.Fatalf("res = %+v", res)
		}
	})
}

func TestSimulatedFileSandboxParity(t *testing.T) {
	h := &SimulatedFileHandler{Root: t.TempDir(), Allow: []string{"*.txt"}}
	res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
		"operation": "write", "path": "../escape.txt", "content": "x",
	}})
	if res.Success || !strings.HasPrefix(res.Error, "PathViolation") {
		t.Fatalf("simulation must apply the same sandbox, got %+v", res)
	}

	ok := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
		"operation": "write", "path": "new.txt", "content": "x",
	}})
	if !ok.Success {
		t.Fatalf("allowed path must simulate successfully: %s", ok.Error)
	}
	out := ok.Output.(map[string]any)
	if out["simulated"] != true {
		t.Fatalf("output = %v", out)
	}
}

func TestAPICall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		} else {
			w.WriteHeader(http.StatusTeapot)
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	h := &APICallHandler{Client: srv.Client()}

	t.Run("non-2xx is still a received response", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"url": srv.URL,
		}})
		if !res.Success {
			t.Fatalf("response received must be success: %s", res.Error)
		}
		out := res.Output.(map[string]any)
		if out["status"] != http.StatusTeapot {
			t.Fatalf("status = %v", out["status"])
		}
		if out["body"].(map[string]any)["ok"] != true {
			t.Fatalf("body = %v", out["body"])
		}
	})

	t.Run("post with body", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"url": srv.URL, "method": "post", "body": map[string]any{"k": "v"},
		}})
		if !res.Success || res.Output.(map[string]any)["status"] != http.StatusCreated {
			t.Fatalf("res = %+v", res)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{}})
		if res.Success || !strings.Contains(res.Error, "url") {
			t.Fatalf("res = %+v", res)
		}
	})

	t.Run("connection refused is a network error", func(t *testing.T) {
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"url": "http://127.0.0.1:1",
		}})
		if res.Success || !strings.HasPrefix(res.Error, "NetworkError") {
			t.Fatalf("res = %+v", res)
		}
	})
}

func TestAPICallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := NewLive(Config{HTTPClient: srv.Client()})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := d.Dispatch(ctx, Request{Tool: "api_call", NodeID: "slow", Inputs: map[string]any{
		"url": srv.URL,
	}})
	if res.Success {
		t.Fatal("timed-out call must fail")
	}
	if !strings.HasPrefix(res.Error, "TimeoutError") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSimulatedAPICall(t *testing.T) {
	h := &SimulatedAPICallHandler{}
	res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
		"url": "https://example.test/x",
	}})
	if !res.Success {
		t.Fatalf("res = %+v", res)
	}
	out := res.Output.(map[string]any)
	if out["status"] != 200 || out["simulated"] != true {
		t.Fatalf("output = %v", out)
	}
}

func TestPromptMockFallback(t *testing.T) {
	h := &PromptHandler{}
	res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
		"prompt": "classify this ticket",
	}})
	if !res.Success {
		t.Fatalf("res = %+v", res)
	}
	out := res.Output.(map[string]any)
	if out["mock"] != true || !strings.Contains(out["text"].(string), "classify this ticket") {
		t.Fatalf("output = %v", out)
	}

	missing := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{}})
	if missing.Success || !strings.Contains(missing.Error, "prompt") {
		t.Fatalf("res = %+v", missing)
	}
}

func TestNotifyFireAndForget(t *testing.T) {
	t.Run("no webhook configured", func(t *testing.T) {
		d := NewLive(Config{})
		res := d.Dispatch(context.Background(), Request{Tool: "notification", NodeID: "n1", Inputs: map[string]any{
			"message": "done", "channel": "ops",
		}})
		if !res.Success {
			t.Fatalf("res = %+v", res)
		}
		if res.Output.(map[string]any)["delivered"] != false {
			t.Fatalf("output = %v", res.Output)
		}
	})

	t.Run("webhook delivery", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()
		h := &NotifyHandler{Client: srv.Client(), WebhookURL: srv.URL, Logger: testLogger()}
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"message": "done",
		}})
		if !res.Success || res.Output.(map[string]any)["delivered"] != true {
			t.Fatalf("res = %+v", res)
		}
		if got != "application/json" {
			t.Fatalf("content type = %q", got)
		}
	})

	t.Run("delivery failure never fails the node", func(t *testing.T) {
		h := &NotifyHandler{Client: http.DefaultClient, WebhookURL: "http://127.0.0.1:1", Logger: testLogger()}
		res := h.Execute(context.Background(), Request{NodeID: "n1", Inputs: map[string]any{
			"message": "done",
		}})
		if !res.Success {
			t.Fatal("fire-and-forget must not fail the node")
		}
		out := res.Output.(map[string]any)
		if out["delivered"] != false || out["delivery_error"] == nil {
			t.Fatalf("output = %v", out)
		}
	})
}
