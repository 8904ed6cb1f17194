// Package dispatch executes the concrete side effect named by a node's tool
// identifier. Handlers never panic through the dispatcher and never return
// Go errors to the engine; every failure is folded into the Result so the
// interpreter can record it as a trace and keep independent branches moving.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskloom/flowscript/internal/llm"
)

// Action kinds. A tool identifier is either a bare kind ("api_call") or a
// kind with a qualifier ("api_call:github"); the qualifier is handler data.
const (
	KindAIPrompt      = "ai_prompt"
	KindAPICall       = "api_call"
	KindFileOperation = "file_operation"
	KindDataTransform = "data_transform"
	KindNotification  = "notification"
)

// Kind extracts the action kind from a tool identifier.
func Kind(tool string) string {
	tool = strings.TrimSpace(tool)
	if i := strings.Index(tool, ":"); i >= 0 {
		return tool[:i]
	}
	return tool
}

type Request struct {
	RunID  string
	NodeID string
	CallID string
	Tool   string
	// Inputs has had every @nodeId.field reference substituted already.
	Inputs map[string]any
}

type Result struct {
	Output  any
	Success bool
	Error   string
	Metrics map[string]any
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

type Handler interface {
	Execute(ctx context.Context, req Request) Result
}

// Config carries the collaborators and limits handlers need. The same
// config builds both the live and the simulate handler sets, so sandbox and
// timeout behavior stays identical across modes.
type Config struct {
	HTTPClient   *http.Client
	LLM          *llm.Client
	SandboxRoot  string
	SandboxAllow []string
	WebhookURL   string
	Logger       *log.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Dispatcher routes an action to its handler by kind.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewLive builds the dispatcher with real side-effecting handlers.
func NewLive(cfg Config) *Dispatcher {
	d := &Dispatcher{handlers: map[string]Handler{}}
	d.Register(KindAIPrompt, &PromptHandler{Client: cfg.LLM})
	d.Register(KindAPICall, &APICallHandler{Client: cfg.httpClient()})
	d.Register(KindFileOperation, &FileHandler{Root: cfg.SandboxRoot, Allow: cfg.SandboxAllow})
	d.Register(KindDataTransform, &TransformHandler{})
	d.Register(KindNotification, &NotifyHandler{Client: cfg.httpClient(), WebhookURL: cfg.WebhookURL, Logger: cfg.logger()})
	return d
}

// NewSimulate builds the dispatcher with non-side-effecting handlers. Pure
// handlers (data_transform) are shared with the live set; the rest return
// deterministic mock output while keeping identical input contracts.
func NewSimulate(cfg Config) *Dispatcher {
	d := &Dispatcher{handlers: map[string]Handler{}}
	d.Register(KindAIPrompt, &SimulatedPromptHandler{})
	d.Register(KindAPICall, &SimulatedAPICallHandler{})
	d.Register(KindFileOperation, &SimulatedFileHandler{Root: cfg.SandboxRoot, Allow: cfg.SandboxAllow})
	d.Register(KindDataTransform, &TransformHandler{})
	d.Register(KindNotification, &SimulatedNotifyHandler{})
	return d
}

func (d *Dispatcher) Register(kind string, h Handler) {
	if d.handlers == nil {
		d.handlers = map[string]Handler{}
	}
	d.handlers[kind] = h
}

// Dispatch executes the request's action. Handler panics are recovered and
// reported as failed results; a timed-out context surfaces as TimeoutError.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (res Result) {
	if req.CallID == "" {
		req.CallID = ulid.Make().String()
	}
	kind := Kind(req.Tool)
	h, ok := d.handlers[kind]
	if !ok {
		return failure("unknown tool kind %q", kind)
	}
	defer func() {
		if r := recover(); r != nil {
			res = failure("handler panic: %v", r)
			res.Metrics = map[string]any{"stack": string(debug.Stack())}
		}
	}()
	res = h.Execute(ctx, req)
	if !res.Success && ctx.Err() == context.DeadlineExceeded && !strings.HasPrefix(res.Error, "TimeoutError") {
		res.Error = "TimeoutError: " + res.Error
	}
	return res
}

// stringInput reads a string-typed input, tolerating non-string JSON values.
func stringInput(inputs map[string]any, key string) string {
	v, ok := inputs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
