package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBody = 4 << 20

// APICallHandler performs an HTTP request for api_call nodes. A received
// response is a success regardless of status code: the status lands in the
// output for edge conditions to branch on. Only transport-level failures
// (connection refused, DNS, timeout) fail the node.
type APICallHandler struct {
	Client *http.Client
}

func (h *APICallHandler) Execute(ctx context.Context, req Request) Result {
	url := stringInput(req.Inputs, "url")
	if url == "" {
		url = stringInput(req.Inputs, "endpoint")
	}
	if url == "" {
		return failure("api_call node %s: url input is required", req.NodeID)
	}
	method := strings.ToUpper(stringInput(req.Inputs, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := req.Inputs["body"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			enc, err := json.Marshal(v)
			if err != nil {
				return failure("api_call: encode body: %v", err)
			}
			body = bytes.NewReader(enc)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return failure("api_call: %v", err)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if hdrs, ok := req.Inputs["headers"].(map[string]any); ok {
		for k := range hdrs {
			httpReq.Header.Set(k, stringInput(hdrs, k))
		}
	}

	start := time.Now()
	resp, err := h.Client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failure("TimeoutError: api_call %s %s", method, url)
		}
		return failure("NetworkError: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return failure("NetworkError: read body: %v", err)
	}

	// Body is surfaced decoded when it parses as JSON, raw text otherwise.
	var decoded any
	if json.Unmarshal(data, &decoded) != nil {
		decoded = string(data)
	}
	return Result{
		Success: true,
		Output: map[string]any{
			"status": resp.StatusCode,
			"body":   decoded,
		},
		Metrics: map[string]any{
			"http_ms":     time.Since(start).Milliseconds(),
			"status_code": resp.StatusCode,
		},
	}
}

// SimulatedAPICallHandler validates inputs and fabricates a 200 response
// without opening a connection.
type SimulatedAPICallHandler struct{}

func (h *SimulatedAPICallHandler) Execute(_ context.Context, req Request) Result {
	url := stringInput(req.Inputs, "url")
	if url == "" {
		url = stringInput(req.Inputs, "endpoint")
	}
	if url == "" {
		return failure("api_call node %s: url input is required", req.NodeID)
	}
	method := strings.ToUpper(stringInput(req.Inputs, "method"))
	if method == "" {
		method = http.MethodGet
	}
	return Result{
		Success: true,
		Output: map[string]any{
			"status":    200,
			"body":      map[string]any{"simulated": true, "url": url, "method": method},
			"simulated": true,
		},
	}
}
