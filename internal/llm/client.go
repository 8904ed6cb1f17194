// Package llm is the minimal language-model client backing ai_prompt nodes.
// When no provider credentials are configured the client falls back to a
// clearly tagged mock completion, so graphs remain testable offline.
package llm

import (
	"context"
	"fmt"
	"strings"
)

type Request struct {
	Provider string
	Model    string
	Prompt   string
	System   string
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ConfigurationError{Message: "prompt must be non-empty"}
	}
	return nil
}

type Response struct {
	Text  string
	Model string
	// Mock marks completions produced without a real provider.
	Mock bool
}

type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
}

func NewClient() *Client {
	return &Client{providers: map[string]ProviderAdapter{}}
}

func (c *Client) Register(adapter ProviderAdapter) {
	if c.providers == nil {
		c.providers = map[string]ProviderAdapter{}
	}
	c.providers[adapter.Name()] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = adapter.Name()
	}
}

// Configured reports whether any real provider is registered.
func (c *Client) Configured() bool {
	return c != nil && len(c.providers) > 0
}

func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	if !c.Configured() {
		return MockCompletion(req), nil
	}
	prov := req.Provider
	if prov == "" {
		prov = c.defaultProvider
	}
	adapter, ok := c.providers[prov]
	if !ok {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("unknown provider: %s", prov)}
	}
	resp, err := adapter.Complete(ctx, req)
	if err != nil {
		return Response{}, &ProviderError{Provider: prov, Err: err}
	}
	return resp, nil
}

// MockCompletion is the deterministic offline fallback. The tag makes mock
// output unmistakable in traces.
func MockCompletion(req Request) Response {
	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) > 80 {
		prompt = prompt[:80] + "…"
	}
	return Response{
		Text:  fmt.Sprintf("[mock completion] %s", prompt),
		Model: "mock",
		Mock:  true,
	}
}
