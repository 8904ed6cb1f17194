package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeAdapter struct {
	name string
	resp Response
	err  error
}

func (f fakeAdapter) Name() string { return f.name }

func (f fakeAdapter) Complete(context.Context, Request) (Response, error) {
	return f.resp, f.err
}

func TestMockFallbackWhenUnconfigured(t *testing.T) {
	c := NewClient()
	resp, err := c.Complete(context.Background(), Request{Prompt: "summarize the ticket backlog"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Mock || resp.Model != "mock" {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Text, "summarize the ticket backlog") {
		t.Fatalf("text = %q", resp.Text)
	}
	if !strings.HasPrefix(resp.Text, "[mock completion]") {
		t.Fatalf("mock output must be tagged: %q", resp.Text)
	}
}

func TestRegisteredProviderIsUsed(t *testing.T) {
	c := NewClient()
	c.Register(fakeAdapter{name: "acme", resp: Response{Text: "real answer", Model: "acme-1"}})
	resp, err := c.Complete(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Mock || resp.Text != "real answer" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestProviderErrorIsWrapped(t *testing.T) {
	boom := errors.New("rate limited")
	c := NewClient()
	c.Register(fakeAdapter{name: "acme", err: boom})
	_, err := c.Complete(context.Background(), Request{Prompt: "hello"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if provErr.Provider != "acme" {
		t.Fatalf("provider = %q", provErr.Provider)
	}
}

func TestUnknownProvider(t *testing.T) {
	c := NewClient()
	c.Register(fakeAdapter{name: "acme"})
	_, err := c.Complete(context.Background(), Request{Prompt: "hello", Provider: "ghost"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	c := NewClient()
	if _, err := c.Complete(context.Background(), Request{Prompt: "   "}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMockCompletionTruncatesLongPrompts(t *testing.T) {
	long := strings.Repeat("x", 200)
	resp := MockCompletion(Request{Prompt: long})
	if len(resp.Text) >= len("[mock completion] ")+200 {
		t.Fatalf("prompt not truncated: %d chars", len(resp.Text))
	}
}
