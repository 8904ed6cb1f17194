package dispatch

import (
	"context"
	"time"

	"github.com/taskloom/flowscript/internal/llm"
)

// PromptHandler backs ai_prompt nodes. With no configured provider the
// client substitutes a tagged mock completion, so live mode still works in
// development environments without credentials.
type PromptHandler struct {
	Client *llm.Client
}

func (h *PromptHandler) Execute(ctx context.Context, req Request) Result {
	prompt := stringInput(req.Inputs, "prompt")
	if prompt == "" {
		return failure("ai_prompt node %s: prompt input is required", req.NodeID)
	}
	client := h.Client
	if client == nil {
		client = llm.NewClient()
	}
	start := time.Now()
	resp, err := client.Complete(ctx, llm.Request{
		Provider: stringInput(req.Inputs, "provider"),
		Model:    stringInput(req.Inputs, "model"),
		Prompt:   prompt,
		System:   stringInput(req.Inputs, "system"),
	})
	if err != nil {
		return failure("ai_prompt: %v", err)
	}
	return Result{
		Success: true,
		Output: map[string]any{
			"text":  resp.Text,
			"model": resp.Model,
			"mock":  resp.Mock,
		},
		Metrics: map[string]any{
			"provider_ms": time.Since(start).Milliseconds(),
		},
	}
}

// SimulatedPromptHandler always answers with the mock completion and never
// contacts a provider.
type SimulatedPromptHandler struct{}

func (h *SimulatedPromptHandler) Execute(_ context.Context, req Request) Result {
	prompt := stringInput(req.Inputs, "prompt")
	if prompt == "" {
		return failure("ai_prompt node %s: prompt input is required", req.NodeID)
	}
	resp := llm.MockCompletion(llm.Request{Prompt: prompt})
	return Result{
		Success: true,
		Output: map[string]any{
			"text":  resp.Text,
			"model": resp.Model,
			"mock":  true,
		},
	}
}
