package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatConfig configures an adapter for any endpoint speaking the
// OpenAI chat-completions wire format, which is what hosted providers and
// local gateways alike expose.
type OpenAICompatConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	// Path defaults to /v1/chat/completions.
	Path string
	// DefaultModel is used when the request names no model.
	DefaultModel string
	HTTPClient   *http.Client
}

// OpenAICompat is the concrete ProviderAdapter behind live ai_prompt nodes.
type OpenAICompat struct {
	cfg    OpenAICompatConfig
	client *http.Client
}

func NewOpenAICompat(cfg OpenAICompatConfig) *OpenAICompat {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/v1/chat/completions"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &OpenAICompat{cfg: cfg, client: client}
}

func (a *OpenAICompat) Name() string { return a.cfg.Provider }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OpenAICompat) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	if model == "" {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("provider %s: no model configured", a.cfg.Provider)}
	}

	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatCompletionsRequest{Model: model, Messages: msgs})
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}
	var parsed chatCompletionsResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return Response{}, fmt.Errorf("%s returned status %d: %s", a.cfg.Provider, resp.StatusCode, parsed.Error.Message)
		}
		return Response{}, fmt.Errorf("%s returned status %d", a.cfg.Provider, resp.StatusCode)
	}
	if decodeErr != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", a.cfg.Provider, decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%s returned no choices", a.cfg.Provider)
	}
	respModel := parsed.Model
	if respModel == "" {
		respModel = model
	}
	return Response{Text: parsed.Choices[0].Message.Content, Model: respModel}, nil
}
