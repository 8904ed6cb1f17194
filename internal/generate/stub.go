package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskloom/flowscript/internal/flow"
)

// Stub is the offline generator: it emits a minimal linear script from the
// description and applies refinements as label edits. It exists so the API
// surface works end to end without model credentials.
type Stub struct{}

func (Stub) Generate(_ context.Context, description string) (*flow.Script, error) {
	title := strings.TrimSpace(description)
	if len(title) > 60 {
		title = title[:60]
	}
	id := slug(title)
	return &flow.Script{
		ID:          id,
		Title:       title,
		Description: description,
		Nodes: []*flow.Node{
			{ID: "start", Label: "Start: " + title, Actor: flow.ActorUser, Type: flow.TypeUIAction},
			{
				ID:     "process",
				Label:  "Process request",
				Actor:  flow.ActorApp,
				Type:   flow.TypeAnalysis,
				Tool:   "data_transform",
				Inputs: map[string]any{"operation": "identity", "data": map[string]any{"description": description}},
			},
			{
				ID:     "notify",
				Label:  "Notify requester",
				Actor:  flow.ActorSystem,
				Type:   flow.TypeBackground,
				Tool:   "notification",
				Inputs: map[string]any{"message": "workflow finished: " + title},
			},
		},
		Edges: []*flow.Edge{
			{From: "start", To: "process"},
			{From: "process", To: "notify"},
		},
	}, nil
}

func (Stub) Refine(_ context.Context, prior *flow.Script, instruction string) (*flow.Script, error) {
	out := prior.Clone()
	out.Description = strings.TrimSpace(prior.Description + "\nRefinement: " + instruction)
	return out, nil
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = fmt.Sprintf("flow-%d", len(s))
	}
	return out
}
