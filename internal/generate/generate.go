// Package generate produces and refines FlowScript documents from natural
// language. The Generator boundary keeps the engine ignorant of which model
// (or stub) wrote the script.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskloom/flowscript/internal/flow"
	"github.com/taskloom/flowscript/internal/validate"
)

// Generator turns a description (plus optionally a prior script) into a
// FlowScript document.
type Generator interface {
	Generate(ctx context.Context, description string) (*flow.Script, error)
	Refine(ctx context.Context, prior *flow.Script, instruction string) (*flow.Script, error)
}

// GenerationError wraps a failed generation or refinement. The prior script
// is untouched when Refine fails; callers keep serving it.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Service validates generator output and preserves node identity across
// refinements.
type Service struct {
	gen Generator
}

func NewService(gen Generator) *Service {
	return &Service{gen: gen}
}

// Generate produces a fresh script and rejects structurally invalid output.
func (s *Service) Generate(ctx context.Context, description string) (*flow.Script, error) {
	if strings.TrimSpace(description) == "" {
		return nil, &GenerationError{Stage: "generate", Err: fmt.Errorf("description must be non-empty")}
	}
	out, err := s.gen.Generate(ctx, description)
	if err != nil {
		return nil, &GenerationError{Stage: "generate", Err: err}
	}
	if err := validate.ValidateOrError(out); err != nil {
		return nil, &GenerationError{Stage: "generate", Err: err}
	}
	return out, nil
}

// Refine regenerates the script per the instruction. On any failure the
// prior script is returned unchanged, so a bad refinement never loses work.
// Node ids from the prior script are carried onto regenerated nodes whose
// identity (actor, type, tool, label) is unchanged, keeping saved runtime
// references and edge conditions stable.
func (s *Service) Refine(ctx context.Context, prior *flow.Script, instruction string) (*flow.Script, error) {
	if prior == nil {
		return nil, &GenerationError{Stage: "refine", Err: fmt.Errorf("no prior script")}
	}
	if strings.TrimSpace(instruction) == "" {
		return prior, &GenerationError{Stage: "refine", Err: fmt.Errorf("instruction must be non-empty")}
	}
	out, err := s.gen.Refine(ctx, prior, instruction)
	if err != nil {
		return prior, &GenerationError{Stage: "refine", Err: err}
	}
	out = preserveIdentity(prior, out)
	if err := validate.ValidateOrError(out); err != nil {
		return prior, &GenerationError{Stage: "refine", Err: err}
	}
	return out, nil
}

// preserveIdentity maps regenerated node ids back to prior ids when their
// identity hash matches, then rewrites edges accordingly. Best effort: an
// identity appearing a different number of times in the two scripts is left
// with its new ids.
func preserveIdentity(prior, next *flow.Script) *flow.Script {
	if prior == nil || next == nil {
		return next
	}
	out := next.Clone()

	priorByHash := map[string][]string{}
	for _, n := range prior.Nodes {
		h := flow.IdentityHash(n)
		priorByHash[h] = append(priorByHash[h], n.ID)
	}
	// Buckets are visited in first-occurrence order of the regenerated nodes
	// so the id mapping is the same on every refinement.
	nextByHash := map[string][]*flow.Node{}
	var hashOrder []string
	for _, n := range out.Nodes {
		h := flow.IdentityHash(n)
		if _, seen := nextByHash[h]; !seen {
			hashOrder = append(hashOrder, h)
		}
		nextByHash[h] = append(nextByHash[h], n)
	}

	taken := map[string]bool{}
	for _, n := range out.Nodes {
		taken[n.ID] = true
	}

	rename := map[string]string{}
	for _, h := range hashOrder {
		nodes := nextByHash[h]
		priorIDs := priorByHash[h]
		if len(priorIDs) != len(nodes) {
			continue // ambiguous match, keep regenerated ids
		}
		for i, n := range nodes {
			oldID := priorIDs[i]
			if n.ID == oldID || taken[oldID] {
				continue
			}
			rename[n.ID] = oldID
			taken[oldID] = true
		}
	}
	if len(rename) == 0 {
		return out
	}
	for _, n := range out.Nodes {
		if to, ok := rename[n.ID]; ok {
			n.ID = to
		}
	}
	for _, e := range out.Edges {
		if to, ok := rename[e.From]; ok {
			e.From = to
		}
		if to, ok := rename[e.To]; ok {
			e.To = to
		}
	}
	return out
}
