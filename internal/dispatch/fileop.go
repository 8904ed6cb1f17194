package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileHandler backs file_operation nodes. All paths are interpreted
// relative to Root and must additionally match one of the Allow globs; a
// path that escapes the sandbox or misses every glob is a PathViolation.
type FileHandler struct {
	Root  string
	Allow []string
}

// resolve maps a node-supplied path into the sandbox. The returned rel path
// is slash-separated for glob matching.
func (h *FileHandler) resolve(raw string) (abs, rel string, err error) {
	if strings.TrimSpace(raw) == "" {
		return "", "", fmt.Errorf("PathViolation: empty path")
	}
	if filepath.IsAbs(raw) {
		return "", "", fmt.Errorf("PathViolation: absolute path %q", raw)
	}
	root := h.Root
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("sandbox root: %w", err)
	}
	abs = filepath.Clean(filepath.Join(rootAbs, raw))
	rel, err = filepath.Rel(rootAbs, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("PathViolation: %q escapes the sandbox", raw)
	}
	rel = filepath.ToSlash(rel)

	allow := h.Allow
	if len(allow) == 0 {
		allow = []string{"**"}
	}
	for _, pat := range allow {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return abs, rel, nil
		}
	}
	return "", "", fmt.Errorf("PathViolation: %q matches no allowed pattern", raw)
}

func (h *FileHandler) Execute(_ context.Context, req Request) Result {
	op := stringInput(req.Inputs, "operation")
	if op == "" {
		op = "read"
	}
	abs, rel, err := h.resolve(stringInput(req.Inputs, "path"))
	if err != nil {
		return failure("%v", err)
	}

	switch op {
	case "read":
		data, err := os.ReadFile(abs)
		if err != nil {
			return failure("file_operation read: %v", err)
		}
		return Result{
			Success: true,
			Output:  map[string]any{"path": rel, "content": string(data)},
			Metrics: map[string]any{"bytes": len(data)},
		}
	case "write":
		content := stringInput(req.Inputs, "content")
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return failure("file_operation write: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return failure("file_operation write: %v", err)
		}
		return Result{
			Success: true,
			Output:  map[string]any{"path": rel, "written": true},
			Metrics: map[string]any{"bytes": len(content)},
		}
	case "delete":
		if err := os.Remove(abs); err != nil {
			return failure("file_operation delete: %v", err)
		}
		return Result{Success: true, Output: map[string]any{"path": rel, "deleted": true}}
	case "copy":
		destAbs, destRel, err := h.resolve(stringInput(req.Inputs, "dest"))
		if err != nil {
			return failure("%v", err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return failure("file_operation copy: %v", err)
		}
		if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
			return failure("file_operation copy: %v", err)
		}
		if err := os.WriteFile(destAbs, data, 0o644); err != nil {
			return failure("file_operation copy: %v", err)
		}
		return Result{
			Success: true,
			Output:  map[string]any{"path": rel, "dest": destRel, "copied": true},
			Metrics: map[string]any{"bytes": len(data)},
		}
	default:
		return failure("file_operation node %s: unknown operation %q", req.NodeID, op)
	}
}

// SimulatedFileHandler applies the same sandbox rules as the live handler
// but never touches the filesystem. Parity matters: a path that would be
// rejected live must be rejected in simulation too.
type SimulatedFileHandler struct {
	Root  string
	Allow []string
}

func (h *SimulatedFileHandler) Execute(_ context.Context, req Request) Result {
	op := stringInput(req.Inputs, "operation")
	if op == "" {
		op = "read"
	}
	switch op {
	case "read", "write", "delete", "copy":
	default:
		return failure("file_operation node %s: unknown operation %q", req.NodeID, op)
	}
	live := &FileHandler{Root: h.Root, Allow: h.Allow}
	_, rel, err := live.resolve(stringInput(req.Inputs, "path"))
	if err != nil {
		return failure("%v", err)
	}
	if op == "copy" {
		if _, _, err := live.resolve(stringInput(req.Inputs, "dest")); err != nil {
			return failure("%v", err)
		}
	}
	return Result{
		Success: true,
		Output:  map[string]any{"path": rel, "operation": op, "simulated": true},
	}
}
