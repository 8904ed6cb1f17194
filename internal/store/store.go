// Package store persists FlowScript documents per project.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/taskloom/flowscript/internal/flow"
)

var ErrNotFound = errors.New("flow not found")

// Record is a stored script with its content revision. The revision changes
// iff the script content changes, so clients can cheaply detect staleness.
type Record struct {
	ProjectID string
	Script    *flow.Script
	Revision  string
}

type Store interface {
	// Save stores a deep copy of the script and returns its revision.
	Save(projectID string, s *flow.Script) (string, error)
	// Get returns a deep copy; mutating it never affects stored state.
	Get(projectID, flowID string) (*flow.Script, string, error)
	// List returns flow ids for a project.
	List(projectID string) []string
}

// Memory is the in-process store. Scripts are cloned on both sides of the
// boundary.
type Memory struct {
	mu    sync.RWMutex
	flows map[string]map[string]Record // project id -> flow id -> record
}

func NewMemory() *Memory {
	return &Memory{flows: map[string]map[string]Record{}}
}

func (m *Memory) Save(projectID string, s *flow.Script) (string, error) {
	if s == nil || s.ID == "" {
		return "", fmt.Errorf("save flow: script must have an id")
	}
	rev := flow.Revision(s)
	if rev == "" {
		return "", fmt.Errorf("save flow %s: could not compute revision", s.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flows[projectID] == nil {
		m.flows[projectID] = map[string]Record{}
	}
	m.flows[projectID][s.ID] = Record{ProjectID: projectID, Script: s.Clone(), Revision: rev}
	return rev, nil
}

func (m *Memory) Get(projectID, flowID string) (*flow.Script, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.flows[projectID][flowID]
	if !ok {
		return nil, "", fmt.Errorf("project %s flow %s: %w", projectID, flowID, ErrNotFound)
	}
	return rec.Script.Clone(), rec.Revision, nil
}

func (m *Memory) List(projectID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.flows[projectID]))
	for id := range m.flows[projectID] {
		ids = append(ids, id)
	}
	return ids
}
