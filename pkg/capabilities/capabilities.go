// Package capabilities decides whether a caller holds a capability within a run.
package capabilities

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Type names a capability.
type Type string

const (
	MemoryRead  Type = "MEMORY_READ"
	MemoryWrite Type = "MEMORY_WRITE"
	EventEmit   Type = "EVENT_EMIT"
)

// AnyRun in a grant or token admits every run.
const AnyRun = "*"

// CodeAccessDenied identifies capability denials.
const CodeAccessDenied = "YAI/CAPABILITY/ACCESS_DENIED"

// ErrAccessDenied is matched by every AccessDeniedError.
var ErrAccessDenied = errors.New("capability access denied")

// Enforcer is consulted before capability-gated operations.
type Enforcer interface {
	RequireCapability(ctx context.Context, runID string, capability Type) error
}

// AccessDeniedError reports a missing capability.
type AccessDeniedError struct {
	Code       string `json:"code"`
	Subject    string `json:"subject,omitempty"`
	RunID      string `json:"run_id"`
	Capability Type   `json:"capability"`
}

func (e *AccessDeniedError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s lacks %s for run %s", e.Code, e.Subject, e.Capability, e.RunID)
	}
	return fmt.Sprintf("%s: %s not granted for run %s", e.Code, e.Capability, e.RunID)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

func denied(subject, runID string, c Type) error {
	return &AccessDeniedError{Code: CodeAccessDenied, Subject: subject, RunID: runID, Capability: c}
}

// GrantTable is an in-memory per-run grant set.
type GrantTable struct {
	mu     sync.RWMutex
	grants map[string]map[Type]struct{}
}

// NewGrantTable returns an empty table.
func NewGrantTable() *GrantTable {
	return &GrantTable{grants: make(map[string]map[Type]struct{})}
}

// Grant adds capabilities for runID. AnyRun grants them everywhere.
func (g *GrantTable) Grant(runID string, caps ...Type) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.grants[runID]
	if !ok {
		set = make(map[Type]struct{})
		g.grants[runID] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
}

// Revoke removes a capability for runID.
func (g *GrantTable) Revoke(runID string, c Type) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants[runID], c)
}

// Has reports whether c is granted for runID.
func (g *GrantTable) Has(runID string, c Type) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.grants[runID][c]; ok {
		return true
	}
	_, ok := g.grants[AnyRun][c]
	return ok
}

func (g *GrantTable) RequireCapability(_ context.Context, runID string, c Type) error {
	if !g.Has(runID, c) {
		return denied("", runID, c)
	}
	return nil
}
