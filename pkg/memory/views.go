package memory

import (
	"context"
	"errors"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
)

// View is the read-only projection of a memory handed to an agent.
type View struct {
	MemoryID   string         `json:"memory_id"`
	MemoryType MemoryType     `json:"memory_type"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
	Provenance Provenance     `json:"provenance"`
}

// RecordSource resolves memory records.
type RecordSource interface {
	Get(id string) (*Record, error)
}

// StateSource resolves lifecycle states.
type StateSource interface {
	GetState(id string) (State, error)
}

// ViewBuilder assembles capability-gated, policy-filtered views.
type ViewBuilder struct {
	records  RecordSource
	states   StateSource
	enforcer capabilities.Enforcer
}

// NewViewBuilder wires a builder.
func NewViewBuilder(records RecordSource, states StateSource, enforcer capabilities.Enforcer) *ViewBuilder {
	return &ViewBuilder{records: records, states: states, enforcer: enforcer}
}

// BuildView returns up to maxItems views for agentID, in the order of
// memoryIDs. It requires MEMORY_READ for runID. Memories that are unknown to
// the lifecycle, not ACTIVE, or hidden by their access policy are skipped.
func (b *ViewBuilder) BuildView(ctx context.Context, runID, agentID string, memoryIDs []string, maxItems int) ([]View, error) {
	return b.build(ctx, b.enforcer, runID, agentID, memoryIDs, maxItems)
}

// BuildViewWith is BuildView with a per-call enforcer, such as the claims of
// an authenticated caller.
func (b *ViewBuilder) BuildViewWith(ctx context.Context, enforcer capabilities.Enforcer, runID, agentID string, memoryIDs []string, maxItems int) ([]View, error) {
	return b.build(ctx, enforcer, runID, agentID, memoryIDs, maxItems)
}

func (b *ViewBuilder) build(ctx context.Context, enforcer capabilities.Enforcer, runID, agentID string, memoryIDs []string, maxItems int) ([]View, error) {
	if err := enforcer.RequireCapability(ctx, runID, capabilities.MemoryRead); err != nil {
		return nil, err
	}
	views := make([]View, 0)
	if maxItems <= 0 {
		return views, nil
	}
	for _, id := range memoryIDs {
		if len(views) >= maxItems {
			break
		}
		st, err := b.states.GetState(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if st.Status != StatusActive {
			continue
		}
		rec, err := b.records.Get(id)
		if err != nil {
			return nil, err
		}
		if !rec.Access().IsAllowed(agentID) {
			continue
		}
		views = append(views, project(rec))
	}
	return views, nil
}

// Get returns a single view and reports why it cannot, unlike BuildView
// which skips silently.
func (b *ViewBuilder) Get(ctx context.Context, runID, agentID, memoryID string) (View, error) {
	if err := b.enforcer.RequireCapability(ctx, runID, capabilities.MemoryRead); err != nil {
		return View{}, err
	}
	st, err := b.states.GetState(memoryID)
	if err != nil {
		return View{}, err
	}
	switch st.Status {
	case StatusActive:
	case StatusExpired:
		return View{}, &ExpiredError{Code: CodeExpired, MemoryID: memoryID}
	default:
		return View{}, &InactiveError{Code: CodeInactive, MemoryID: memoryID, Status: st.Status}
	}
	rec, err := b.records.Get(memoryID)
	if err != nil {
		return View{}, err
	}
	if !rec.Access().IsAllowed(agentID) {
		return View{}, &AccessViolationError{Code: CodeAccessViolation, MemoryID: memoryID, Agent: agentID}
	}
	return project(rec), nil
}

func project(rec *Record) View {
	return View{
		MemoryID:   rec.memoryID,
		MemoryType: rec.memoryType,
		Payload:    rec.access.FilterPayload(rec.Payload()),
		Confidence: rec.confidence,
		Provenance: rec.Provenance(),
	}
}
