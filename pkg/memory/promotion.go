package memory

import (
	"fmt"
	"time"

	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// PersistentKey is the payload flag that marks an event as worth remembering.
const PersistentKey = "persistent"

// IsPersistent reports whether e carries `"persistent": true` in its payload.
func IsPersistent(e *kernel.Event) bool {
	v, ok := e.PayloadValue(PersistentKey)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// PromotionRequest describes a candidate memory.
type PromotionRequest struct {
	SourceEvents []*kernel.Event
	MemoryType   MemoryType
	Confidence   float64
	CreatedAt    time.Time
}

// Proposal is the outcome of a successful promotion. It is not yet a
// registered memory.
type Proposal struct {
	MemoryID     string     `json:"memory_id"`
	MemoryType   MemoryType `json:"memory_type"`
	SourceEvents []string   `json:"source_events"`
	Confidence   float64    `json:"confidence"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Payload renders the proposal as a MemoryPromoted event payload.
func (p Proposal) Payload() map[string]any {
	sources := make([]any, len(p.SourceEvents))
	for i, s := range p.SourceEvents {
		sources[i] = s
	}
	return map[string]any{
		"memory_id":     p.MemoryID,
		"memory_type":   string(p.MemoryType),
		"source_events": sources,
		"confidence":    p.Confidence,
		"created_at":    kernel.FormatTimestamp(p.CreatedAt),
	}
}

// Promoter turns admitted DOMAIN events into memory proposals. It has no side
// effects: it neither emits nor registers.
type Promoter struct {
	newID func() string
}

// NewPromoter returns a promoter that mints random memory ids.
func NewPromoter() *Promoter {
	return &Promoter{newID: ids.NewMemoryID}
}

// ValidateEvents checks that every event is a persistent DOMAIN event and
// fails on the first one that is not.
func (p *Promoter) ValidateEvents(events []*kernel.Event) error {
	for i, e := range events {
		if e == nil {
			return nonPromotable(fmt.Sprintf("#%d", i), "event is nil")
		}
		cat, err := kernel.CategoryOf(e.Type())
		if err != nil {
			return nonPromotable(e.ID(), err.Error())
		}
		if cat != kernel.CategoryDomain {
			return nonPromotable(e.ID(), fmt.Sprintf("category %s is not DOMAIN", cat))
		}
		if !IsPersistent(e) {
			return nonPromotable(e.ID(), "event is not persistent")
		}
	}
	return nil
}

// Promote validates req and returns a proposal with a fresh memory id.
func (p *Promoter) Promote(req PromotionRequest) (Proposal, error) {
	if len(req.SourceEvents) == 0 {
		return Proposal{}, &PromotionError{Code: CodePromotion, Message: "no source events"}
	}
	if !req.MemoryType.Valid() {
		return Proposal{}, &PromotionError{Code: CodePromotion, Message: fmt.Sprintf("unknown memory type %q", req.MemoryType)}
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return Proposal{}, &PromotionError{Code: CodePromotion, Message: fmt.Sprintf("confidence %v outside [0,1]", req.Confidence)}
	}
	if req.CreatedAt.IsZero() {
		return Proposal{}, &PromotionError{Code: CodePromotion, Message: "created_at must be set"}
	}
	if err := p.ValidateEvents(req.SourceEvents); err != nil {
		return Proposal{}, err
	}

	sources := make([]string, len(req.SourceEvents))
	for i, e := range req.SourceEvents {
		sources[i] = e.ID()
	}
	return Proposal{
		MemoryID:     p.newID(),
		MemoryType:   req.MemoryType,
		SourceEvents: sources,
		Confidence:   req.Confidence,
		CreatedAt:    req.CreatedAt.UTC(),
	}, nil
}
