package kernel

import (
	"fmt"
	"sort"
)

// Category groups event types by the part of the system that produces them.
type Category int

const (
	CategoryRuntime Category = iota + 1
	CategoryCognitive
	CategoryDomain
	CategoryMemory
	CategoryCapability
)

func (c Category) String() string {
	switch c {
	case CategoryRuntime:
		return "RUNTIME"
	case CategoryCognitive:
		return "COGNITIVE"
	case CategoryDomain:
		return "DOMAIN"
	case CategoryMemory:
		return "MEMORY"
	case CategoryCapability:
		return "CAPABILITY"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Categories lists every category in declaration order.
func Categories() []Category {
	return []Category{CategoryRuntime, CategoryCognitive, CategoryDomain, CategoryMemory, CategoryCapability}
}

// EventType names a kind of ledger event. The set is closed: only the
// constants below are valid.
type EventType string

// RUNTIME
const (
	RunProvisioned      EventType = "RunProvisioned"
	ResourcesAllocated  EventType = "ResourcesAllocated"
	ContextResolved     EventType = "ContextResolved"
	MemoryMounted       EventType = "MemoryMounted"
	CapabilitiesBound   EventType = "CapabilitiesBound"
	ValidationStarted   EventType = "ValidationStarted"
	ValidationPassed    EventType = "ValidationPassed"
	ValidationFailed    EventType = "ValidationFailed"
	RunCommitted        EventType = "RunCommitted"
	RunAborted          EventType = "RunAborted"
	AbortReasonDeclared EventType = "AbortReasonDeclared"
	ResourcesReleased   EventType = "ResourcesReleased"
	RunTerminated       EventType = "RunTerminated"
)

// COGNITIVE
const (
	InferenceStep       EventType = "InferenceStep"
	DecisionProposed    EventType = "DecisionProposed"
	HypothesisGenerated EventType = "HypothesisGenerated"
	UncertaintyDeclared EventType = "UncertaintyDeclared"
	PlanStepProposed    EventType = "PlanStepProposed"
)

// DOMAIN
const (
	FileRead             EventType = "FileRead"
	FileWritten          EventType = "FileWritten"
	TaskStarted          EventType = "TaskStarted"
	TaskCompleted        EventType = "TaskCompleted"
	APIRequestExecuted   EventType = "APIRequestExecuted"
	UserNotificationSent EventType = "UserNotificationSent"
	WorkflowAdvanced     EventType = "WorkflowAdvanced"
)

// MEMORY
const (
	MemoryPromoted    EventType = "MemoryPromoted"
	MemoryExpired     EventType = "MemoryExpired"
	MemoryDeprecated  EventType = "MemoryDeprecated"
	MemorySuperseded  EventType = "MemorySuperseded"
	MemoryInvalidated EventType = "MemoryInvalidated"
)

// CAPABILITY
const (
	CapabilityRequested EventType = "CapabilityRequested"
	CapabilityGranted   EventType = "CapabilityGranted"
	CapabilityUsed      EventType = "CapabilityUsed"
	CapabilityRevoked   EventType = "CapabilityRevoked"
	CapabilityExpired   EventType = "CapabilityExpired"
)

var taxonomy = map[EventType]Category{
	RunProvisioned:      CategoryRuntime,
	ResourcesAllocated:  CategoryRuntime,
	ContextResolved:     CategoryRuntime,
	MemoryMounted:       CategoryRuntime,
	CapabilitiesBound:   CategoryRuntime,
	ValidationStarted:   CategoryRuntime,
	ValidationPassed:    CategoryRuntime,
	ValidationFailed:    CategoryRuntime,
	RunCommitted:        CategoryRuntime,
	RunAborted:          CategoryRuntime,
	AbortReasonDeclared: CategoryRuntime,
	ResourcesReleased:   CategoryRuntime,
	RunTerminated:       CategoryRuntime,

	InferenceStep:       CategoryCognitive,
	DecisionProposed:    CategoryCognitive,
	HypothesisGenerated: CategoryCognitive,
	UncertaintyDeclared: CategoryCognitive,
	PlanStepProposed:    CategoryCognitive,

	FileRead:             CategoryDomain,
	FileWritten:          CategoryDomain,
	TaskStarted:          CategoryDomain,
	TaskCompleted:        CategoryDomain,
	APIRequestExecuted:   CategoryDomain,
	UserNotificationSent: CategoryDomain,
	WorkflowAdvanced:     CategoryDomain,

	MemoryPromoted:    CategoryMemory,
	MemoryExpired:     CategoryMemory,
	MemoryDeprecated:  CategoryMemory,
	MemorySuperseded:  CategoryMemory,
	MemoryInvalidated: CategoryMemory,

	CapabilityRequested: CategoryCapability,
	CapabilityGranted:   CategoryCapability,
	CapabilityUsed:      CategoryCapability,
	CapabilityRevoked:   CategoryCapability,
	CapabilityExpired:   CategoryCapability,
}

// IsValidEventType reports whether t belongs to the taxonomy.
func IsValidEventType(t EventType) bool {
	_, ok := taxonomy[t]
	return ok
}

// CategoryOf returns the category of t, or ErrUnknownEventType.
func CategoryOf(t EventType) (Category, error) {
	c, ok := taxonomy[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
	return c, nil
}

// EventTypes returns every event type of category c, sorted by name.
func EventTypes(c Category) []EventType {
	var out []EventType
	for t, cat := range taxonomy {
		if cat == c {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
