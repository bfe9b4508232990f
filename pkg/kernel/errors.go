package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventType is returned by taxonomy lookups for types outside the catalog.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvariantViolation is the class of all Event construction failures.
	ErrInvariantViolation = errors.New("event invariant violation")

	ErrStructuralViolation = errors.New("structural violation")
	ErrAuthorityViolation  = errors.New("authority violation")
	ErrTemporalViolation   = errors.New("temporal violation")
	ErrCausalityViolation  = errors.New("causality violation")
)

// Violation codes.
const (
	CodeMalformedID       = "YAI/KERNEL/STRUCTURAL/MALFORMED_ID"
	CodeMissingTimestamp  = "YAI/KERNEL/STRUCTURAL/MISSING_TIMESTAMP"
	CodeUnknownEventType  = "YAI/KERNEL/STRUCTURAL/UNKNOWN_EVENT_TYPE"
	CodeDuplicateEvent    = "YAI/KERNEL/STRUCTURAL/DUPLICATE_EVENT"
	CodeOriginNotAllowed  = "YAI/KERNEL/AUTHORITY/ORIGIN_NOT_ALLOWED"
	CodeTimestampRegress  = "YAI/KERNEL/TEMPORAL/TIMESTAMP_REGRESSION"
	CodeMalformedParent   = "YAI/KERNEL/CAUSALITY/MALFORMED_PARENT"
	CodeUnknownParent     = "YAI/KERNEL/CAUSALITY/UNKNOWN_PARENT"
	CodeMalformedCorrelID = "YAI/KERNEL/CAUSALITY/MALFORMED_CORRELATION"
)

// ViolationKind classifies a rejected event.
type ViolationKind int

const (
	StructuralViolation ViolationKind = iota + 1
	AuthorityViolation
	TemporalViolation
	CausalityViolation
)

func (k ViolationKind) String() string {
	switch k {
	case StructuralViolation:
		return "structural"
	case AuthorityViolation:
		return "authority"
	case TemporalViolation:
		return "temporal"
	case CausalityViolation:
		return "causality"
	default:
		return "unknown"
	}
}

func (k ViolationKind) sentinel() error {
	switch k {
	case StructuralViolation:
		return ErrStructuralViolation
	case AuthorityViolation:
		return ErrAuthorityViolation
	case TemporalViolation:
		return ErrTemporalViolation
	case CausalityViolation:
		return ErrCausalityViolation
	default:
		return nil
	}
}

// ViolationError is the single typed rejection produced by validation.
// errors.Is matches it against the sentinel of its Kind.
type ViolationError struct {
	Kind    ViolationKind `json:"kind"`
	Code    string        `json:"code"`
	Message string        `json:"message"`
	EventID string        `json:"event_id,omitempty"`
}

func (e *ViolationError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: %s (event: %s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ViolationError) Unwrap() error { return e.Kind.sentinel() }

func violation(kind ViolationKind, code, eventID, format string, args ...any) *ViolationError {
	return &ViolationError{Kind: kind, Code: code, EventID: eventID, Message: fmt.Sprintf(format, args...)}
}

// InvariantError reports an Event that could not be constructed.
type InvariantError struct {
	Field   string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("event invariant violation: %s: %s", e.Field, e.Message)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// DefinitionError is a startup-time fault in the static kernel tables.
type DefinitionError struct {
	EventType EventType
	Message   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("kernel definition error: %s: %s", e.EventType, e.Message)
}

// EmissionError wraps a rejection with the identity of the rejected event.
type EmissionError struct {
	EventID   string
	EventType EventType
	Origin    string
	Err       error
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("emit %s (%s from %s): %v", e.EventID, e.EventType, e.Origin, e.Err)
}

func (e *EmissionError) Unwrap() error { return e.Err }

// KindOf returns the violation kind carried by err, or 0 if none.
func KindOf(err error) ViolationKind {
	var v *ViolationError
	if errors.As(err, &v) {
		return v.Kind
	}
	return 0
}
