package memory

import (
	"errors"
	"fmt"
)

var (
	ErrPromotion         = errors.New("memory promotion failed")
	ErrNonPromotable     = errors.New("event cannot be promoted")
	ErrDuplicate         = errors.New("memory already registered")
	ErrNotFound          = errors.New("memory not found")
	ErrIllegalTransition = errors.New("illegal memory lifecycle transition")
	ErrExpired           = errors.New("memory expired")
	ErrInactive          = errors.New("memory inactive")
	ErrAccessViolation   = errors.New("memory access violation")
	ErrInvalidRecord     = errors.New("invalid memory record")
)

const (
	CodePromotion         = "YAI/MEMORY/PROMOTION"
	CodeNonPromotable     = "YAI/MEMORY/PROMOTION/NON_PROMOTABLE"
	CodeDuplicate         = "YAI/MEMORY/REGISTRY/DUPLICATE"
	CodeNotFound          = "YAI/MEMORY/REGISTRY/NOT_FOUND"
	CodeIllegalTransition = "YAI/MEMORY/LIFECYCLE/ILLEGAL_TRANSITION"
	CodeExpired           = "YAI/MEMORY/ACCESS/EXPIRED"
	CodeInactive          = "YAI/MEMORY/ACCESS/INACTIVE"
	CodeAccessViolation   = "YAI/MEMORY/ACCESS/POLICY_DENIED"
	CodeInvalidRecord     = "YAI/MEMORY/RECORD/INVALID"
)

// PromotionError reports a request that cannot be promoted at all.
type PromotionError struct {
	Code    string
	Message string
}

func (e *PromotionError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *PromotionError) Unwrap() error { return ErrPromotion }

// NonPromotableError names the first source event that disqualified a promotion.
type NonPromotableError struct {
	Code    string
	EventID string
	Reason  string
}

func (e *NonPromotableError) Error() string {
	return fmt.Sprintf("event '%s' cannot be promoted to memory: %s", e.EventID, e.Reason)
}

// Unwrap matches both ErrNonPromotable and ErrPromotion.
func (e *NonPromotableError) Unwrap() []error { return []error{ErrNonPromotable, ErrPromotion} }

func nonPromotable(eventID, reason string) error {
	return &NonPromotableError{Code: CodeNonPromotable, EventID: eventID, Reason: reason}
}

// DuplicateError reports a second registration of the same memory id.
type DuplicateError struct {
	Code     string
	MemoryID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("memory '%s' already registered", e.MemoryID)
}
func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// NotFoundError reports an unknown memory id.
type NotFoundError struct {
	Code     string
	MemoryID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("memory '%s' not found", e.MemoryID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(id string) error { return &NotFoundError{Code: CodeNotFound, MemoryID: id} }

// TransitionError reports a transition out of a non-ACTIVE state, or a
// malformed transition request.
type TransitionError struct {
	Code     string
	MemoryID string
	From     Status
	To       Status
	Message  string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("memory '%s': %s -> %s: %s", e.MemoryID, e.From, e.To, e.Message)
	}
	return fmt.Sprintf("memory '%s': illegal transition %s -> %s", e.MemoryID, e.From, e.To)
}
func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// ExpiredError is returned when an expired memory is accessed directly.
type ExpiredError struct {
	Code     string
	MemoryID string
}

func (e *ExpiredError) Error() string { return fmt.Sprintf("memory '%s' is expired", e.MemoryID) }
func (e *ExpiredError) Unwrap() error { return ErrExpired }

// InactiveError is returned when a deprecated, superseded or invalidated
// memory is accessed directly.
type InactiveError struct {
	Code     string
	MemoryID string
	Status   Status
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("memory '%s' is %s", e.MemoryID, e.Status)
}
func (e *InactiveError) Unwrap() error { return ErrInactive }

// AccessViolationError is returned when an access policy denies an agent.
type AccessViolationError struct {
	Code     string
	MemoryID string
	Agent    string
}

func (e *AccessViolationError) Error() string {
	return fmt.Sprintf("agent '%s' may not access memory '%s'", e.Agent, e.MemoryID)
}
func (e *AccessViolationError) Unwrap() error { return ErrAccessViolation }

// RecordError reports a record that fails construction checks.
type RecordError struct {
	Field   string
	Message string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("invalid memory record: %s: %s", e.Field, e.Message)
}
func (e *RecordError) Unwrap() error { return ErrInvalidRecord }
