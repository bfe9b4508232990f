package kernel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/francescomaiomascio/yai/pkg/canonicalize"
)

// RefKind names the role of a causal reference.
type RefKind string

const (
	RefParent      RefKind = "parent"
	RefCorrelation RefKind = "correlation"
)

// CausalRef points at another event.
type CausalRef struct {
	Kind    RefKind `json:"kind"`
	EventID string  `json:"event_id"`
}

// Parent is shorthand for a parent reference.
func Parent(eventID string) CausalRef { return CausalRef{Kind: RefParent, EventID: eventID} }

// Correlation is shorthand for a correlation reference.
func Correlation(eventID string) CausalRef {
	return CausalRef{Kind: RefCorrelation, EventID: eventID}
}

// EventSpec carries the inputs of NewEvent.
type EventSpec struct {
	EventID   string
	RunID     string
	Type      EventType
	Timestamp time.Time
	Origin    string
	Payload   map[string]any
	// Causality is optional. A non-nil slice must hold at least one reference.
	Causality []CausalRef
}

// Event is an immutable ledger record. It can only be built by NewEvent and
// exposes no setters; accessors return copies.
type Event struct {
	eventID   string
	runID     string
	eventType EventType
	timestamp time.Time
	origin    string
	payload   map[string]any
	causality []CausalRef
	integrity string
}

// NewEvent checks local invariants, normalises the payload to its canonical
// JSON value form and seals the event with its integrity hash.
func NewEvent(spec EventSpec) (*Event, error) {
	switch {
	case strings.TrimSpace(spec.EventID) == "":
		return nil, &InvariantError{Field: "event_id", Message: "must not be empty"}
	case strings.TrimSpace(spec.RunID) == "":
		return nil, &InvariantError{Field: "run_id", Message: "must not be empty"}
	case spec.Type == "":
		return nil, &InvariantError{Field: "event_type", Message: "must not be empty"}
	case !IsValidEventType(spec.Type):
		return nil, &InvariantError{Field: "event_type", Message: fmt.Sprintf("%q is not in the taxonomy", spec.Type)}
	case spec.Timestamp.IsZero():
		return nil, &InvariantError{Field: "timestamp", Message: "must be set"}
	case strings.TrimSpace(spec.Origin) == "":
		return nil, &InvariantError{Field: "origin", Message: "must not be empty"}
	}

	var causality []CausalRef
	if spec.Causality != nil {
		if len(spec.Causality) == 0 {
			return nil, &InvariantError{Field: "causality", Message: "must not be empty when present"}
		}
		for i, ref := range spec.Causality {
			if ref.Kind != RefParent && ref.Kind != RefCorrelation {
				return nil, &InvariantError{Field: "causality", Message: fmt.Sprintf("reference %d has unknown kind %q", i, ref.Kind)}
			}
		}
		causality = append([]CausalRef(nil), spec.Causality...)
	}

	payload, err := canonicalize.Normalize(spec.Payload)
	if err != nil {
		return nil, &InvariantError{Field: "payload", Message: err.Error()}
	}

	e := &Event{
		eventID:   spec.EventID,
		runID:     spec.RunID,
		eventType: spec.Type,
		timestamp: spec.Timestamp.UTC(),
		origin:    spec.Origin,
		payload:   payload,
		causality: causality,
	}
	e.integrity, err = e.computeIntegrity()
	if err != nil {
		return nil, &InvariantError{Field: "integrity", Message: err.Error()}
	}
	return e, nil
}

func (e *Event) ID() string           { return e.eventID }
func (e *Event) RunID() string        { return e.runID }
func (e *Event) Type() EventType      { return e.eventType }
func (e *Event) Timestamp() time.Time { return e.timestamp }
func (e *Event) Origin() string       { return e.origin }
func (e *Event) Integrity() string    { return e.integrity }

// Payload returns a deep copy of the payload.
func (e *Event) Payload() map[string]any {
	return canonicalize.CloneMap(e.payload)
}

// PayloadValue returns a copy of one payload entry.
func (e *Event) PayloadValue(key string) (any, bool) {
	v, ok := e.payload[key]
	if !ok {
		return nil, false
	}
	return canonicalize.Clone(v), true
}

// Causality returns a copy of the causal references, nil if none were given.
func (e *Event) Causality() []CausalRef {
	if e.causality == nil {
		return nil
	}
	return append([]CausalRef(nil), e.causality...)
}

// ParentID returns the first parent reference.
func (e *Event) ParentID() (string, bool) { return e.firstRef(RefParent) }

// CorrelationID returns the first correlation reference.
func (e *Event) CorrelationID() (string, bool) { return e.firstRef(RefCorrelation) }

func (e *Event) firstRef(kind RefKind) (string, bool) {
	for _, ref := range e.causality {
		if ref.Kind == kind {
			return ref.EventID, true
		}
	}
	return "", false
}

// VerifyIntegrity recomputes the hash and compares it with the sealed value.
func (e *Event) VerifyIntegrity() error {
	got, err := e.computeIntegrity()
	if err != nil {
		return err
	}
	if got != e.integrity {
		return fmt.Errorf("integrity mismatch for event %s: sealed %s, computed %s", e.eventID, e.integrity, got)
	}
	return nil
}

// hashed is the canonical pre-image of the integrity hash.
type hashed struct {
	EventID   string         `json:"event_id"`
	RunID     string         `json:"run_id"`
	EventType EventType      `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Origin    string         `json:"origin"`
	Payload   map[string]any `json:"payload"`
	Causality []CausalRef    `json:"causality"`
}

func (e *Event) computeIntegrity() (string, error) {
	return canonicalize.CanonicalHash(hashed{
		EventID:   e.eventID,
		RunID:     e.runID,
		EventType: e.eventType,
		Timestamp: FormatTimestamp(e.timestamp),
		Origin:    e.origin,
		Payload:   e.payload,
		Causality: e.causality,
	})
}

// FormatTimestamp renders t as the ISO-8601 form used in hashes and wire formats.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// EventRecord is the wire form of an Event.
type EventRecord struct {
	EventID   string         `json:"event_id"`
	RunID     string         `json:"run_id"`
	EventType EventType      `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Origin    string         `json:"origin"`
	Payload   map[string]any `json:"payload"`
	Causality []CausalRef    `json:"causality,omitempty"`
	Integrity string         `json:"integrity"`
}

// Record returns the wire form of e.
func (e *Event) Record() EventRecord {
	return EventRecord{
		EventID:   e.eventID,
		RunID:     e.runID,
		EventType: e.eventType,
		Timestamp: FormatTimestamp(e.timestamp),
		Origin:    e.origin,
		Payload:   e.Payload(),
		Causality: e.Causality(),
		Integrity: e.integrity,
	}
}

func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// FromRecord rebuilds an event from its wire form. When the record carries an
// integrity value it must match the recomputed hash.
func FromRecord(r EventRecord) (*Event, error) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, &InvariantError{Field: "timestamp", Message: err.Error()}
	}
	e, err := NewEvent(EventSpec{
		EventID:   r.EventID,
		RunID:     r.RunID,
		Type:      r.EventType,
		Timestamp: ts,
		Origin:    r.Origin,
		Payload:   r.Payload,
		Causality: r.Causality,
	})
	if err != nil {
		return nil, err
	}
	if r.Integrity != "" && r.Integrity != e.integrity {
		return nil, &InvariantError{Field: "integrity", Message: fmt.Sprintf("record %s does not match computed %s", r.Integrity, e.integrity)}
	}
	return e, nil
}
