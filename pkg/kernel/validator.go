package kernel

import (
	"time"

	"github.com/francescomaiomascio/yai/pkg/ids"
)

// IDSet is a set of event identifiers.
type IDSet map[string]struct{}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// RunState is what the validator needs to know about a run's history.
// A zero LastTimestamp means the run has no events yet.
type RunState struct {
	Known         IDSet
	LastTimestamp time.Time
}

// Validator applies the admission checks to a candidate event. It holds no
// mutable state.
type Validator struct {
	authority *Authority
}

// NewValidator returns a validator bound to authority; nil uses DefaultAuthority.
func NewValidator(authority *Authority) *Validator {
	if authority == nil {
		authority = DefaultAuthority()
	}
	return &Validator{authority: authority}
}

type stage func(*Validator, *Event, RunState) *ViolationError

var stages = []stage{
	(*Validator).checkStructure,
	(*Validator).checkTaxonomy,
	(*Validator).checkAuthority,
	(*Validator).checkTemporal,
	(*Validator).checkCausality,
}

// Validate runs the checks in order and returns the first violation, or nil.
func (v *Validator) Validate(e *Event, state RunState) error {
	for _, check := range stages {
		if err := check(v, e, state); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkStructure(e *Event, state RunState) *ViolationError {
	if !ids.IsUUID(e.eventID) {
		return violation(StructuralViolation, CodeMalformedID, e.eventID, "event_id %q is not a UUID", e.eventID)
	}
	if !ids.IsUUID(e.runID) {
		return violation(StructuralViolation, CodeMalformedID, e.eventID, "run_id %q is not a UUID", e.runID)
	}
	if e.timestamp.IsZero() {
		return violation(StructuralViolation, CodeMissingTimestamp, e.eventID, "timestamp is missing")
	}
	if state.Known.Has(e.eventID) {
		return violation(StructuralViolation, CodeDuplicateEvent, e.eventID, "event already recorded for run %s", e.runID)
	}
	return nil
}

func (v *Validator) checkTaxonomy(e *Event, _ RunState) *ViolationError {
	if !IsValidEventType(e.eventType) {
		return violation(StructuralViolation, CodeUnknownEventType, e.eventID, "event type %q is not in the taxonomy", e.eventType)
	}
	return nil
}

func (v *Validator) checkAuthority(e *Event, _ RunState) *ViolationError {
	if !v.authority.IsOriginAuthorized(e.origin, e.eventType) {
		return violation(AuthorityViolation, CodeOriginNotAllowed, e.eventID, "origin %q may not emit %s", e.origin, e.eventType)
	}
	return nil
}

func (v *Validator) checkTemporal(e *Event, state RunState) *ViolationError {
	if !state.LastTimestamp.IsZero() && e.timestamp.Before(state.LastTimestamp) {
		return violation(TemporalViolation, CodeTimestampRegress, e.eventID,
			"timestamp %s precedes last run timestamp %s", FormatTimestamp(e.timestamp), FormatTimestamp(state.LastTimestamp))
	}
	return nil
}

func (v *Validator) checkCausality(e *Event, state RunState) *ViolationError {
	for _, ref := range e.causality {
		switch ref.Kind {
		case RefParent:
			if !ids.IsUUID(ref.EventID) {
				return violation(CausalityViolation, CodeMalformedParent, e.eventID, "parent %q is not a UUID", ref.EventID)
			}
			if !state.Known.Has(ref.EventID) {
				return violation(CausalityViolation, CodeUnknownParent, e.eventID, "parent %s is not a known event of run %s", ref.EventID, e.runID)
			}
		case RefCorrelation:
			if !ids.IsUUID(ref.EventID) {
				return violation(CausalityViolation, CodeMalformedCorrelID, e.eventID, "correlation %q is not a UUID", ref.EventID)
			}
		}
	}
	return nil
}
