package kernel

import (
	"context"
	"log/slog"
	"time"
)

// Observer is notified of every admission decision. Implementations must not block.
type Observer interface {
	EventAdmitted(ctx context.Context, e *Event)
	EventRejected(ctx context.Context, e *Event, err error)
}

// Emitter is the only path into the event log: validate, authorize, append.
// A rejected event leaves no trace in the log.
type Emitter struct {
	store     *Store
	validator *Validator
	authority *Authority
	logger    *slog.Logger
	observer  Observer
}

// NewEmitter wires an emitter over store. A nil authority uses DefaultAuthority.
func NewEmitter(store *Store, authority *Authority) *Emitter {
	if authority == nil {
		authority = DefaultAuthority()
	}
	return &Emitter{
		store:     store,
		validator: NewValidator(authority),
		authority: authority,
		logger:    slog.Default().With("component", "emitter"),
	}
}

// WithLogger replaces the emitter logger.
func (em *Emitter) WithLogger(l *slog.Logger) *Emitter {
	em.logger = l.With("component", "emitter")
	return em
}

// WithObserver installs an admission observer.
func (em *Emitter) WithObserver(o Observer) *Emitter {
	em.observer = o
	return em
}

// Store exposes the log read-only.
func (em *Emitter) Store() Reader { return em.store }

// LastTimestamp returns the latest timestamp admitted into runID.
func (em *Emitter) LastTimestamp(runID string) (time.Time, bool) {
	return em.store.LastTimestamp(runID)
}

// Authority returns the table the emitter enforces.
func (em *Emitter) Authority() *Authority { return em.authority }

// Emit admits e into the log or returns an *EmissionError wrapping the
// violation. Validation runs under the read lock against the live run index;
// ordering and causality are confirmed again under the write lock so
// concurrent emits for one run cannot interleave into an invalid history. ctx is only used for logging and
// observation.
func (em *Emitter) Emit(ctx context.Context, e *Event) error {
	if e == nil {
		return &EmissionError{Err: violation(StructuralViolation, CodeMalformedID, "", "event is nil")}
	}

	err := em.store.inspect(e.runID, func(state RunState) error {
		return em.validator.Validate(e, state)
	})
	if err != nil {
		return em.reject(ctx, e, err)
	}

	if !em.authority.IsOriginAuthorized(e.origin, e.eventType) {
		return em.reject(ctx, e, violation(AuthorityViolation, CodeOriginNotAllowed, e.eventID, "origin %q may not emit %s", e.origin, e.eventType))
	}

	err = em.store.append(e, func(state RunState) error {
		if v := em.validator.checkStructure(e, state); v != nil {
			return v
		}
		if v := em.validator.checkTemporal(e, state); v != nil {
			return v
		}
		if v := em.validator.checkCausality(e, state); v != nil {
			return v
		}
		return nil
	})
	if err != nil {
		return em.reject(ctx, e, err)
	}

	em.logger.DebugContext(ctx, "event admitted",
		"event_id", e.eventID,
		"run_id", e.runID,
		"event_type", string(e.eventType),
		"origin", e.origin,
	)
	if em.observer != nil {
		em.observer.EventAdmitted(ctx, e)
	}
	return nil
}

func (em *Emitter) reject(ctx context.Context, e *Event, err error) error {
	em.logger.WarnContext(ctx, "event rejected",
		"event_id", e.eventID,
		"run_id", e.runID,
		"event_type", string(e.eventType),
		"origin", e.origin,
		"kind", KindOf(err).String(),
		"error", err,
	)
	if em.observer != nil {
		em.observer.EventRejected(ctx, e, err)
	}
	return &EmissionError{EventID: e.eventID, EventType: e.eventType, Origin: e.origin, Err: err}
}
