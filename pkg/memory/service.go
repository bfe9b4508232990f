package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// CommitRequest asks the service to promote sources into a registered memory.
type CommitRequest struct {
	SourceEvents  []*kernel.Event
	Type          MemoryType
	Confidence    float64
	Payload       map[string]any
	Access        AccessPolicy
	Lifecycle     LifecyclePolicy
	SchemaVersion string
}

// Service sequences promotion, announcement, registration and lifecycle
// tracking of new memories.
type Service struct {
	promoter  *Promoter
	registry  *Registry
	lifecycle *Lifecycle
	journal   *Journal
	ledger    kernel.Reader
	now       func() time.Time
	logger    *slog.Logger
}

// NewService wires the memory subsystem around journal.
func NewService(journal *Journal, registry *Registry, lifecycle *Lifecycle) *Service {
	return &Service{
		promoter:  NewPromoter(),
		registry:  registry,
		lifecycle: lifecycle,
		journal:   journal,
		now:       time.Now,
		logger:    slog.Default().With("component", "memory.service"),
	}
}

// WithLedger makes Commit require each source event to be recorded in ledger.
func (s *Service) WithLedger(ledger kernel.Reader) *Service {
	s.ledger = ledger
	return s
}

// WithClock overrides the time source (for testing).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLogger replaces the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l.With("component", "memory.service")
	return s
}

func (s *Service) Registry() *Registry   { return s.registry }
func (s *Service) Lifecycle() *Lifecycle { return s.lifecycle }

// RunID is the governance run that records memory events.
func (s *Service) RunID() string { return s.journal.RunID() }

// Commit promotes req, emits MemoryPromoted, registers the record and starts
// tracking it as ACTIVE. Nothing is registered if the announcement is rejected.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*Record, error) {
	now := s.now().UTC()
	proposal, err := s.promoter.Promote(PromotionRequest{
		SourceEvents: req.SourceEvents,
		MemoryType:   req.Type,
		Confidence:   req.Confidence,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	if err := s.checkRecorded(req.SourceEvents); err != nil {
		return nil, err
	}

	access := req.Access
	if access == nil {
		access = OpenPolicy{}
	}
	eventID := ids.NewEventID()
	rec, err := NewRecord(RecordSpec{
		MemoryID:      proposal.MemoryID,
		Type:          proposal.MemoryType,
		Payload:       req.Payload,
		Confidence:    proposal.Confidence,
		Lifecycle:     req.Lifecycle,
		Access:        access,
		SourceEvents:  proposal.SourceEvents,
		SchemaVersion: req.SchemaVersion,
		CreatedAt:     proposal.CreatedAt,
		Provenance: Provenance{
			SourceEvents:     proposal.SourceEvents,
			PromotionEventID: eventID,
			PromotedAt:       proposal.CreatedAt,
		},
	})
	if err != nil {
		return nil, err
	}

	payload := proposal.Payload()
	payload["schema_version"] = rec.SchemaVersion()
	if _, err := s.journal.Emit(ctx, eventID, kernel.MemoryPromoted, payload); err != nil {
		return nil, err
	}
	if err := s.registry.Register(rec); err != nil {
		return nil, err
	}
	if err := s.lifecycle.RegisterNew(rec.ID()); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "memory committed",
		"memory_id", rec.ID(),
		"memory_type", string(rec.Type()),
		"sources", len(proposal.SourceEvents),
		"event_id", eventID,
	)
	return rec, nil
}

func (s *Service) checkRecorded(events []*kernel.Event) error {
	if s.ledger == nil {
		return nil
	}
	for _, e := range events {
		recorded, ok := s.ledger.Find(e.RunID(), e.ID())
		if !ok {
			return nonPromotable(e.ID(), "event is not recorded in the ledger")
		}
		if recorded.Integrity() != e.Integrity() {
			return nonPromotable(e.ID(), "event differs from the recorded copy")
		}
	}
	return nil
}

// ExpireDue expires every ACTIVE memory whose lifecycle TTL has elapsed at
// now and returns the expired ids. Memories concurrently moved out of ACTIVE
// are skipped.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string
	var errs []error
	for _, rec := range s.registry.All() {
		at, ok := rec.Lifecycle().ExpiresAt(rec.CreatedAt())
		if !ok || now.Before(at) || !s.lifecycle.IsActive(rec.ID()) {
			continue
		}
		err := s.lifecycle.Expire(ctx, rec.ID(), "ttl elapsed")
		switch {
		case err == nil:
			expired = append(expired, rec.ID())
		case errors.Is(err, ErrIllegalTransition):
		default:
			errs = append(errs, err)
		}
	}
	return expired, errors.Join(errs...)
}
