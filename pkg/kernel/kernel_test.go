package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/francescomaiomascio/yai/pkg/ids"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type eventOpt func(*EventSpec)

func withPayload(p map[string]any) eventOpt { return func(s *EventSpec) { s.Payload = p } }
func withCausality(refs ...CausalRef) eventOpt {
	return func(s *EventSpec) { s.Causality = refs }
}
func withID(id string) eventOpt     { return func(s *EventSpec) { s.EventID = id } }
func withTime(t time.Time) eventOpt { return func(s *EventSpec) { s.Timestamp = t } }
func withRun(runID string) eventOpt { return func(s *EventSpec) { s.RunID = runID } }

func mustEvent(t *testing.T, typ EventType, origin string, opts ...eventOpt) *Event {
	t.Helper()
	spec := EventSpec{
		EventID:   ids.NewEventID(),
		RunID:     testRunID,
		Type:      typ,
		Timestamp: baseTime,
		Origin:    origin,
		Payload:   map[string]any{},
	}
	for _, opt := range opts {
		opt(&spec)
	}
	e, err := NewEvent(spec)
	require.NoError(t, err)
	return e
}

const testRunID = "0b6f3c1e-4f55-4b8e-9a53-0f1c0f6a2b11"
